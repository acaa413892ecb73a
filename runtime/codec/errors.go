package codec

import "errors"

// CatchPanics converts a recovered codec panic back into an error. Panics
// that did not originate in this package keep propagating.
func CatchPanics(r any) error {
	if r == nil {
		return nil
	}

	err, ok := r.(error)
	if !ok {
		panic(r)
	}

	if errors.As(err, &serializerError{}) || errors.As(err, &deserializerError{}) {
		return err
	}

	panic(r)
}
