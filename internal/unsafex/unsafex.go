package unsafex

import "unsafe"

// StringToBytes returns a byte slice sharing the string's storage. The
// result must not be modified.
func StringToBytes(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// BytesToString returns a string sharing the slice's storage. The slice must
// not be modified afterwards.
func BytesToString(b []byte) string {
	return unsafe.String(unsafe.SliceData(b), len(b))
}
