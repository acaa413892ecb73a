// Package discovery encodes and decodes the offer records a skeleton
// publishes so proxies can find the endpoint of an offered service instance.
package discovery

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kanengo/someipc/internal/net/ipc"
)

// OfferRecord describes one offered service instance.
type OfferRecord struct {
	Ident ipc.ServiceIdentity

	// Addr is the dialable endpoint, e.g. "tcp://10.0.0.3:31000".
	Addr string

	// Token distinguishes re-offers of the same identity from each other.
	Token string

	// OfferedAtUnix is when the offer was published, in unix seconds.
	OfferedAtUnix int64
}

// Encode marshals the record to a base64 string for publication.
func (r *OfferRecord) Encode() (string, error) {
	s, err := structpb.NewStruct(map[string]any{
		"service":  float64(r.Ident.Service),
		"instance": float64(r.Ident.Instance),
		"major":    float64(r.Ident.Major),
		"addr":     r.Addr,
		"token":    r.Token,
		"offered":  float64(r.OfferedAtUnix),
	})
	if err != nil {
		return "", err
	}

	data, err := proto.Marshal(s)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeOfferRecord unmarshals a record published with Encode.
func DecodeOfferRecord(in string) (*OfferRecord, error) {
	data, err := base64.StdEncoding.DecodeString(in)
	if err != nil {
		return nil, err
	}

	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, err
	}

	fields := s.GetFields()
	num := func(key string) (float64, error) {
		v, ok := fields[key]
		if !ok {
			return 0, fmt.Errorf("offer record missing field %q", key)
		}
		return v.GetNumberValue(), nil
	}

	service, err := num("service")
	if err != nil {
		return nil, err
	}
	instance, err := num("instance")
	if err != nil {
		return nil, err
	}
	major, err := num("major")
	if err != nil {
		return nil, err
	}
	offered, err := num("offered")
	if err != nil {
		return nil, err
	}

	r := &OfferRecord{
		Ident: ipc.ServiceIdentity{
			Service:  uint16(service),
			Instance: uint16(instance),
			Major:    uint8(major),
		},
		Addr:          fields["addr"].GetStringValue(),
		Token:         fields["token"].GetStringValue(),
		OfferedAtUnix: int64(offered),
	}
	if r.Addr == "" {
		return nil, fmt.Errorf("offer record missing field %q", "addr")
	}

	return r, nil
}

// Key is the storage key an offer record lives under, a prefix scan over
// KeyPrefix(ident) finds every record for that identity.
func Key(ident ipc.ServiceIdentity, token string) string {
	return KeyPrefix(ident) + token
}

// KeyPrefix is the common prefix of all offer records for ident.
func KeyPrefix(ident ipc.ServiceIdentity) string {
	return fmt.Sprintf("someipc/offers/%d/%d/%d/", ident.Service, ident.Instance, ident.Major)
}
