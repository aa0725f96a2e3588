// Package wire holds the payload codecs used on the message channel and in
// the relay backplane. Both codecs honor the `json` struct tags declared on
// the model types, so a single set of tags describes every encoding.
package wire

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/surrealdb/scenesync/internal/codec"
)

type CborMarshaler struct {
	EncOptions cbor.EncOptions
}

var _ codec.Marshaler = CborMarshaler{}

func (c CborMarshaler) Marshal(v any) ([]byte, error) {
	em, err := c.EncOptions.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

func (c CborMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	em, err := c.EncOptions.EncMode()
	if err != nil {
		panic(err)
	}
	return em.NewEncoder(w)
}

type CborUnmarshaler struct {
	DecOptions cbor.DecOptions
}

var _ codec.Unmarshaler = CborUnmarshaler{}

func (c CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	dm, err := c.decMode()
	if err != nil {
		return err
	}
	return dm.Unmarshal(data, dst)
}

func (c CborUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	dm, err := c.decMode()
	if err != nil {
		panic(err)
	}
	return dm.NewDecoder(r)
}

func (c CborUnmarshaler) decMode() (cbor.DecMode, error) {
	opts := c.DecOptions
	if opts.DefaultMapType == nil {
		// nested app state maps must come back string-keyed
		opts.DefaultMapType = reflect.TypeOf(map[string]any(nil))
	}
	return opts.DecMode()
}

// CBOR is the default codec pair.
type CBOR struct {
	CborMarshaler
	CborUnmarshaler
}

func NewCBOR() *CBOR {
	return &CBOR{}
}
