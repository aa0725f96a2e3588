// Package codec names the encoding surface the channel layer needs, so
// transports stay independent of the concrete wire format.
package codec

import "io"

type Encoder interface {
	Encode(v any) error
}

type Decoder interface {
	Decode(v any) error
}

// Marshaler encodes outgoing frames and payloads.
type Marshaler interface {
	Marshal(v any) ([]byte, error)
	NewEncoder(w io.Writer) Encoder
}

// Unmarshaler decodes incoming frames. Message.Decode keeps a reference to
// it so handlers can decode their payload lazily.
type Unmarshaler interface {
	Unmarshal(data []byte, dst any) error
	NewDecoder(r io.Reader) Decoder
}

// Codec is the pair both ends of a channel must agree on.
type Codec interface {
	Marshaler
	Unmarshaler
}
