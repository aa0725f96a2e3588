package wire

import (
	"bytes"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/surrealdb/scenesync/internal/codec"
)

const structTag = "json"

type MsgPackMarshaler struct{}

var _ codec.Marshaler = MsgPackMarshaler{}

func (MsgPackMarshaler) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := newMsgPackEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgPackMarshaler) NewEncoder(w io.Writer) codec.Encoder {
	return newMsgPackEncoder(w)
}

func newMsgPackEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag(structTag)
	return enc
}

type MsgPackUnmarshaler struct{}

var _ codec.Unmarshaler = MsgPackUnmarshaler{}

func (MsgPackUnmarshaler) Unmarshal(data []byte, dst any) error {
	return newMsgPackDecoder(bytes.NewReader(data)).Decode(dst)
}

func (MsgPackUnmarshaler) NewDecoder(r io.Reader) codec.Decoder {
	return newMsgPackDecoder(r)
}

func newMsgPackDecoder(r io.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag(structTag)
	return dec
}

type MsgPack struct {
	MsgPackMarshaler
	MsgPackUnmarshaler
}

func NewMsgPack() *MsgPack {
	return &MsgPack{}
}

type Codec = codec.Codec

var (
	_ Codec = (*CBOR)(nil)
	_ Codec = (*MsgPack)(nil)
)

// ByName resolves "cbor" or "msgpack"; anything else falls back to CBOR.
func ByName(name string) Codec {
	if name == "msgpack" {
		return NewMsgPack()
	}
	return NewCBOR()
}
