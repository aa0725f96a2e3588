package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/wire"
)

func TestEncodeDecodeFrame(t *testing.T) {
	c := wire.NewCBOR()
	frame, err := Encode(c, "doc", EventError, ErrorNotice{Code: 409, Message: "stale"})
	require.NoError(t, err)

	msg, err := Decode(c, frame)
	require.NoError(t, err)
	assert.Equal(t, EventError, msg.Event)

	var notice ErrorNotice
	require.NoError(t, msg.Decode(&notice))
	assert.Equal(t, ErrorNotice{Code: 409, Message: "stale"}, notice)
}

func TestEncodeNeedsCodec(t *testing.T) {
	_, err := Encode(nil, "doc", EventError, nil)
	assert.ErrorIs(t, err, constants.ErrNoMarshaler)
	_, err = Decode(nil, nil)
	assert.ErrorIs(t, err, constants.ErrNoUnmarshaler)
	assert.ErrorIs(t, Message{}.Decode(&struct{}{}), constants.ErrNoUnmarshaler)
}

func TestRegistryDispatchOrder(t *testing.T) {
	var r Registry
	var order []int
	r.Add(EventPresence, func(Message) { order = append(order, 1) })
	remove := r.Add(EventPresence, func(Message) { order = append(order, 2) })
	r.Add(EventPresence, func(Message) { order = append(order, 3) })
	r.Add(EventError, func(Message) { order = append(order, 99) })

	assert.Equal(t, 3, r.Dispatch(Message{Event: EventPresence}))
	assert.Equal(t, []int{1, 2, 3}, order)

	remove()
	order = nil
	r.Dispatch(Message{Event: EventPresence})
	assert.Equal(t, []int{1, 3}, order)
	assert.Equal(t, 3, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, r.Dispatch(Message{Event: EventError}))
}

func TestRoomURL(t *testing.T) {
	for base, want := range map[string]string{
		"ws://relay:8090":           "ws://relay:8090/rooms/doc-1",
		"wss://relay.example.com/":  "wss://relay.example.com/rooms/doc-1",
		"http://127.0.0.1:80":       "ws://127.0.0.1:80/rooms/doc-1",
		"https://relay.example.com": "wss://relay.example.com/rooms/doc-1",
	} {
		got, err := RoomURL(base, "doc-1")
		require.NoError(t, err, base)
		assert.Equal(t, want, got, base)
	}

	got, err := RoomURL("ws://relay", "a b/c")
	require.NoError(t, err)
	assert.Equal(t, "ws://relay/rooms/a%20b%2Fc", got)

	_, err = RoomURL("ftp://relay", "doc-1")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	c := wire.NewCBOR()
	assert.ErrorIs(t, (&Config{}).Validate(), constants.ErrNoBaseURL)
	assert.ErrorIs(t, (&Config{BaseURL: "ws://x"}).Validate(), constants.ErrNoMarshaler)
	assert.ErrorIs(t, (&Config{BaseURL: "ws://x", Marshaler: c}).Validate(), constants.ErrNoUnmarshaler)
	assert.NoError(t, (&Config{BaseURL: "ws://x", Marshaler: c, Unmarshaler: c}).Validate())
}
