package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/ids"
	"qsim/internal/network"
)

func TestMessageMarshalUnmarshalRoundTrip(t *testing.T) {
	original := Message{
		From: 1,
		To:   2,
		Tick: 99,
		Vehicles: []network.Vehicle{
			{ID: 10, Type: 1, PCE: 1.5, MaxV: 13.4, RouteIndex: 2, Agent: 7, Cursor: 3},
		},
		Routes: []*network.NetworkRoute{
			{Vehicle: 10, Links: []ids.LinkID{1, 2, 3}, Distance: 250.5},
		},
		Caps: []CapReport{
			{Link: 4, Used: 2.0},
		},
		Teleports: []TeleportArrival{
			{Agent: 8, Mode: 1, EndLink: 5, TravelTime: 120, Distance: 800, Cursor: 5},
		},
	}

	b := original.MarshalMsg(nil)

	var decoded Message
	rest, err := decoded.UnmarshalMsg(b)
	require.NoError(t, err)
	require.Empty(t, rest, "UnmarshalMsg should consume the entire buffer")

	require.Equal(t, original.From, decoded.From)
	require.Equal(t, original.To, decoded.To)
	require.Equal(t, original.Tick, decoded.Tick)

	require.Len(t, decoded.Vehicles, 1)
	require.Equal(t, original.Vehicles[0], decoded.Vehicles[0], "Cursor must round-trip for cross-partition hand-off")

	require.Len(t, decoded.Routes, 1)
	require.NotNil(t, decoded.Routes[0])
	require.Equal(t, original.Routes[0], decoded.Routes[0])

	require.Equal(t, original.Caps, decoded.Caps)

	require.Len(t, decoded.Teleports, 1)
	require.Equal(t, original.Teleports[0], decoded.Teleports[0], "Cursor must round-trip")
}

func TestMessageMarshalUnmarshalWithNilRoute(t *testing.T) {
	original := Message{From: 0, To: 1, Tick: 5, Routes: []*network.NetworkRoute{nil}}
	b := original.MarshalMsg(nil)

	var decoded Message
	_, err := decoded.UnmarshalMsg(b)
	require.NoError(t, err)
	require.Len(t, decoded.Routes, 1)
	require.Nil(t, decoded.Routes[0])
}

func TestMessageMarshalUnmarshalEmptyMessage(t *testing.T) {
	original := Message{From: 3, To: 4, Tick: 0}
	b := original.MarshalMsg(nil)

	var decoded Message
	rest, err := decoded.UnmarshalMsg(b)
	require.NoError(t, err)
	require.Empty(t, rest)
	require.Empty(t, decoded.Vehicles)
	require.Empty(t, decoded.Routes)
	require.Empty(t, decoded.Caps)
	require.Empty(t, decoded.Teleports)
}
