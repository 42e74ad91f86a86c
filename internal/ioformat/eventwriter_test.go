package ioformat

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/events"
	"qsim/internal/ids"
)

func TestEventWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWriter(&buf)

	w.ReceiveEvent(0, events.Departure{Agent: 1, Link: 2, Mode: 3})
	w.ReceiveEvent(0, events.PersonEntersVehicle{Agent: 1, Vehicle: 5})
	w.ReceiveEvent(1, events.Arrival{Agent: 1, Link: 9, Mode: 3})
	w.Finish()
	require.NoError(t, w.Err())

	frames, err := DecodeAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, frames, 2, "one frame per distinct tick")

	require.Equal(t, uint32(0), frames[0].Tick)
	require.Len(t, frames[0].Events, 2)
	require.Equal(t, uint32(1), frames[1].Tick)
	require.Len(t, frames[1].Events, 1)

	dep, ok := frames[0].Events[0].(events.Departure)
	require.True(t, ok)
	require.Equal(t, events.Departure{Agent: 1, Link: 2, Mode: 3}, dep)

	arr, ok := frames[1].Events[0].(events.Arrival)
	require.True(t, ok)
	require.Equal(t, ids.AgentID(1), arr.Agent)
	require.Equal(t, ids.LinkID(9), arr.Link)
}

func TestEventWriterGenericEventRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewEventWriter(&buf)
	w.ReceiveEvent(4, events.Generic{Name: "replan", Attrs: map[string]string{"reason": "congestion"}})
	w.Finish()

	frames, err := DecodeAll(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.Len(t, frames[0].Events, 1)

	g, ok := frames[0].Events[0].(events.Generic)
	require.True(t, ok)
	require.Equal(t, "replan", g.Name)
	require.Equal(t, "congestion", g.Attrs["reason"])
}

func TestMergeStableSortsByTick(t *testing.T) {
	rankA := []TickFrame{
		{Tick: 0, Events: []events.Event{events.ActStart{Agent: 1, Link: 1, Type: ids.ActivityTypeID(0)}}},
		{Tick: 2, Events: []events.Event{events.ActEnd{Agent: 1}}},
	}
	rankB := []TickFrame{
		{Tick: 1, Events: []events.Event{events.Departure{Agent: 2}}},
		{Tick: 2, Events: []events.Event{events.Arrival{Agent: 2}}},
	}

	merged := Merge([][]TickFrame{rankA, rankB})
	require.Len(t, merged, 4)
	for i := 1; i < len(merged); i++ {
		require.GreaterOrEqual(t, merged[i].Tick, merged[i-1].Tick, "must be sorted by tick")
	}
	// rankA's tick-2 frame was appended before rankB's tick-2 frame; a stable
	// sort must preserve that relative order.
	require.Equal(t, ids.AgentID(1), merged[2].Events[0].(events.ActEnd).Agent)
}

func TestDecodeAllEmptyBuffer(t *testing.T) {
	frames, err := DecodeAll(nil)
	require.NoError(t, err)
	require.Empty(t, frames)
}
