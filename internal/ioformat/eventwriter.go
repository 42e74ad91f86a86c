package ioformat

import (
	"io"

	"github.com/tinylib/msgp/msgp"

	"qsim/internal/events"
	"qsim/internal/ids"
)

// Event type tags for the binary frame format (§6: "events.{rank}.binpb").
const (
	tagActStart = iota
	tagActEnd
	tagDeparture
	tagArrival
	tagTravelled
	tagPersonEntersVehicle
	tagPersonLeavesVehicle
	tagLinkEnter
	tagLinkLeave
	tagGeneric
)

// EventWriter is an events.Subscriber that frames one (tick, count,
// events...) block per tick into w, flushing whenever the tick advances
// and on Finish. Grounded on sim/report.go's "accumulate then flush" writer
// shape, generalized from CSV rows to msgp-encoded event frames.
type EventWriter struct {
	w       io.Writer
	tick    uint32
	started bool
	buf     []events.Event
	err     error
}

// NewEventWriter wraps w (typically an events.{rank}.binpb file).
func NewEventWriter(w io.Writer) *EventWriter {
	return &EventWriter{w: w}
}

// Err returns the first write error encountered, if any.
func (ew *EventWriter) Err() error { return ew.err }

func (ew *EventWriter) ReceiveEvent(now uint32, ev events.Event) {
	if ew.started && now != ew.tick {
		ew.flush()
	}
	ew.tick = now
	ew.started = true
	ew.buf = append(ew.buf, ev)
}

func (ew *EventWriter) Finish() {
	if ew.started {
		ew.flush()
	}
}

func (ew *EventWriter) flush() {
	b := msgp.AppendUint32(nil, ew.tick)
	b = msgp.AppendUint32(b, uint32(len(ew.buf)))
	for _, ev := range ew.buf {
		b = appendEvent(b, ev)
	}
	if _, err := ew.w.Write(b); err != nil && ew.err == nil {
		ew.err = err
	}
	ew.buf = ew.buf[:0]
}

func appendEvent(b []byte, ev events.Event) []byte {
	switch e := ev.(type) {
	case events.ActStart:
		b = msgp.AppendUint8(b, tagActStart)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Type))
	case events.ActEnd:
		b = msgp.AppendUint8(b, tagActEnd)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Type))
	case events.Departure:
		b = msgp.AppendUint8(b, tagDeparture)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Mode))
	case events.Arrival:
		b = msgp.AppendUint8(b, tagArrival)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Mode))
	case events.Travelled:
		b = msgp.AppendUint8(b, tagTravelled)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendFloat64(b, e.Distance)
	case events.PersonEntersVehicle:
		b = msgp.AppendUint8(b, tagPersonEntersVehicle)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Vehicle))
	case events.PersonLeavesVehicle:
		b = msgp.AppendUint8(b, tagPersonLeavesVehicle)
		b = msgp.AppendUint32(b, uint32(e.Agent))
		b = msgp.AppendUint32(b, uint32(e.Vehicle))
	case events.LinkEnter:
		b = msgp.AppendUint8(b, tagLinkEnter)
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Vehicle))
	case events.LinkLeave:
		b = msgp.AppendUint8(b, tagLinkLeave)
		b = msgp.AppendUint32(b, uint32(e.Link))
		b = msgp.AppendUint32(b, uint32(e.Vehicle))
	case events.Generic:
		b = msgp.AppendUint8(b, tagGeneric)
		b = msgp.AppendString(b, e.Name)
		b = msgp.AppendMapHeader(b, uint32(len(e.Attrs)))
		for k, v := range e.Attrs {
			b = msgp.AppendString(b, k)
			b = msgp.AppendString(b, v)
		}
	}
	return b
}

// TickFrame is one decoded (tick, events) frame, produced by ReadFrame and
// DecodeAll and consumed by Merge.
type TickFrame struct {
	Tick   uint32
	Events []events.Event
}

// ReadFrame decodes one frame from the front of b, returning the unconsumed
// remainder. Returns io.EOF (wrapped as nil frame) when b is exhausted.
func ReadFrame(b []byte) (*TickFrame, []byte, error) {
	if len(b) == 0 {
		return nil, b, io.EOF
	}
	tick, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return nil, b, err
	}
	count, b, err := msgp.ReadUint32Bytes(b)
	if err != nil {
		return nil, b, err
	}
	frame := &TickFrame{Tick: tick, Events: make([]events.Event, 0, count)}
	for i := uint32(0); i < count; i++ {
		var ev events.Event
		ev, b, err = readEvent(b)
		if err != nil {
			return nil, b, err
		}
		frame.Events = append(frame.Events, ev)
	}
	return frame, b, nil
}

func readEvent(b []byte) (events.Event, []byte, error) {
	tag, b, err := msgp.ReadUint8Bytes(b)
	if err != nil {
		return nil, b, err
	}
	switch tag {
	case tagActStart, tagActEnd:
		var agent, link, typ uint32
		agent, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		link, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		typ, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		if tag == tagActStart {
			return events.ActStart{Agent: ids.AgentID(agent), Link: ids.LinkID(link), Type: ids.ActivityTypeID(typ)}, b, nil
		}
		return events.ActEnd{Agent: ids.AgentID(agent), Link: ids.LinkID(link), Type: ids.ActivityTypeID(typ)}, b, nil
	case tagDeparture, tagArrival:
		var agent, link, mode uint32
		agent, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		link, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		mode, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		if tag == tagDeparture {
			return events.Departure{Agent: ids.AgentID(agent), Link: ids.LinkID(link), Mode: ids.ModeID(mode)}, b, nil
		}
		return events.Arrival{Agent: ids.AgentID(agent), Link: ids.LinkID(link), Mode: ids.ModeID(mode)}, b, nil
	case tagTravelled:
		var agent uint32
		agent, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		var dist float64
		dist, b, err = msgp.ReadFloat64Bytes(b)
		if err != nil {
			return nil, b, err
		}
		return events.Travelled{Agent: ids.AgentID(agent), Distance: dist}, b, nil
	case tagPersonEntersVehicle, tagPersonLeavesVehicle:
		var agent, veh uint32
		agent, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		veh, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		if tag == tagPersonEntersVehicle {
			return events.PersonEntersVehicle{Agent: ids.AgentID(agent), Vehicle: ids.VehicleID(veh)}, b, nil
		}
		return events.PersonLeavesVehicle{Agent: ids.AgentID(agent), Vehicle: ids.VehicleID(veh)}, b, nil
	case tagLinkEnter, tagLinkLeave:
		var link, veh uint32
		link, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		veh, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		if tag == tagLinkEnter {
			return events.LinkEnter{Link: ids.LinkID(link), Vehicle: ids.VehicleID(veh)}, b, nil
		}
		return events.LinkLeave{Link: ids.LinkID(link), Vehicle: ids.VehicleID(veh)}, b, nil
	case tagGeneric:
		var name string
		name, b, err = msgp.ReadStringBytes(b)
		if err != nil {
			return nil, b, err
		}
		var n uint32
		n, b, err = msgp.ReadMapHeaderBytes(b)
		if err != nil {
			return nil, b, err
		}
		attrs := make(map[string]string, n)
		for i := uint32(0); i < n; i++ {
			var k, v string
			k, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return nil, b, err
			}
			v, b, err = msgp.ReadStringBytes(b)
			if err != nil {
				return nil, b, err
			}
			attrs[k] = v
		}
		return events.Generic{Name: name, Attrs: attrs}, b, nil
	default:
		return nil, b, errUnknownTag(tag)
	}
}

type errUnknownTag uint8

func (e errUnknownTag) Error() string {
	return "ioformat: unknown event tag in binpb stream"
}
