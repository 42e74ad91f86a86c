package transport

import (
	"github.com/tinylib/msgp/msgp"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// MarshalMsg appends the msgp encoding of msg to b and returns the result,
// framing the same way internal/ids.Registry does: explicit Append* calls
// rather than generated (De)serialize methods, since no .go:generate step
// runs in this build.
func (msg *Message) MarshalMsg(b []byte) []byte {
	b = msgp.AppendArrayHeader(b, 6)
	b = msgp.AppendUint32(b, msg.From)
	b = msgp.AppendUint32(b, msg.To)
	b = msgp.AppendUint32(b, msg.Tick)

	b = msgp.AppendArrayHeader(b, uint32(len(msg.Vehicles)))
	for i := range msg.Vehicles {
		b = appendVehicle(b, &msg.Vehicles[i])
	}

	b = msgp.AppendArrayHeader(b, uint32(len(msg.Routes)))
	for _, r := range msg.Routes {
		b = appendRoute(b, r)
	}

	b = msgp.AppendArrayHeader(b, uint32(len(msg.Caps)))
	for _, c := range msg.Caps {
		b = msgp.AppendArrayHeader(b, 2)
		b = msgp.AppendUint32(b, uint32(c.Link))
		b = msgp.AppendFloat64(b, c.Used)
	}

	b = msgp.AppendArrayHeader(b, uint32(len(msg.Teleports)))
	for _, t := range msg.Teleports {
		b = msgp.AppendArrayHeader(b, 6)
		b = msgp.AppendUint32(b, uint32(t.Agent))
		b = msgp.AppendUint32(b, uint32(t.Mode))
		b = msgp.AppendUint32(b, uint32(t.EndLink))
		b = msgp.AppendUint32(b, t.TravelTime)
		b = msgp.AppendFloat64(b, t.Distance)
		b = msgp.AppendInt(b, t.Cursor)
	}
	return b
}

func appendVehicle(b []byte, v *network.Vehicle) []byte {
	b = msgp.AppendArrayHeader(b, 7)
	b = msgp.AppendUint32(b, uint32(v.ID))
	b = msgp.AppendUint32(b, uint32(v.Type))
	b = msgp.AppendFloat64(b, v.PCE)
	b = msgp.AppendFloat64(b, v.MaxV)
	b = msgp.AppendInt(b, v.RouteIndex)
	b = msgp.AppendUint32(b, uint32(v.Agent))
	b = msgp.AppendInt(b, v.Cursor)
	return b
}

func appendRoute(b []byte, r *network.NetworkRoute) []byte {
	if r == nil {
		return msgp.AppendNil(b)
	}
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendUint32(b, uint32(r.Vehicle))
	b = msgp.AppendArrayHeader(b, uint32(len(r.Links)))
	for _, l := range r.Links {
		b = msgp.AppendUint32(b, uint32(l))
	}
	b = msgp.AppendFloat64(b, r.Distance)
	return b
}

// UnmarshalMsg decodes a Message previously produced by MarshalMsg from the
// front of b, returning the unconsumed remainder.
func (msg *Message) UnmarshalMsg(b []byte) ([]byte, error) {
	n, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	_ = n // always 6; not re-validated, trusting the writer

	msg.From, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	msg.To, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	msg.Tick, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}

	var vn uint32
	vn, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	msg.Vehicles = make([]network.Vehicle, vn)
	for i := uint32(0); i < vn; i++ {
		b, err = readVehicle(b, &msg.Vehicles[i])
		if err != nil {
			return b, err
		}
	}

	var rn uint32
	rn, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	msg.Routes = make([]*network.NetworkRoute, rn)
	for i := uint32(0); i < rn; i++ {
		msg.Routes[i], b, err = readRoute(b)
		if err != nil {
			return b, err
		}
	}

	var cn uint32
	cn, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	msg.Caps = make([]CapReport, cn)
	for i := uint32(0); i < cn; i++ {
		_, b, err = msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return b, err
		}
		var link uint32
		link, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return b, err
		}
		msg.Caps[i].Link = ids.LinkID(link)
		msg.Caps[i].Used, b, err = msgp.ReadFloat64Bytes(b)
		if err != nil {
			return b, err
		}
	}

	var tn uint32
	tn, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	msg.Teleports = make([]TeleportArrival, tn)
	for i := uint32(0); i < tn; i++ {
		_, b, err = msgp.ReadArrayHeaderBytes(b)
		if err != nil {
			return b, err
		}
		var agent, mode, endLink uint32
		agent, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return b, err
		}
		mode, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return b, err
		}
		endLink, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return b, err
		}
		t := &msg.Teleports[i]
		t.Agent = ids.AgentID(agent)
		t.Mode = ids.ModeID(mode)
		t.EndLink = ids.LinkID(endLink)
		t.TravelTime, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return b, err
		}
		t.Distance, b, err = msgp.ReadFloat64Bytes(b)
		if err != nil {
			return b, err
		}
		t.Cursor, b, err = msgp.ReadIntBytes(b)
		if err != nil {
			return b, err
		}
	}
	return b, nil
}

func readVehicle(b []byte, v *network.Vehicle) ([]byte, error) {
	_, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	var id, typ, agent uint32
	id, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	typ, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	v.ID = ids.VehicleID(id)
	v.Type = ids.VehicleTypeID(typ)
	v.PCE, b, err = msgp.ReadFloat64Bytes(b)
	if err != nil {
		return b, err
	}
	v.MaxV, b, err = msgp.ReadFloat64Bytes(b)
	if err != nil {
		return b, err
	}
	v.RouteIndex, b, err = msgp.ReadIntBytes(b)
	if err != nil {
		return b, err
	}
	agent, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return b, err
	}
	v.Agent = ids.AgentID(agent)
	v.Cursor, b, err = msgp.ReadIntBytes(b)
	if err != nil {
		return b, err
	}
	return b, nil
}

func readRoute(b []byte) (*network.NetworkRoute, []byte, error) {
	if msgp.IsNil(b) {
		return nil, b[msgp.NilSize:], nil
	}
	_, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	r := &network.NetworkRoute{}
	var veh uint32
	veh, b, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return nil, b, err
	}
	r.Vehicle = ids.VehicleID(veh)

	var n uint32
	n, b, err = msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return nil, b, err
	}
	r.Links = make([]ids.LinkID, n)
	for i := uint32(0); i < n; i++ {
		var l uint32
		l, b, err = msgp.ReadUint32Bytes(b)
		if err != nil {
			return nil, b, err
		}
		r.Links[i] = ids.LinkID(l)
	}

	r.Distance, b, err = msgp.ReadFloat64Bytes(b)
	if err != nil {
		return nil, b, err
	}
	return r, b, nil
}
