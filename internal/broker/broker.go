// Package broker implements the inter-partition message broker: it wraps
// a transport.Communicator and a link→partition map, accumulating
// per-neighbor outbound messages and dispatching received ones.
package broker

import (
	"context"
	"fmt"
	"sort"

	"qsim/internal/ids"
	"qsim/internal/network"
	"qsim/internal/partition"
	"qsim/internal/transport"
)

// LinkOwner resolves a link id to the rank of the partition that owns it
// (i.e. the partition of its to-node).
type LinkOwner func(ids.LinkID) uint32

// Broker accumulates this tick's outbound messages per destination rank and
// mediates the synchronous per-tick exchange with every neighbor.
type Broker struct {
	rank      uint32
	comm      transport.Communicator
	linkOwner LinkOwner
	neighbors map[uint32]struct{}

	outbound map[uint32]*transport.Message

	// futureBuffer holds messages received for a tick not yet current,
	// keyed by tick, delivered once SendRecv reaches that tick.
	futureBuffer map[uint32][]transport.Message
}

// New builds a broker for rank, talking through comm, resolving link
// ownership via linkOwner, with the given fixed neighbor set (from
// partition.Neighbors()).
func New(rank uint32, comm transport.Communicator, linkOwner LinkOwner, neighbors map[uint32]struct{}) *Broker {
	return &Broker{
		rank:         rank,
		comm:         comm,
		linkOwner:    linkOwner,
		neighbors:    neighbors,
		outbound:     make(map[uint32]*transport.Message),
		futureBuffer: make(map[uint32][]transport.Message),
	}
}

func (b *Broker) msgFor(dest, now uint32) *transport.Message {
	m, ok := b.outbound[dest]
	if !ok {
		m = &transport.Message{From: b.rank, To: dest, Tick: now}
		b.outbound[dest] = m
	}
	return m
}

// AddVeh accumulates veh, whose current route's current link determines its
// destination partition, into that partition's outbound message for this
// tick.
func (b *Broker) AddVeh(veh network.Vehicle, route *network.NetworkRoute, now uint32) {
	link := veh.CurrentLink(route)
	dest := b.linkOwner(link)
	m := b.msgFor(dest, now)
	m.Vehicles = append(m.Vehicles, veh)
	m.Routes = append(m.Routes, route)
}

// AddTeleport accumulates a remote teleport hand-off, destined for the
// partition owning t.EndLink.
func (b *Broker) AddTeleport(t transport.TeleportArrival, now uint32) {
	dest := b.linkOwner(t.EndLink)
	m := b.msgFor(dest, now)
	m.Teleports = append(m.Teleports, t)
}

// AddCap accumulates a storage-cap report, destined for its reported
// partition (the upstream of the reporting SplitIn link).
func (b *Broker) AddCap(report partition.CapReport, now uint32) {
	m := b.msgFor(report.Partition, now)
	m.Caps = append(m.Caps, transport.CapReport{Link: report.Link, Used: report.Used})
}

// SendRecv implements §4.7's send_recv: ensures every neighbor gets exactly
// one message this tick (inserting empty ones where nothing accumulated),
// hands off to the communicator, and returns every message eligible for
// application at "now" — this tick's arrivals plus any previously buffered
// messages whose tick has now arrived.
func (b *Broker) SendRecv(ctx context.Context, now uint32) ([]transport.Message, error) {
	for n := range b.neighbors {
		b.msgFor(n, now)
	}

	outbound := make(map[uint32]transport.Message, len(b.outbound))
	for dest, m := range b.outbound {
		outbound[dest] = *m
	}
	b.outbound = make(map[uint32]*transport.Message)

	received, err := b.comm.SendReceive(ctx, outbound, b.neighbors)
	if err != nil {
		return nil, fmt.Errorf("broker: rank %d: %w", b.rank, err)
	}

	var deliverNow []transport.Message
	for _, msg := range received {
		if msg.Tick <= now {
			deliverNow = append(deliverNow, msg)
		} else {
			b.futureBuffer[msg.Tick] = append(b.futureBuffer[msg.Tick], msg)
		}
	}
	if buffered, ok := b.futureBuffer[now]; ok {
		deliverNow = append(deliverNow, buffered...)
		delete(b.futureBuffer, now)
	}

	sort.Slice(deliverNow, func(i, j int) bool { return deliverNow[i].Tick < deliverNow[j].Tick })
	return deliverNow, nil
}
