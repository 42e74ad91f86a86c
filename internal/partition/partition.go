// Package partition implements one simulation network partition: the
// subset of nodes and links owned by one process, and the operations that
// advance them by one tick.
package partition

import (
	"fmt"
	"math/rand"

	"qsim/internal/events"
	"qsim/internal/ids"
	"qsim/internal/network"
	"qsim/internal/qnet"
)

// CapReport is a storage-cap report destined for the upstream partition of
// a SplitIn link, produced by MoveLinks and consumed by a remote
// partition's UpdateStorageCaps.
type CapReport struct {
	Link      ids.LinkID
	Partition uint32
	Used      float64
}

// OutboundVehicle is a vehicle drained from a SplitOut buffer, destined for
// its downstream partition.
type OutboundVehicle struct {
	Vehicle   network.Vehicle
	Partition uint32
}

// Partition owns a subset of the global network and advances it one tick
// at a time.
type Partition struct {
	Rank uint32

	nodes     map[ids.NodeID]*qnet.Node
	locals    map[ids.LinkID]*qnet.Local
	splitIns  map[ids.LinkID]*qnet.SplitIn
	splitOuts map[ids.LinkID]*qnet.SplitOut

	routeOf qnet.RouteOf
	rng     *rand.Rand
	pub     *events.Publisher
}

// New builds an empty partition for the given rank. routeOf resolves a
// vehicle id to the NetworkRoute it is currently following (owned by the
// engine, which tracks the agent/vehicle/leg relationship); rng is this
// partition's deterministically-seeded RNG (§9: seeded by (global seed,
// rank)).
func New(rank uint32, routeOf qnet.RouteOf, rng *rand.Rand, pub *events.Publisher) *Partition {
	return &Partition{
		Rank:      rank,
		nodes:     make(map[ids.NodeID]*qnet.Node),
		locals:    make(map[ids.LinkID]*qnet.Local),
		splitIns:  make(map[ids.LinkID]*qnet.SplitIn),
		splitOuts: make(map[ids.LinkID]*qnet.SplitOut),
		routeOf:   routeOf,
		rng:       rng,
		pub:       pub,
	}
}

func (p *Partition) AddLocal(l *qnet.Local)       { p.locals[l.LinkID()] = l }
func (p *Partition) AddSplitIn(l *qnet.SplitIn)   { p.splitIns[l.LinkID()] = l }
func (p *Partition) AddSplitOut(l *qnet.SplitOut) { p.splitOuts[l.LinkID()] = l }
func (p *Partition) AddNode(n *qnet.Node)         { p.nodes[n.ID] = n }

// outLink resolves a link id to the OutLink this partition owns for it:
// Local, SplitIn (a vehicle handed off from upstream lands on the SplitIn's
// own queue, which behaves exactly like Local on the push side), or
// SplitOut. Panics if this partition owns none of the three, since a node's
// out-link lookup — or a cross-partition hand-off's landing link — must
// always resolve to something owned locally (§7 invariant violation
// otherwise).
func (p *Partition) outLink(link ids.LinkID) qnet.OutLink {
	if l, ok := p.locals[link]; ok {
		return l
	}
	if l, ok := p.splitIns[link]; ok {
		return l
	}
	if l, ok := p.splitOuts[link]; ok {
		return l
	}
	panic(fmt.Sprintf("partition %d: no owned out-link for link %d", p.Rank, link))
}

// SendVehEnRoute routes veh onto the link identified by its current route
// element, per §4.6.
func (p *Partition) SendVehEnRoute(veh network.Vehicle, now uint32) {
	r := p.routeOf(veh.ID)
	link := veh.CurrentLink(r)
	p.outLink(link).Push(veh, now)
	p.pub.Publish(now, events.LinkEnter{Link: link, Vehicle: veh.ID})
}

// MoveNodes applies §4.5 for every owned node, publishing LinkEnter/
// LinkLeave events as vehicles advance, and returns the vehicles that
// exited the network (reached the end of their route) this tick.
func (p *Partition) MoveNodes(now uint32) []network.Vehicle {
	var exited []network.Vehicle
	for _, node := range p.nodes {
		evs := node.Move(now, p.rng, p.outLink, p.routeOf)
		for _, e := range evs {
			p.pub.Publish(now, events.LinkLeave{Link: e.FromLink, Vehicle: e.Vehicle.ID})
			if e.Exited {
				exited = append(exited, e.Vehicle)
				continue
			}
			p.pub.Publish(now, events.LinkEnter{Link: e.ToLink, Vehicle: e.Vehicle.ID})
		}
	}
	return exited
}

// MoveLinks updates every owned link's flow regulator and applies this
// tick's released storage, drains SplitOut buffers into outbound vehicle
// lists, and collects storage-cap reports for SplitIn links with nonzero
// occupancy, per §4.6.
func (p *Partition) MoveLinks(now uint32) ([]OutboundVehicle, []CapReport) {
	for _, l := range p.locals {
		l.UpdateFlow(now)
	}
	for _, l := range p.splitIns {
		l.UpdateFlow(now)
	}

	var outbound []OutboundVehicle
	for _, l := range p.splitOuts {
		for _, veh := range l.Take() {
			outbound = append(outbound, OutboundVehicle{Vehicle: veh, Partition: l.Downstream})
		}
	}

	var reports []CapReport
	for _, l := range p.splitIns {
		if used := l.Storage().Used(); used > 0 {
			reports = append(reports, CapReport{Link: l.LinkID(), Partition: l.Upstream, Used: used})
		}
	}
	return outbound, reports
}

// UpdateStorageCaps applies incoming storage-cap reports to the matching
// SplitOut links.
func (p *Partition) UpdateStorageCaps(reports []CapReport) {
	for _, r := range reports {
		if l, ok := p.splitOuts[r.Link]; ok {
			l.SetUsedStorage(r.Used)
		}
	}
}

// Neighbors returns the set of remote partition ids sharing at least one
// boundary link with this partition.
func (p *Partition) Neighbors() map[uint32]struct{} {
	out := make(map[uint32]struct{})
	for _, l := range p.splitIns {
		out[l.Upstream] = struct{}{}
	}
	for _, l := range p.splitOuts {
		out[l.Downstream] = struct{}{}
	}
	return out
}

// Local returns the Local link queue for id, if owned by this partition.
func (p *Partition) Local(id ids.LinkID) (*qnet.Local, bool) {
	l, ok := p.locals[id]
	return l, ok
}

// SplitIn returns the SplitIn link queue for id, if owned by this
// partition.
func (p *Partition) SplitIn(id ids.LinkID) (*qnet.SplitIn, bool) {
	l, ok := p.splitIns[id]
	return l, ok
}
