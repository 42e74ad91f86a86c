package qnet

import (
	"math/rand"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// InLink is the read side of a link queue a node may draw a front vehicle
// from: Local or SplitIn.
type InLink interface {
	Front(now uint32) (*network.Vehicle, bool)
	Pop() network.Vehicle
	LinkID() ids.LinkID
}

// OutLink is the write side of a link queue a node may advance a vehicle
// into: Local, SplitIn (never as a next link from this side, per spec), or
// SplitOut.
type OutLink interface {
	IsAvailable() bool
	Push(veh network.Vehicle, now uint32)
	LinkID() ids.LinkID
}

// RouteOf resolves the NetworkRoute a vehicle is following. Supplied by the
// partition, which owns the map from vehicle to its agent's current leg.
type RouteOf func(vehID ids.VehicleID) *network.NetworkRoute

// LinkEvent records a node-driven vehicle movement for the caller to turn
// into published events (LinkLeave/LinkEnter) and, for exits, the finished
// route's final link.
type LinkEvent struct {
	Vehicle  network.Vehicle
	FromLink ids.LinkID
	ToLink   ids.LinkID // zero value meaningless when Exited is true
	Exited   bool
}

// Node is one owned junction: its in-links, a precomputed capacity-weighted
// sampler over them, and the out-link lookup needed to advance vehicles.
type Node struct {
	ID      ids.NodeID
	InLinks []InLink
	sampler *AliasSampler
}

// NewNode builds a Node and precomputes its in-link sampler from the given
// per-in-link capacities (§9: alias method, precomputed at construction from
// fixed link capacities). len(capacities) must equal len(inLinks).
func NewNode(id ids.NodeID, inLinks []InLink, capacities []float64) *Node {
	n := &Node{ID: id, InLinks: inLinks}
	if len(inLinks) > 0 {
		n.sampler = NewAliasSampler(capacities)
	}
	return n
}

// Move runs §4.5's per-node transition loop once for this tick: repeatedly
// draw a capacity-weighted in-link, try to advance its front vehicle, and
// mark the in-link unavailable on failure, until every in-link has been
// marked unavailable. outLink resolves a link id to its OutLink (owned by
// this partition or a SplitOut boundary buffer); route resolves a vehicle's
// current NetworkRoute.
func (n *Node) Move(now uint32, rng *rand.Rand, outLink func(ids.LinkID) OutLink, route RouteOf) []LinkEvent {
	if len(n.InLinks) == 0 {
		return nil
	}
	unavailable := make([]bool, len(n.InLinks))
	remaining := len(n.InLinks)
	var events []LinkEvent

	for remaining > 0 {
		i := n.sampler.Sample(rng)
		if unavailable[i] {
			continue
		}
		in := n.InLinks[i]

		v, ok := in.Front(now)
		if !ok {
			unavailable[i] = true
			remaining--
			continue
		}

		r := route(v.ID)
		next, hasNext := v.NextLink(r)
		if !hasNext {
			veh := in.Pop()
			events = append(events, LinkEvent{Vehicle: veh, FromLink: in.LinkID(), Exited: true})
			continue
		}

		out := outLink(next)
		if !out.IsAvailable() {
			unavailable[i] = true
			remaining--
			continue
		}

		veh := in.Pop()
		fromLink := in.LinkID()
		veh.RouteIndex++
		out.Push(veh, now)
		events = append(events, LinkEvent{Vehicle: veh, FromLink: fromLink, ToLink: next})
	}
	return events
}
