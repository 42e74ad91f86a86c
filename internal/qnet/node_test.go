package qnet

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/ids"
	"qsim/internal/network"
)

func TestNodeMoveAdvancesVehicleToAvailableOutLink(t *testing.T) {
	inLink := testLink()
	inLink.ID = 1
	in := NewLocal(inLink, 1.0, 1.0)

	outLink := testLink()
	outLink.ID = 2
	out := NewLocal(outLink, 1.0, 1.0)

	veh := network.Vehicle{ID: 100, PCE: 1.0, MaxV: 10, RouteIndex: 0}
	in.Push(veh, 0)
	in.flow.Update(10)

	route := &network.NetworkRoute{Vehicle: veh.ID, Links: []ids.LinkID{1, 2}}
	routeOf := func(v ids.VehicleID) *network.NetworkRoute { return route }
	outLinkOf := func(id ids.LinkID) OutLink {
		if id == 2 {
			return out
		}
		return nil
	}

	node := NewNode(5, []InLink{in}, []float64{1.0})
	rng := rand.New(rand.NewSource(1))
	events := node.Move(10, rng, outLinkOf, routeOf)

	require.Len(t, events, 1)
	require.False(t, events[0].Exited, "expected a hand-off to the out-link, not a route exit")
	require.Equal(t, ids.LinkID(2), events[0].ToLink)
	require.Equal(t, 1, out.Len(), "vehicle should have been pushed onto the out-link")
	require.Equal(t, 0, in.Len(), "vehicle should have left the in-link")
}

func TestNodeMoveReportsRouteExit(t *testing.T) {
	inLink := testLink()
	inLink.ID = 1
	in := NewLocal(inLink, 1.0, 1.0)

	veh := network.Vehicle{ID: 101, PCE: 1.0, MaxV: 10, RouteIndex: 0}
	in.Push(veh, 0)
	in.flow.Update(10)

	route := &network.NetworkRoute{Vehicle: veh.ID, Links: []ids.LinkID{1}}
	routeOf := func(v ids.VehicleID) *network.NetworkRoute { return route }
	outLinkOf := func(id ids.LinkID) OutLink { return nil }

	node := NewNode(5, []InLink{in}, []float64{1.0})
	rng := rand.New(rand.NewSource(1))
	events := node.Move(10, rng, outLinkOf, routeOf)

	require.Len(t, events, 1)
	require.True(t, events[0].Exited)
}

func TestNodeMoveBlockedByDownstreamCapacityLeavesVehicleQueued(t *testing.T) {
	inLink := testLink()
	inLink.ID = 1
	in := NewLocal(inLink, 1.0, 1.0)

	outLink := testLink()
	outLink.ID = 2
	out := NewLocal(outLink, 1.0, 1.0)
	// force the out-link to already be at capacity
	out.storage.Consume(out.storage.Max())

	veh := network.Vehicle{ID: 102, PCE: 1.0, MaxV: 10, RouteIndex: 0}
	in.Push(veh, 0)
	in.flow.Update(10)

	route := &network.NetworkRoute{Vehicle: veh.ID, Links: []ids.LinkID{1, 2}}
	routeOf := func(v ids.VehicleID) *network.NetworkRoute { return route }
	outLinkOf := func(id ids.LinkID) OutLink { return out }

	node := NewNode(5, []InLink{in}, []float64{1.0})
	rng := rand.New(rand.NewSource(1))
	events := node.Move(10, rng, outLinkOf, routeOf)

	require.Empty(t, events, "blocked by a full downstream link")
	require.Equal(t, 1, in.Len(), "vehicle stays queued when blocked")
}

func TestNodeMoveNoInLinksIsNoop(t *testing.T) {
	node := NewNode(9, nil, nil)
	rng := rand.New(rand.NewSource(1))
	events := node.Move(0, rng, func(ids.LinkID) OutLink { return nil }, func(ids.VehicleID) *network.NetworkRoute { return nil })
	require.Nil(t, events)
}
