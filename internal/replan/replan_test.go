package replan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/ids"
	"qsim/internal/network"
)

const testMode = ids.ModeID(1)

func modeSet() map[ids.ModeID]struct{} {
	return map[ids.ModeID]struct{}{testMode: {}}
}

// buildDiamondNetwork builds node9 --10--> node0, then two parallel paths
// from node0 to node3 (0--0-->1--1-->3, length 10; and 0--2-->2--3-->3,
// length 2), then node3 --11--> node9, so Route(10, 11, ...) has a clear
// shortest path through the short side.
func buildDiamondNetwork() *network.Network {
	net := network.NewNetwork(10, 12)
	net.Links[0] = network.Link{ID: 0, From: 0, To: 1, Length: 5, Freespeed: 1, Modes: modeSet()}
	net.Links[1] = network.Link{ID: 1, From: 1, To: 3, Length: 5, Freespeed: 1, Modes: modeSet()}
	net.Links[2] = network.Link{ID: 2, From: 0, To: 2, Length: 1, Freespeed: 1, Modes: modeSet()}
	net.Links[3] = network.Link{ID: 3, From: 2, To: 3, Length: 1, Freespeed: 1, Modes: modeSet()}
	net.Links[10] = network.Link{ID: 10, From: 9, To: 0, Length: 0, Freespeed: 1, Modes: modeSet()}
	net.Links[11] = network.Link{ID: 11, From: 3, To: 9, Length: 0, Freespeed: 1, Modes: modeSet()}

	net.Nodes[0] = network.Node{ID: 0, OutLinks: []ids.LinkID{0, 2}}
	net.Nodes[1] = network.Node{ID: 1, OutLinks: []ids.LinkID{1}}
	net.Nodes[2] = network.Node{ID: 2, OutLinks: []ids.LinkID{3}}
	net.Nodes[3] = network.Node{ID: 3}
	net.Nodes[9] = network.Node{ID: 9, OutLinks: []ids.LinkID{10}}
	return net
}

func TestDijkstraRouterPrefersShortestPath(t *testing.T) {
	net := buildDiamondNetwork()
	router := NewDijkstraRouter(net, DefaultEdgeWeight)

	route, err := router.Route(10, 11, testMode, 0)
	require.NoError(t, err)

	require.Equal(t, []ids.LinkID{10, 2, 3, 11}, route.Links)
	require.Equal(t, 2.0, route.Distance, "the short side of the diamond")
}

func TestDijkstraRouterNoPath(t *testing.T) {
	net := buildDiamondNetwork()
	// remove all mode permissions so nothing is traversable.
	for i := range net.Links {
		net.Links[i].Modes = nil
	}
	router := NewDijkstraRouter(net, DefaultEdgeWeight)
	_, err := router.Route(10, 11, testMode, 0)
	require.Error(t, err)
}

func TestAdHocModifierRewritesUpcomingNetworkLeg(t *testing.T) {
	net := buildDiamondNetwork()
	router := NewDijkstraRouter(net, DefaultEdgeWeight)
	mod := &AdHocModifier{Router: router}

	vehID := ids.VehicleID(42)
	agent := &network.Agent{
		Plan: network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{}},
			{Leg: &network.Leg{Mode: testMode, Route: network.Route{Network: &network.NetworkRoute{
				Vehicle: vehID, Links: []ids.LinkID{10, 0, 1, 11}, Distance: 10,
			}}}},
			{Activity: &network.Activity{}},
		}},
		Cursor: 0,
	}

	mod.Modify(agent, 0)

	leg := agent.Plan.Elems[1].Leg
	require.Equal(t, vehID, leg.Route.Network.Vehicle, "must not lose the vehicle id when replacing the route")
	require.Equal(t, 2.0, leg.Route.Network.Distance, "must replan onto the shorter route")
}

func TestAdHocModifierLeavesTeleportedLegUntouched(t *testing.T) {
	mod := &AdHocModifier{Router: NewDijkstraRouter(buildDiamondNetwork(), DefaultEdgeWeight)}
	generic := &network.GenericRoute{StartLink: 10, EndLink: 11, TravelTime: 5}
	agent := &network.Agent{
		Plan: network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{}},
			{Leg: &network.Leg{Mode: testMode, Route: network.Route{Generic: generic}}},
			{Activity: &network.Activity{}},
		}},
	}

	mod.Modify(agent, 0)

	require.Same(t, generic, agent.Plan.Elems[1].Leg.Route.Generic)
}
