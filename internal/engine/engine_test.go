package engine

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"qsim/internal/broker"
	"qsim/internal/events"
	"qsim/internal/garage"
	"qsim/internal/ids"
	"qsim/internal/network"
	"qsim/internal/partition"
	"qsim/internal/qnet"
	"qsim/internal/transport/chanbackend"
)

// recordingSubscriber captures every published event, and the tick it was
// published at, for assertion.
type recordingSubscriber struct {
	events   []events.Event
	ticks    []uint32
	finished bool
}

func (r *recordingSubscriber) ReceiveEvent(now uint32, ev events.Event) {
	r.events = append(r.events, ev)
	r.ticks = append(r.ticks, now)
}
func (r *recordingSubscriber) Finish() { r.finished = true }

// tickOf returns the tick at which the first event matching match was
// published, or false if none matched.
func (r *recordingSubscriber) tickOf(match func(events.Event) bool) (uint32, bool) {
	for i, ev := range r.events {
		if match(ev) {
			return r.ticks[i], true
		}
	}
	return 0, false
}

// buildSingleLinkNetwork returns a two-node, one-link network entirely owned
// by rank 0: node0 --link1--> node1.
func buildSingleLinkNetwork() *network.Network {
	net := network.NewNetwork(2, 2)
	net.Nodes[0] = network.Node{ID: 0, Partition: 0}
	net.Nodes[1] = network.Node{ID: 1, Partition: 0, InLinks: []ids.LinkID{1}}
	net.Links[1] = network.Link{ID: 1, From: 0, To: 1, Length: 10, Freespeed: 10, CapacityPerHour: 3600, Lanes: 1, Partition: 0}
	return net
}

func TestEngineSinglePartitionAgentCompletesNetworkLeg(t *testing.T) {
	net := buildSingleLinkNetwork()

	agentID := ids.AgentID(1)
	modeID := ids.ModeID(1)
	vehTypeID := ids.VehicleTypeID(1)
	vehID := ids.VehicleID(1)

	startEnd := uint32(0)
	agent := &network.Agent{
		ID: agentID,
		Plan: network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{Link: 0, EndTime: &startEnd}},
			{Leg: &network.Leg{Mode: modeID, Route: network.Route{Network: &network.NetworkRoute{Vehicle: vehID, Links: []ids.LinkID{1}}}}},
			{Activity: &network.Activity{Link: 1}},
		}},
	}
	agents := map[ids.AgentID]*network.Agent{agentID: agent}

	vehTypes := map[ids.VehicleTypeID]network.VehicleType{
		vehTypeID: {ID: vehTypeID, MaxSpeed: 10, PCE: 1.0, LevelOfDetail: network.Network, NetworkMode: modeID},
	}
	g := garage.New(vehTypes)
	g.AssignVehicle(agentID, modeID, vehID, vehTypeID)

	rng := rand.New(rand.NewSource(1))
	sub := &recordingSubscriber{}
	pub := events.NewPublisher()
	pub.Subscribe(sub)

	var eng *Engine
	routeOf := func(v ids.VehicleID) *network.NetworkRoute { return eng.RouteOf(v) }
	part := partition.New(0, routeOf, rng, pub)
	link1 := net.Link(1)
	local1 := qnet.NewLocal(link1, 1.0, 1.0)
	part.AddLocal(local1)
	part.AddNode(qnet.NewNode(1, []qnet.InLink{local1}, []float64{1.0}))

	comm := chanbackend.NewHub().Backend(0)
	bro := broker.New(0, comm, func(ids.LinkID) uint32 { return 0 }, part.Neighbors())

	eng = New(0, 4, net, agents, g, part, bro, pub, func(ids.LinkID) uint32 { return 0 }, zerolog.Nop())
	eng.Seed(agentID, 0)

	require.NoError(t, eng.Run(context.Background()))

	require.True(t, agent.Done(), "agent plan not completed by end of run")
	require.True(t, g.IsParked(vehID), "vehicle not parked after completing its network leg")
	require.Empty(t, eng.routes, "engine still tracking routes after vehicle exit")
	require.True(t, sub.finished, "subscriber Finish() not called by Run()")

	var departures, arrivals, enters, leaves int
	for _, ev := range sub.events {
		switch ev.(type) {
		case events.Departure:
			departures++
		case events.Arrival:
			arrivals++
		case events.PersonEntersVehicle:
			enters++
		case events.PersonLeavesVehicle:
			leaves++
		}
	}
	require.Equal(t, arrivals, departures, "event parity")
	require.Equal(t, leaves, enters, "event parity")
}

func TestEngineSinglePartitionTeleportedLeg(t *testing.T) {
	net := network.NewNetwork(1, 2)
	net.Links[0] = network.Link{ID: 0, Partition: 0}
	net.Links[1] = network.Link{ID: 1, Partition: 0}

	agentID := ids.AgentID(1)
	modeID := ids.ModeID(2)
	vehTypeID := ids.VehicleTypeID(2)
	vehID := ids.VehicleID(1)

	startEnd := uint32(0)
	agent := &network.Agent{
		ID: agentID,
		Plan: network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{Link: 0, EndTime: &startEnd}},
			{Leg: &network.Leg{Mode: modeID, Route: network.Route{Generic: &network.GenericRoute{StartLink: 0, EndLink: 1, TravelTime: 3, Distance: 500}}}},
			{Activity: &network.Activity{Link: 1}},
		}},
	}
	agents := map[ids.AgentID]*network.Agent{agentID: agent}

	vehTypes := map[ids.VehicleTypeID]network.VehicleType{
		vehTypeID: {ID: vehTypeID, MaxSpeed: 5, PCE: 1.0, LevelOfDetail: network.Teleported, NetworkMode: modeID},
	}
	g := garage.New(vehTypes)
	g.AssignVehicle(agentID, modeID, vehID, vehTypeID)

	rng := rand.New(rand.NewSource(1))
	pub := events.NewPublisher()
	sub := &recordingSubscriber{}
	pub.Subscribe(sub)

	var eng *Engine
	routeOf := func(v ids.VehicleID) *network.NetworkRoute { return eng.RouteOf(v) }
	part := partition.New(0, routeOf, rng, pub)
	comm := chanbackend.NewHub().Backend(0)
	bro := broker.New(0, comm, func(ids.LinkID) uint32 { return 0 }, part.Neighbors())

	eng = New(0, 5, net, agents, g, part, bro, pub, func(ids.LinkID) uint32 { return 0 }, zerolog.Nop())
	eng.Seed(agentID, 0)

	require.NoError(t, eng.Run(context.Background()))

	require.True(t, agent.Done(), "teleported agent plan not completed")
	require.True(t, g.IsParked(vehID), "teleported vehicle not parked (should be parked immediately at departure)")

	var travelled, departures, arrivals int
	for _, ev := range sub.events {
		switch ev.(type) {
		case events.Travelled:
			travelled++
		case events.Departure:
			departures++
		case events.Arrival:
			arrivals++
		}
	}
	require.Equal(t, 1, travelled)
	require.Equal(t, arrivals, departures)
}

// TestEngineCrossPartitionHandoffResyncsCursor builds the literal S2
// topology (three links in series, L1 owned by partition 0, L2/L3 owned by
// partition 1, L2 a SplitOut on partition 0 and a SplitIn on partition 1)
// across two independently constructed Engines (distinct *network.Agent
// pointers per rank, mirroring two separate processes each with their own
// loaded population copy). It verifies both the receiving partition's agent
// cursor resync via the vehicle's wire-carried Cursor field, and the exact
// tick of the final Arrival: 10 (L1) + 10 (L2) + 10 (L3) + 1 (inter-tick
// hand-off lag), i.e. 31, not 30.
func TestEngineCrossPartitionHandoffResyncsCursor(t *testing.T) {
	net := network.NewNetwork(4, 4)
	net.Nodes[0] = network.Node{ID: 0, Partition: 0}
	net.Nodes[1] = network.Node{ID: 1, Partition: 0, InLinks: []ids.LinkID{1}}
	net.Nodes[2] = network.Node{ID: 2, Partition: 1, InLinks: []ids.LinkID{2}}
	net.Nodes[3] = network.Node{ID: 3, Partition: 1, InLinks: []ids.LinkID{3}}
	net.Links[1] = network.Link{ID: 1, From: 0, To: 1, Length: 100, Freespeed: 10, CapacityPerHour: 3600, Lanes: 1, Partition: 0}
	net.Links[2] = network.Link{ID: 2, From: 1, To: 2, Length: 100, Freespeed: 10, CapacityPerHour: 3600, Lanes: 1, Partition: 1}
	net.Links[3] = network.Link{ID: 3, From: 2, To: 3, Length: 100, Freespeed: 10, CapacityPerHour: 3600, Lanes: 1, Partition: 1}

	linkPartition := func(l ids.LinkID) uint32 { return net.Link(l).Partition }

	agentID := ids.AgentID(7)
	modeID := ids.ModeID(1)
	vehTypeID := ids.VehicleTypeID(1)
	vehID := ids.VehicleID(1)

	startEnd := uint32(0)
	buildPlan := func() network.Plan {
		return network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{Link: 0, EndTime: &startEnd}},
			{Leg: &network.Leg{Mode: modeID, Route: network.Route{Network: &network.NetworkRoute{Vehicle: vehID, Links: []ids.LinkID{1, 2, 3}}}}},
			{Activity: &network.Activity{Link: 3}},
		}}
	}
	agent0 := &network.Agent{ID: agentID, Plan: buildPlan()}
	agent1 := &network.Agent{ID: agentID, Plan: buildPlan()}

	vehTypes := map[ids.VehicleTypeID]network.VehicleType{
		vehTypeID: {ID: vehTypeID, MaxSpeed: 10, PCE: 1.0, LevelOfDetail: network.Network, NetworkMode: modeID},
	}
	garage0 := garage.New(vehTypes)
	garage0.AssignVehicle(agentID, modeID, vehID, vehTypeID)
	garage1 := garage.New(vehTypes)
	garage1.AssignVehicle(agentID, modeID, vehID, vehTypeID)

	hub := chanbackend.NewHub()

	pub0 := events.NewPublisher()
	pub1 := events.NewPublisher()
	sub1 := &recordingSubscriber{}
	pub1.Subscribe(sub1)

	var eng0, eng1 *Engine
	routeOf0 := func(v ids.VehicleID) *network.NetworkRoute { return eng0.RouteOf(v) }
	routeOf1 := func(v ids.VehicleID) *network.NetworkRoute { return eng1.RouteOf(v) }

	part0 := partition.New(0, routeOf0, rand.New(rand.NewSource(1)), pub0)
	local1 := qnet.NewLocal(net.Link(1), 1.0, 1.0)
	part0.AddLocal(local1)
	part0.AddSplitOut(qnet.NewSplitOut(net.Link(2), 1.0, 1.0, 1))
	part0.AddNode(qnet.NewNode(1, []qnet.InLink{local1}, []float64{1.0}))

	part1 := partition.New(1, routeOf1, rand.New(rand.NewSource(2)), pub1)
	splitIn2 := qnet.NewSplitIn(net.Link(2), 1.0, 1.0, 0)
	local3 := qnet.NewLocal(net.Link(3), 1.0, 1.0)
	part1.AddSplitIn(splitIn2)
	part1.AddLocal(local3)
	part1.AddNode(qnet.NewNode(2, []qnet.InLink{splitIn2}, []float64{1.0}))
	part1.AddNode(qnet.NewNode(3, []qnet.InLink{local3}, []float64{1.0}))

	bro0 := broker.New(0, hub.Backend(0), linkPartition, part0.Neighbors())
	bro1 := broker.New(1, hub.Backend(1), linkPartition, part1.Neighbors())

	agents0 := map[ids.AgentID]*network.Agent{agentID: agent0}
	agents1 := map[ids.AgentID]*network.Agent{agentID: agent1}

	eng0 = New(0, 40, net, agents0, garage0, part0, bro0, pub0, linkPartition, zerolog.Nop())
	eng0.Seed(agentID, 0)
	eng1 = New(1, 40, net, agents1, garage1, part1, bro1, pub1, linkPartition, zerolog.Nop())

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return eng0.Run(ctx) })
	g.Go(func() error { return eng1.Run(ctx) })
	require.NoError(t, g.Wait())

	require.True(t, agent1.Done(), "rank 1's agent copy did not complete its plan (cursor=%d); cross-partition cursor resync failed", agent1.Cursor)
	require.True(t, garage1.IsParked(vehID), "vehicle not parked on the receiving partition after completing its route")
	require.Empty(t, eng1.routes, "rank 1 still tracking routes after vehicle exit")

	var arrivals int
	for _, ev := range sub1.events {
		if _, ok := ev.(events.Arrival); ok {
			arrivals++
		}
	}
	require.Equal(t, 1, arrivals, "rank 1 published Arrival events")

	tick, ok := sub1.tickOf(func(ev events.Event) bool { _, ok := ev.(events.Arrival); return ok })
	require.True(t, ok, "no Arrival event recorded")
	require.Equal(t, uint32(31), tick, "10 (L1) + 10 (L2) + 10 (L3) + 1 inter-tick hand-off lag")
}

// TestEngineCrossPartitionTeleportResyncsCursor builds the literal S6
// topology: a teleported ("walk") leg whose start and end links live on
// different partitions. It verifies the remote partition receives the
// vehicle in its next synchronize step and emits Arrival at t=1+travel_time,
// not t=travel_time (S5's local-leg timing).
func TestEngineCrossPartitionTeleportResyncsCursor(t *testing.T) {
	net := network.NewNetwork(1, 2)
	net.Links[0] = network.Link{ID: 0, Partition: 0}
	net.Links[1] = network.Link{ID: 1, Partition: 1}

	linkPartition := func(l ids.LinkID) uint32 { return net.Link(l).Partition }

	agentID := ids.AgentID(9)
	modeID := ids.ModeID(2)
	vehTypeID := ids.VehicleTypeID(2)
	vehID := ids.VehicleID(1)

	startEnd := uint32(0)
	buildPlan := func() network.Plan {
		return network.Plan{Elems: []network.PlanElem{
			{Activity: &network.Activity{Link: 0, EndTime: &startEnd}},
			{Leg: &network.Leg{Mode: modeID, Route: network.Route{Generic: &network.GenericRoute{StartLink: 0, EndLink: 1, TravelTime: 8, Distance: 500}}}},
			{Activity: &network.Activity{Link: 1}},
		}}
	}
	agent0 := &network.Agent{ID: agentID, Plan: buildPlan()}
	agent1 := &network.Agent{ID: agentID, Plan: buildPlan()}

	vehTypes := map[ids.VehicleTypeID]network.VehicleType{
		vehTypeID: {ID: vehTypeID, MaxSpeed: 5, PCE: 1.0, LevelOfDetail: network.Teleported, NetworkMode: modeID},
	}
	garage0 := garage.New(vehTypes)
	garage0.AssignVehicle(agentID, modeID, vehID, vehTypeID)
	garage1 := garage.New(vehTypes)
	garage1.AssignVehicle(agentID, modeID, vehID, vehTypeID)

	hub := chanbackend.NewHub()

	pub0 := events.NewPublisher()
	pub1 := events.NewPublisher()
	sub1 := &recordingSubscriber{}
	pub1.Subscribe(sub1)

	var eng0, eng1 *Engine
	routeOf0 := func(v ids.VehicleID) *network.NetworkRoute { return eng0.RouteOf(v) }
	routeOf1 := func(v ids.VehicleID) *network.NetworkRoute { return eng1.RouteOf(v) }

	part0 := partition.New(0, routeOf0, rand.New(rand.NewSource(1)), pub0)
	part1 := partition.New(1, routeOf1, rand.New(rand.NewSource(2)), pub1)

	bro0 := broker.New(0, hub.Backend(0), linkPartition, map[uint32]struct{}{1: {}})
	bro1 := broker.New(1, hub.Backend(1), linkPartition, map[uint32]struct{}{0: {}})

	agents0 := map[ids.AgentID]*network.Agent{agentID: agent0}
	agents1 := map[ids.AgentID]*network.Agent{agentID: agent1}

	eng0 = New(0, 20, net, agents0, garage0, part0, bro0, pub0, linkPartition, zerolog.Nop())
	eng0.Seed(agentID, 0)
	eng1 = New(1, 20, net, agents1, garage1, part1, bro1, pub1, linkPartition, zerolog.Nop())

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return eng0.Run(ctx) })
	g.Go(func() error { return eng1.Run(ctx) })
	require.NoError(t, g.Wait())

	require.True(t, agent1.Done(), "rank 1's agent copy did not complete its plan; cross-partition teleport resync failed")
	require.True(t, garage1.IsParked(vehID), "teleported vehicle not parked on the receiving partition")

	tick, ok := sub1.tickOf(func(ev events.Event) bool { _, ok := ev.(events.Arrival); return ok })
	require.True(t, ok, "no Arrival event recorded")
	require.Equal(t, uint32(9), tick, "t=1+travel_time (8), not t=travel_time")
}
