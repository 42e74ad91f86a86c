// Package engine implements the simulation driver: the per-tick wakeup →
// teleport-arrivals → move-nodes → move-links → synchronize sequence, and
// the activity/teleportation time-indexed queues that feed it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"qsim/internal/broker"
	"qsim/internal/events"
	"qsim/internal/garage"
	"qsim/internal/ids"
	"qsim/internal/network"
	"qsim/internal/obs"
	"qsim/internal/partition"
	"qsim/internal/pq"
	"qsim/internal/replan"
	"qsim/internal/transport"
)

// Fault is panicked on any invariant violation or unrecoverable
// communication failure (§7): malformed input is caught earlier, at setup,
// and never reaches here.
type Fault struct {
	Rank   uint32
	Tick   uint32
	Reason string
}

func (f Fault) Error() string {
	return fmt.Sprintf("partition %d, tick %d: %s", f.Rank, f.Tick, f.Reason)
}

func panicFault(rank, tick uint32, format string, args ...any) {
	panic(Fault{Rank: rank, Tick: tick, Reason: fmt.Sprintf(format, args...)})
}

// teleportEntry is what the teleportation queue holds: enough to finish an
// agent's teleported leg on arrival.
type teleportEntry struct {
	Agent ids.AgentID
	Mode  ids.ModeID
	Link  ids.LinkID // the leg's end link
	Dist  float64
}

// Engine owns one partition's full tick-loop state: the network, the
// population it is responsible for waking, the garage, the local partition
// and its broker, and the two time-indexed queues.
type Engine struct {
	Rank    uint32
	Now     uint32
	EndTime uint32

	Net    *network.Network
	Agents map[ids.AgentID]*network.Agent

	Garage    *garage.Garage
	Partition *partition.Partition
	Broker    *broker.Broker
	Pub       *events.Publisher
	Modifier  replan.Modifier // optional; nil means never replan

	activityQ  *pq.Queue[ids.AgentID]
	teleportQ  *pq.Queue[teleportEntry]
	routes     map[ids.VehicleID]*network.NetworkRoute

	linkPartition func(ids.LinkID) uint32

	// ReceiveTimeout bounds each tick's synchronize step (§5's receive
	// timeout); zero means no per-tick deadline is imposed beyond ctx's own.
	ReceiveTimeout time.Duration

	Log zerolog.Logger
}

// New builds an Engine. linkPartition resolves any link id (local or
// remote) to its owning partition rank, used to decide whether a
// TELEPORTED leg stays local or crosses a boundary.
func New(rank uint32, endTime uint32, net *network.Network, agents map[ids.AgentID]*network.Agent,
	g *garage.Garage, p *partition.Partition, b *broker.Broker, pub *events.Publisher,
	linkPartition func(ids.LinkID) uint32, log zerolog.Logger) *Engine {
	return &Engine{
		Rank:          rank,
		EndTime:       endTime,
		Net:           net,
		Agents:        agents,
		Garage:        g,
		Partition:     p,
		Broker:        b,
		Pub:           pub,
		activityQ:     pq.New[ids.AgentID](),
		teleportQ:     pq.New[teleportEntry](),
		routes:        make(map[ids.VehicleID]*network.NetworkRoute),
		linkPartition: linkPartition,
		Log:           log,
	}
}

// RouteOf resolves the NetworkRoute a vehicle is currently following, or
// nil if the vehicle is not presently routed through the network (e.g.
// still parked or on a teleported leg). Exposed so a partition can be
// constructed with a qnet.RouteOf closure before the Engine that owns the
// backing route table exists yet (construct the closure first, capture the
// Engine pointer, assign it once New returns).
func (e *Engine) RouteOf(veh ids.VehicleID) *network.NetworkRoute {
	return e.routes[veh]
}

// Seed adds agent to the activity queue at startTime — called once per
// agent at population load, for every agent whose first activity's link
// belongs to this partition.
func (e *Engine) Seed(agent ids.AgentID, startTime uint32) {
	e.activityQ.Add(agent, pq.Time(startTime))
}

// Run drives the tick loop until Now exceeds EndTime, then finalizes the
// event publisher. ctx is the parent for every tick's synchronize step;
// ReceiveTimeout additionally bounds each individual tick's receive wait.
func (e *Engine) Run(ctx context.Context) error {
	for e.Now <= e.EndTime {
		if err := e.tick(ctx); err != nil {
			return err
		}
		e.Now++
	}
	e.Pub.Finish()
	e.Log.Info().Uint32("end_time", e.EndTime).Msg("partition finished")
	return nil
}

func (e *Engine) tick(ctx context.Context) error {
	tlog := obs.Tick(e.Log, e.Now)
	tlog.Debug().Msg("tick")

	e.wakeup()
	e.teleportArrivals()
	e.moveNodes()
	e.moveLinks()

	tickCtx := ctx
	if e.ReceiveTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, e.ReceiveTimeout)
		defer cancel()
	}
	return e.synchronize(tickCtx)
}

// wakeup implements §4.8 step 1.
func (e *Engine) wakeup() {
	now := e.Now
	for _, agentID := range e.activityQ.Pop(pq.Time(now)) {
		agent, ok := e.Agents[agentID]
		if !ok {
			panicFault(e.Rank, now, "activity queue woke unknown agent %d", agentID)
		}

		act, isAct := agent.CurrentActivity()
		if !isAct {
			panicFault(e.Rank, now, "agent %d woke on a non-activity plan element", agentID)
		}
		if e.Modifier != nil {
			e.Modifier.Modify(agent, now)
		}
		e.Pub.Publish(now, events.ActEnd{Agent: agentID, Link: act.Link, Type: act.Type})

		if !agent.Advance() {
			panicFault(e.Rank, now, "agent %d has no leg following its activity", agentID)
		}
		leg, isLeg := agent.CurrentLeg()
		if !isLeg {
			panicFault(e.Rank, now, "agent %d's plan cursor landed on a non-leg element after an activity", agentID)
		}

		startLink := legStartLink(leg)
		e.Pub.Publish(now, events.Departure{Agent: agentID, Link: startLink, Mode: leg.Mode})

		veh := e.Garage.UnparkVeh(agentID, leg.Mode)
		vt, ok := e.Garage.VehicleType(veh.Type)
		if !ok {
			panicFault(e.Rank, now, "vehicle %d has unknown type %d", veh.ID, veh.Type)
		}

		if vt.LevelOfDetail == network.Network {
			e.Pub.Publish(now, events.PersonEntersVehicle{Agent: agentID, Vehicle: veh.ID})
			veh.Cursor = agent.Cursor
			e.routes[veh.ID] = leg.Route.Network
			e.Partition.SendVehEnRoute(veh, now)
			continue
		}

		// TELEPORTED: no network vehicle entity is actually used, so
		// park it straight back to respect the "owned by exactly one
		// place" invariant.
		e.Garage.ParkVeh(veh)
		g := leg.Route.Generic
		if e.linkPartition(g.StartLink) == e.linkPartition(g.EndLink) {
			e.teleportQ.Add(teleportEntry{Agent: agentID, Mode: leg.Mode, Link: g.EndLink, Dist: g.Distance}, pq.Time(now+g.TravelTime))
		} else {
			e.Broker.AddTeleport(transport.TeleportArrival{
				Agent: agentID, Mode: leg.Mode, EndLink: g.EndLink,
				TravelTime: g.TravelTime, Distance: g.Distance,
				Cursor: agent.Cursor,
			}, now)
		}
	}
}

func legStartLink(leg *network.Leg) ids.LinkID {
	if leg.Route.Network != nil {
		return leg.Route.Network.StartLink()
	}
	return leg.Route.Generic.StartLink
}

// teleportArrivals implements §4.8 step 2.
func (e *Engine) teleportArrivals() {
	now := e.Now
	for _, t := range e.teleportQ.Pop(pq.Time(now)) {
		e.Pub.Publish(now, events.Travelled{Agent: t.Agent, Distance: t.Dist})
		e.Pub.Publish(now, events.Arrival{Agent: t.Agent, Link: t.Link, Mode: t.Mode})
		e.finishLeg(t.Agent, now)
	}
}

// finishLeg advances an agent's plan cursor onto its next activity, emits
// act-start, and either drops the agent (plan exhausted) or re-queues it.
// Shared by teleport arrivals and network-exit arrivals (§4.8 steps 2–3).
func (e *Engine) finishLeg(agentID ids.AgentID, now uint32) {
	agent, ok := e.Agents[agentID]
	if !ok {
		panicFault(e.Rank, now, "arrival for unknown agent %d", agentID)
	}
	if !agent.Advance() {
		panicFault(e.Rank, now, "agent %d has no activity following its leg", agentID)
	}
	act, isAct := agent.CurrentActivity()
	if !isAct {
		panicFault(e.Rank, now, "agent %d's plan cursor landed on a non-activity element after a leg", agentID)
	}
	e.Pub.Publish(now, events.ActStart{Agent: agentID, Link: act.Link, Type: act.Type})
	if agent.Done() {
		return
	}
	e.activityQ.Add(agentID, pq.Time(act.EndAt(now)))
}

// moveNodes implements §4.8 step 3.
func (e *Engine) moveNodes() {
	now := e.Now
	for _, veh := range e.Partition.MoveNodes(now) {
		e.Pub.Publish(now, events.PersonLeavesVehicle{Agent: veh.Agent, Vehicle: veh.ID})
		e.Garage.ParkVeh(veh)

		r, ok := e.routes[veh.ID]
		if !ok {
			panicFault(e.Rank, now, "vehicle %d exited with no tracked route", veh.ID)
		}
		agent := e.Agents[veh.Agent]
		leg, isLeg := agent.CurrentLeg()
		if !isLeg {
			panicFault(e.Rank, now, "vehicle %d's agent %d is not mid-leg at exit", veh.ID, veh.Agent)
		}
		e.Pub.Publish(now, events.Arrival{Agent: veh.Agent, Link: r.EndLink(), Mode: leg.Mode})
		delete(e.routes, veh.ID)
		e.finishLeg(veh.Agent, now)
	}
}

// moveLinks implements §4.8 step 4.
func (e *Engine) moveLinks() {
	now := e.Now
	outbound, reports := e.Partition.MoveLinks(now)
	for _, ov := range outbound {
		route, ok := e.routes[ov.Vehicle.ID]
		if !ok {
			panicFault(e.Rank, now, "outbound vehicle %d has no tracked route", ov.Vehicle.ID)
		}
		e.Broker.AddVeh(ov.Vehicle, route, now)
		delete(e.routes, ov.Vehicle.ID)
	}
	for _, r := range reports {
		e.Broker.AddCap(r, now)
	}
}

// synchronize implements §4.8 step 5.
func (e *Engine) synchronize(ctx context.Context) error {
	now := e.Now
	msgs, err := e.Broker.SendRecv(ctx, now)
	if err != nil {
		panicFault(e.Rank, now, "synchronize: %v", err)
	}

	for _, msg := range msgs {
		caps := make([]partition.CapReport, len(msg.Caps))
		for i, c := range msg.Caps {
			caps[i] = partition.CapReport{Link: c.Link, Used: c.Used}
		}
		e.Partition.UpdateStorageCaps(caps)

		for i, veh := range msg.Vehicles {
			vt, ok := e.Garage.VehicleType(veh.Type)
			if !ok {
				panicFault(e.Rank, now, "incoming vehicle %d has unknown type %d", veh.ID, veh.Type)
			}
			if vt.LevelOfDetail != network.Network {
				panicFault(e.Rank, now, "incoming vehicle %d is not NETWORK level-of-detail", veh.ID)
			}
			e.routes[veh.ID] = msg.Routes[i]
			if agent, ok := e.Agents[veh.Agent]; ok {
				agent.Cursor = veh.Cursor
			}
			// A message sent this tick cannot be consumed before the next
			// one: the sending partition already ran its own MoveLinks for
			// now, so the vehicle is only available to the receiving
			// partition starting now+1.
			e.Partition.SendVehEnRoute(veh, now+1)
		}

		for _, t := range msg.Teleports {
			if agent, ok := e.Agents[t.Agent]; ok {
				agent.Cursor = t.Cursor
			}
			e.teleportQ.Add(teleportEntry{Agent: t.Agent, Mode: t.Mode, Link: t.EndLink, Dist: t.Distance}, pq.Time(now+1+t.TravelTime))
		}
	}
	return nil
}
