// Package garage holds the vehicle-type registry and the park/unpark
// bookkeeping that creates and destroys in-flight vehicles at departure and
// arrival.
package garage

import (
	"fmt"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// parkedVehicle is a vehicle currently parked: it exists, but carries no
// agent and occupies no queue.
type parkedVehicle struct {
	id   ids.VehicleID
	typ  ids.VehicleTypeID
}

// Garage owns vehicle types, the agent↔mode→vehicle assignment table, and
// the set of currently-parked vehicle records.
type Garage struct {
	types  map[ids.VehicleTypeID]network.VehicleType
	byMode map[ids.AgentID]map[ids.ModeID]ids.VehicleID
	parked map[ids.VehicleID]parkedVehicle
	nextID uint32
}

// New returns an empty garage stocked with the given vehicle types.
func New(types map[ids.VehicleTypeID]network.VehicleType) *Garage {
	return &Garage{
		types:  types,
		byMode: make(map[ids.AgentID]map[ids.ModeID]ids.VehicleID),
		parked: make(map[ids.VehicleID]parkedVehicle),
	}
}

// VehicleType looks up a registered vehicle type by id.
func (g *Garage) VehicleType(id ids.VehicleTypeID) (network.VehicleType, bool) {
	t, ok := g.types[id]
	return t, ok
}

// AssignVehicle registers that agent uses vehicle veh for mode, creating a
// freshly parked vehicle record of the given type. Called once at
// population/vehicle-definition load time per agent-mode pair.
func (g *Garage) AssignVehicle(agent ids.AgentID, mode ids.ModeID, veh ids.VehicleID, typ ids.VehicleTypeID) {
	if g.byMode[agent] == nil {
		g.byMode[agent] = make(map[ids.ModeID]ids.VehicleID)
	}
	g.byMode[agent][mode] = veh
	g.parked[veh] = parkedVehicle{id: veh, typ: typ}
	if uint32(veh)+1 > g.nextID {
		g.nextID = uint32(veh) + 1
	}
}

// UnparkVeh removes agent's assigned vehicle for mode from the parked set
// and returns a flight Vehicle carrying the agent, per §4.10. Panics if the
// agent has no vehicle assigned for mode or it is not currently parked: both
// indicate a malformed population/vehicle-definition input, which should
// have failed at setup (§7).
func (g *Garage) UnparkVeh(agent ids.AgentID, mode ids.ModeID) network.Vehicle {
	perMode, ok := g.byMode[agent]
	if !ok {
		panic(fmt.Sprintf("garage: agent %d has no vehicle assignments", agent))
	}
	vehID, ok := perMode[mode]
	if !ok {
		panic(fmt.Sprintf("garage: agent %d has no vehicle assigned for mode %d", agent, mode))
	}
	pv, ok := g.parked[vehID]
	if !ok {
		panic(fmt.Sprintf("garage: vehicle %d is not parked (already in flight?)", vehID))
	}
	delete(g.parked, vehID)

	typ := g.types[pv.typ]
	return network.Vehicle{
		ID:         vehID,
		Type:       pv.typ,
		PCE:        typ.PCE,
		MaxV:       typ.MaxSpeed,
		RouteIndex: 0,
		Agent:      agent,
	}
}

// ParkVeh reinserts veh's record into the parked set and returns the agent
// it was carrying, per §4.10. The vehicle is no longer in any queue after
// this call.
func (g *Garage) ParkVeh(veh network.Vehicle) ids.AgentID {
	g.parked[veh.ID] = parkedVehicle{id: veh.ID, typ: veh.Type}
	return veh.Agent
}

// IsParked reports whether veh is currently parked, for diagnostics and
// property tests (conservation invariant §8.1).
func (g *Garage) IsParked(veh ids.VehicleID) bool {
	_, ok := g.parked[veh]
	return ok
}
