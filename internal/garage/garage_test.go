package garage

import (
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/ids"
	"qsim/internal/network"
)

func testTypes() map[ids.VehicleTypeID]network.VehicleType {
	return map[ids.VehicleTypeID]network.VehicleType{
		1: {ID: 1, PCE: 1.0, MaxSpeed: 13.9},
	}
}

func TestAssignThenUnparkProducesFlightVehicle(t *testing.T) {
	g := New(testTypes())
	g.AssignVehicle(100, 1, 7, 1)
	require.True(t, g.IsParked(7))

	veh := g.UnparkVeh(100, 1)
	require.Equal(t, ids.VehicleID(7), veh.ID)
	require.Equal(t, ids.VehicleTypeID(1), veh.Type)
	require.Equal(t, ids.AgentID(100), veh.Agent)
	require.Equal(t, 1.0, veh.PCE)
	require.Equal(t, 13.9, veh.MaxV)
	require.False(t, g.IsParked(7))
}

func TestParkVehReturnsAgentAndReparks(t *testing.T) {
	g := New(testTypes())
	g.AssignVehicle(100, 1, 7, 1)
	veh := g.UnparkVeh(100, 1)

	agent := g.ParkVeh(veh)
	require.Equal(t, ids.AgentID(100), agent)
	require.True(t, g.IsParked(7))
}

func TestUnparkVehPanicsWithNoAssignment(t *testing.T) {
	g := New(testTypes())
	require.Panics(t, func() { g.UnparkVeh(999, 1) })
}

func TestUnparkVehPanicsWithNoAssignmentForMode(t *testing.T) {
	g := New(testTypes())
	g.AssignVehicle(100, 1, 7, 1)
	require.Panics(t, func() { g.UnparkVeh(100, 2) })
}

func TestUnparkVehPanicsWhenAlreadyInFlight(t *testing.T) {
	g := New(testTypes())
	g.AssignVehicle(100, 1, 7, 1)
	g.UnparkVeh(100, 1)
	require.Panics(t, func() { g.UnparkVeh(100, 1) })
}

func TestVehicleTypeLookup(t *testing.T) {
	g := New(testTypes())
	typ, ok := g.VehicleType(1)
	require.True(t, ok)
	require.Equal(t, 13.9, typ.MaxSpeed)

	_, ok = g.VehicleType(99)
	require.False(t, ok, "unregistered type")
}
