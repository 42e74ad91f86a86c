package ioformat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"qsim/internal/network"
)

const vehicleTypesFixture = `{
  "vehicle_types": [
    {"id": "car", "length": 7.5, "width": 1.8, "max_speed": 27.8, "pce": 1.0, "flow_efficiency": 1.0, "network_mode": "car", "level_of_detail": "network"},
    {"id": "walk", "length": 1, "width": 1, "max_speed": 1.4, "pce": 0, "flow_efficiency": 1.0, "network_mode": "walk", "level_of_detail": "teleported"},
    {"id": "bike", "length": 2, "width": 1, "max_speed": 5.5, "pce": 0.25, "flow_efficiency": 1.0, "network_mode": "bike"}
  ]
}`

func TestLoadVehicleTypesParsesLevelOfDetail(t *testing.T) {
	reg := NewRegistries()
	types, err := LoadVehicleTypes(strings.NewReader(vehicleTypesFixture), reg)
	require.NoError(t, err)
	require.Len(t, types, 3)

	carID, ok := reg.VehicleTypes.Lookup("car")
	require.True(t, ok, "vehicle type car was not interned")
	car := types[carID]
	require.Equal(t, network.Network, car.LevelOfDetail)
	require.Equal(t, 27.8, car.MaxSpeed)
	require.Equal(t, 1.0, car.PCE)

	walkID, _ := reg.VehicleTypes.Lookup("walk")
	require.Equal(t, network.Teleported, types[walkID].LevelOfDetail)

	bikeID, _ := reg.VehicleTypes.Lookup("bike")
	require.Equal(t, network.Network, types[bikeID].LevelOfDetail, "default when omitted")
}

func TestLoadVehicleTypesRejectsUnknownLevelOfDetail(t *testing.T) {
	bad := `{"vehicle_types":[{"id":"car","level_of_detail":"flying"}]}`
	reg := NewRegistries()
	_, err := LoadVehicleTypes(strings.NewReader(bad), reg)
	require.Error(t, err)
}
