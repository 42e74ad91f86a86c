package ioformat

import (
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// rawVehicleTypes mirrors the on-disk "vehicle_types" array shape.
type rawVehicleTypes struct {
	VehicleTypes []struct {
		ID             string  `json:"id"`
		Length         float64 `json:"length"`
		Width          float64 `json:"width"`
		MaxSpeed       float64 `json:"max_speed"`
		PCE            float64 `json:"pce"`
		FlowEfficiency float64 `json:"flow_efficiency"`
		NetworkMode    string  `json:"network_mode"`
		LevelOfDetail  string  `json:"level_of_detail"` // "network" | "teleported"
	} `json:"vehicle_types"`
}

// LoadVehicleTypes reads vehicle-type definitions from r, grounded on
// model/fleet.go's LoadFleetFromReader decode-raw-then-build pattern.
func LoadVehicleTypes(r io.Reader, reg *Registries) (map[ids.VehicleTypeID]network.VehicleType, error) {
	dec := json.NewDecoder(r)
	var raw rawVehicleTypes
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "ioformat: decode vehicle types")
	}
	out := make(map[ids.VehicleTypeID]network.VehicleType, len(raw.VehicleTypes))
	for _, t := range raw.VehicleTypes {
		id := reg.VehicleTypes.Intern(t.ID)
		lod := network.Network
		if t.LevelOfDetail == "teleported" {
			lod = network.Teleported
		} else if t.LevelOfDetail != "" && t.LevelOfDetail != "network" {
			return nil, errors.Errorf("ioformat: vehicle type %q has unknown level_of_detail %q", t.ID, t.LevelOfDetail)
		}
		out[id] = network.VehicleType{
			ID: id, Length: t.Length, Width: t.Width, MaxSpeed: t.MaxSpeed,
			PCE: t.PCE, FlowEfficiency: t.FlowEfficiency,
			NetworkMode: reg.Modes.Intern(t.NetworkMode), LevelOfDetail: lod,
		}
	}
	return out, nil
}
