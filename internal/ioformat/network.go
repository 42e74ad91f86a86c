// Package ioformat implements loaders and writers for the MATSim-style
// network, population, and vehicle-type file formats, following a
// decode-raw-then-build style.
package ioformat

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// rawJSONNetwork mirrors a small hand-authored JSON network description,
// used by unit tests and small scenarios instead of full MATSim XML.
type rawJSONNetwork struct {
	Nodes []struct {
		ID        string  `json:"id"`
		X         float64 `json:"x"`
		Y         float64 `json:"y"`
		Partition uint32  `json:"partition"`
	} `json:"nodes"`
	Links []struct {
		ID        string   `json:"id"`
		From      string   `json:"from"`
		To        string   `json:"to"`
		Length    float64  `json:"length"`
		Freespeed float64  `json:"freespeed"`
		Capacity  float64  `json:"capacity"`
		Lanes     float64  `json:"lanes"`
		Modes     []string `json:"modes"`
	} `json:"links"`
}

// xmlNetwork mirrors MATSim's <network><nodes/><links/></network> shape.
type xmlNetwork struct {
	XMLName xml.Name `xml:"network"`
	Nodes   struct {
		Node []struct {
			ID string  `xml:"id,attr"`
			X  float64 `xml:"x,attr"`
			Y  float64 `xml:"y,attr"`
		} `xml:"node"`
	} `xml:"nodes"`
	Links struct {
		Link []struct {
			ID        string  `xml:"id,attr"`
			From      string  `xml:"from,attr"`
			To        string  `xml:"to,attr"`
			Length    float64 `xml:"length,attr"`
			Freespeed float64 `xml:"freespeed,attr"`
			Capacity  float64 `xml:"capacity,attr"`
			Lanes     float64 `xml:"permlanes,attr"`
			Modes     string  `xml:"modes,attr"`
		} `xml:"link"`
	} `xml:"links"`
}

// Registries bundles every identifier registry a network/population load
// needs, so callers share one set across LoadNetwork/LoadPopulation/
// LoadVehicleTypes.
type Registries struct {
	Nodes         *ids.Registry[ids.NodeKind]
	Links         *ids.Registry[ids.LinkKind]
	Agents        *ids.Registry[ids.AgentKind]
	Vehicles      *ids.Registry[ids.VehicleKind]
	VehicleTypes  *ids.Registry[ids.VehicleTypeKind]
	Modes         *ids.Registry[ids.ModeKind]
	ActivityTypes *ids.Registry[ids.ActivityTypeKind]
}

// NewRegistries returns a fresh, empty set of identifier registries.
func NewRegistries() *Registries {
	return &Registries{
		Nodes:         ids.NewRegistry[ids.NodeKind](),
		Links:         ids.NewRegistry[ids.LinkKind](),
		Agents:        ids.NewRegistry[ids.AgentKind](),
		Vehicles:      ids.NewRegistry[ids.VehicleKind](),
		VehicleTypes:  ids.NewRegistry[ids.VehicleTypeKind](),
		Modes:         ids.NewRegistry[ids.ModeKind](),
		ActivityTypes: ids.NewRegistry[ids.ActivityTypeKind](),
	}
}

// LoadNetwork reads a network description from r, detecting JSON vs MATSim
// XML by sniffing the first non-whitespace byte, and interns every node
// and link id into reg.
func LoadNetwork(r io.Reader, reg *Registries) (*network.Network, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "ioformat: read network")
	}
	trimmed := strings.TrimSpace(string(buf))
	if strings.HasPrefix(trimmed, "<") {
		return loadXMLNetwork(buf, reg)
	}
	return loadJSONNetwork(buf, reg)
}

func loadJSONNetwork(buf []byte, reg *Registries) (*network.Network, error) {
	var raw rawJSONNetwork
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "ioformat: decode json network")
	}
	net := network.NewNetwork(len(raw.Nodes), len(raw.Links))
	for _, n := range raw.Nodes {
		id := reg.Nodes.Intern(n.ID)
		growNodes(net, id)
		net.Nodes[id] = network.Node{ID: id, Coord: network.Coord{X: n.X, Y: n.Y}, Partition: n.Partition}
	}
	for _, l := range raw.Links {
		id := reg.Links.Intern(l.ID)
		from := reg.Nodes.Intern(l.From)
		to := reg.Nodes.Intern(l.To)
		if int(from) >= len(net.Nodes) || int(to) >= len(net.Nodes) {
			return nil, errors.Errorf("ioformat: link %q references a node never declared in nodes", l.ID)
		}
		modes := make(map[ids.ModeID]struct{}, len(l.Modes))
		for _, m := range l.Modes {
			modes[reg.Modes.Intern(m)] = struct{}{}
		}
		net.Links[id] = network.Link{
			ID: id, From: from, To: to,
			Length: l.Length, Freespeed: l.Freespeed, CapacityPerHour: l.Capacity,
			Lanes: l.Lanes, Modes: modes, Partition: net.Node(to).Partition,
		}
		net.Node(from).OutLinks = append(net.Node(from).OutLinks, id)
		net.Node(to).InLinks = append(net.Node(to).InLinks, id)
	}
	if err := validateNetwork(net, reg); err != nil {
		return nil, err
	}
	return net, nil
}

// growNodes extends net.Nodes so index id is valid, for the rare case a
// link's endpoint is interned before its declaring <node>/"node" entry is
// seen. Declared node data, once loaded, always overwrites the zero value
// this leaves behind.
func growNodes(net *network.Network, id ids.NodeID) {
	if int(id) < len(net.Nodes) {
		return
	}
	grown := make([]network.Node, id+1)
	copy(grown, net.Nodes)
	net.Nodes = grown
}

func loadXMLNetwork(buf []byte, reg *Registries) (*network.Network, error) {
	var raw xmlNetwork
	if err := xml.Unmarshal(buf, &raw); err != nil {
		return nil, errors.Wrap(err, "ioformat: decode xml network")
	}
	net := network.NewNetwork(len(raw.Nodes.Node), len(raw.Links.Link))
	for _, n := range raw.Nodes.Node {
		id := reg.Nodes.Intern(n.ID)
		growNodes(net, id)
		net.Nodes[id] = network.Node{ID: id, Coord: network.Coord{X: n.X, Y: n.Y}}
	}
	for _, l := range raw.Links.Link {
		id := reg.Links.Intern(l.ID)
		from := reg.Nodes.Intern(l.From)
		to := reg.Nodes.Intern(l.To)
		if int(from) >= len(net.Nodes) || int(to) >= len(net.Nodes) {
			return nil, errors.Errorf("ioformat: link %q references a node never declared in nodes", l.ID)
		}
		modes := make(map[ids.ModeID]struct{})
		for _, m := range strings.Split(l.Modes, ",") {
			m = strings.TrimSpace(m)
			if m != "" {
				modes[reg.Modes.Intern(m)] = struct{}{}
			}
		}
		lanes := l.Lanes
		if lanes == 0 {
			lanes = 1
		}
		net.Links[id] = network.Link{
			ID: id, From: from, To: to,
			Length: l.Length, Freespeed: l.Freespeed, CapacityPerHour: l.Capacity,
			Lanes: lanes, Modes: modes,
		}
		net.Node(from).OutLinks = append(net.Node(from).OutLinks, id)
		net.Node(to).InLinks = append(net.Node(to).InLinks, id)
	}
	// MATSim XML has no partition attribute; partition assignment comes
	// from LoadPartitionMap and is applied by the caller.
	if err := validateNetwork(net, reg); err != nil {
		return nil, err
	}
	return net, nil
}

// validateNetwork fails fast on malformed input (§7): every link's
// endpoints must resolve to an interned node.
func validateNetwork(net *network.Network, reg *Registries) error {
	nNodes := reg.Nodes.Len()
	for i := range net.Links {
		l := &net.Links[i]
		if uint32(l.From) >= uint32(nNodes) || uint32(l.To) >= uint32(nNodes) {
			return errors.Errorf("ioformat: link %d references a node outside [0,%d)", l.ID, nNodes)
		}
	}
	return nil
}

// ApplyPartitionMap assigns net.Nodes[*].Partition from m (node external id
// -> rank) and recomputes every link's partition as its to-node's
// partition.
func ApplyPartitionMap(net *network.Network, reg *Registries, m map[string]uint32) error {
	for ext, rank := range m {
		id, ok := reg.Nodes.Lookup(ext)
		if !ok {
			return errors.Errorf("ioformat: partition map references unknown node %q", ext)
		}
		net.Node(id).Partition = rank
	}
	for i := range net.Links {
		l := &net.Links[i]
		l.Partition = net.Node(l.To).Partition
	}
	return nil
}
