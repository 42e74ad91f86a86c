// Command qsim drives the distributed queue-based traffic micro-simulation
// end to end: it loads a network, population, vehicle-type and partition
// map from disk, builds one engine per partition, and runs the tick loop
// to completion.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"qsim/internal/broker"
	"qsim/internal/config"
	"qsim/internal/engine"
	"qsim/internal/events"
	"qsim/internal/garage"
	"qsim/internal/ids"
	"qsim/internal/ioformat"
	"qsim/internal/network"
	"qsim/internal/obs"
	"qsim/internal/partition"
	"qsim/internal/qnet"
	"qsim/internal/replan"
	"qsim/internal/transport"
	"qsim/internal/transport/chanbackend"
	"qsim/internal/transport/netbackend"
)

func main() {
	fs := pflag.NewFlagSet("qsim", pflag.ExitOnError)
	config.Flags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := obs.NewLogger(cfg.LogLevel, uint32(cfg.Rank), os.Stderr)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("qsim: fatal")
	}
}

// run loads inputs, builds every partition this process is responsible
// for, and drives them to completion. Invariant violations panic with an
// engine.Fault from deep inside the tick loop; recovered here so main can
// log it and exit nonzero.
func run(cfg *config.Config, log zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if f, ok := r.(engine.Fault); ok {
				err = f
				return
			}
			panic(r)
		}
	}()

	world, err := loadWorld(cfg, log)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, "qsim: create output directory")
	}

	ctx := context.Background()

	switch config.Backend(cfg.Backend) {
	case config.BackendInproc:
		return runInproc(ctx, cfg, world, log)
	case config.BackendTCP:
		return runTCP(ctx, cfg, world, log)
	default:
		return fmt.Errorf("qsim: unknown backend %q", cfg.Backend)
	}
}

// world bundles everything loaded once from disk and shared, read-only,
// by every partition's engine.
type world struct {
	Reg          *ioformat.Registries
	Net          *network.Network
	Agents       map[ids.AgentID]*network.Agent
	VehicleTypes map[ids.VehicleTypeID]network.VehicleType

	// modeVehType maps (levelOfDetail, mode) to the first vehicle type
	// registered for that combination, used to assign a vehicle to every
	// agent/mode pair including teleported legs, which the population
	// loader never interns a vehicle id for on its own.
	modeVehType map[network.LevelOfDetail]map[ids.ModeID]ids.VehicleTypeID
}

func loadWorld(cfg *config.Config, log zerolog.Logger) (*world, error) {
	reg := ioformat.NewRegistries()

	netFile, err := os.Open(cfg.NetworkFile)
	if err != nil {
		return nil, errors.Wrap(err, "qsim: open network file")
	}
	defer netFile.Close()
	net, err := ioformat.LoadNetwork(netFile, reg)
	if err != nil {
		return nil, err
	}

	if cfg.PartitionFile != "" {
		partFile, err := os.Open(cfg.PartitionFile)
		if err != nil {
			return nil, errors.Wrap(err, "qsim: open partition map file")
		}
		defer partFile.Close()
		pmap, err := ioformat.LoadPartitionMap(partFile)
		if err != nil {
			return nil, err
		}
		if err := ioformat.ApplyPartitionMap(net, reg, pmap); err != nil {
			return nil, err
		}
	}

	vehFile, err := os.Open(cfg.VehiclesFile)
	if err != nil {
		return nil, errors.Wrap(err, "qsim: open vehicle types file")
	}
	defer vehFile.Close()
	vehicleTypes, err := ioformat.LoadVehicleTypes(vehFile, reg)
	if err != nil {
		return nil, err
	}

	popFile, err := os.Open(cfg.PopulationFile)
	if err != nil {
		return nil, errors.Wrap(err, "qsim: open population file")
	}
	defer popFile.Close()
	agents, err := ioformat.LoadPopulation(popFile, reg)
	if err != nil {
		return nil, err
	}

	modeVehType := map[network.LevelOfDetail]map[ids.ModeID]ids.VehicleTypeID{
		network.Network:    {},
		network.Teleported: {},
	}
	for typID, t := range vehicleTypes {
		byMode := modeVehType[t.LevelOfDetail]
		if cur, taken := byMode[t.NetworkMode]; !taken || typID < cur {
			byMode[t.NetworkMode] = typID
		}
	}

	log.Info().Int("nodes", len(net.Nodes)).Int("links", len(net.Links)).
		Int("agents", len(agents)).Msg("qsim: world loaded")

	return &world{
		Reg:          reg,
		Net:          net,
		Agents:       agents,
		VehicleTypes: vehicleTypes,
		modeVehType:  modeVehType,
	}, nil
}

// buildGarage deterministically reproduces the same agent/mode -> vehicle
// assignment in every partition's process, since every rank parses the
// same population file independently (no shared pointers across
// processes). Teleported legs get a synthesized vehicle id, since the
// population loader only interns one for NETWORK-routed legs.
func buildGarage(w *world) (*garage.Garage, error) {
	g := garage.New(w.VehicleTypes)
	for agentID, agent := range w.Agents {
		for i, elem := range agent.Plan.Elems {
			if elem.Leg == nil {
				continue
			}
			leg := elem.Leg
			if leg.Route.Network != nil {
				typ, ok := w.modeVehType[network.Network][leg.Mode]
				if !ok {
					return nil, fmt.Errorf("qsim: no NETWORK vehicle type registered for mode %d", leg.Mode)
				}
				g.AssignVehicle(agentID, leg.Mode, leg.Route.Network.Vehicle, typ)
				continue
			}
			typ, ok := w.modeVehType[network.Teleported][leg.Mode]
			if !ok {
				return nil, fmt.Errorf("qsim: no TELEPORTED vehicle type registered for mode %d", leg.Mode)
			}
			vehID := w.Reg.Vehicles.Intern(fmt.Sprintf("teleport-%s-%d", w.Reg.Agents.External(agentID), i))
			g.AssignVehicle(agentID, leg.Mode, vehID, typ)
		}
	}
	return g, nil
}

// buildPartitionEngine wires up one partition's full tick-loop state:
// its owned nodes and link queues, its garage, broker, event publisher
// and writers, and the engine driving them.
func buildPartitionEngine(rank uint32, cfg *config.Config, w *world, comm transport.Communicator, log zerolog.Logger) (*engine.Engine, error) {
	rlog := log.With().Uint32("rank", rank).Logger()

	g, err := buildGarage(w)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cfg.Seed + int64(rank)))
	pub := events.NewPublisher()

	eventsPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("events.%d.binpb", rank))
	eventsFile, err := os.Create(eventsPath)
	if err != nil {
		return nil, errors.Wrapf(err, "qsim: create %s", eventsPath)
	}
	pub.Subscribe(ioformat.NewEventWriter(eventsFile))

	csvPath := filepath.Join(cfg.OutputDir, fmt.Sprintf("actstarts.%d.csv", rank))
	csvFile, err := os.Create(csvPath)
	if err != nil {
		return nil, errors.Wrapf(err, "qsim: create %s", csvPath)
	}
	pub.Subscribe(ioformat.NewCSVAggregateWriter(csvFile, rank))

	var eng *engine.Engine
	routeOf := func(veh ids.VehicleID) *network.NetworkRoute { return eng.RouteOf(veh) }
	part := partition.New(rank, routeOf, rng, pub)

	linkQueue := make(map[ids.LinkID]qnet.InLink)
	for i := range w.Net.Links {
		l := &w.Net.Links[i]
		fromRank := w.Net.Node(l.From).Partition
		toRank := w.Net.Node(l.To).Partition

		switch {
		case l.Partition == rank && fromRank == rank:
			local := qnet.NewLocal(l, cfg.SampleSize, cfg.EffectiveCellSize)
			part.AddLocal(local)
			linkQueue[l.ID] = local
		case l.Partition == rank && fromRank != rank:
			in := qnet.NewSplitIn(l, cfg.SampleSize, cfg.EffectiveCellSize, fromRank)
			part.AddSplitIn(in)
			linkQueue[l.ID] = in
		case l.Partition != rank && fromRank == rank:
			part.AddSplitOut(qnet.NewSplitOut(l, cfg.SampleSize, cfg.EffectiveCellSize, toRank))
		}
	}

	for i := range w.Net.Nodes {
		n := &w.Net.Nodes[i]
		if n.Partition != rank {
			continue
		}
		inLinks := make([]qnet.InLink, 0, len(n.InLinks))
		capacities := make([]float64, 0, len(n.InLinks))
		for _, linkID := range n.InLinks {
			q, ok := linkQueue[linkID]
			if !ok {
				continue
			}
			inLinks = append(inLinks, q)
			capacities = append(capacities, w.Net.Link(linkID).CapacityPerHour)
		}
		if len(inLinks) == 0 {
			continue
		}
		part.AddNode(qnet.NewNode(n.ID, inLinks, capacities))
	}

	linkPartition := func(id ids.LinkID) uint32 { return w.Net.Link(id).Partition }
	b := broker.New(rank, comm, linkPartition, part.Neighbors())

	var modifier replan.Modifier
	if cfg.Routing == string(config.RoutingAdHoc) {
		router := replan.NewDijkstraRouter(w.Net, replan.DefaultEdgeWeight)
		modifier = &replan.AdHocModifier{Router: router}
	}

	eng = engine.New(rank, cfg.EndTime, w.Net, w.Agents, g, part, b, pub, linkPartition, rlog)
	eng.Modifier = modifier
	eng.ReceiveTimeout = time.Duration(cfg.ReceiveWait) * time.Second

	for agentID, agent := range w.Agents {
		act, isAct := agent.CurrentActivity()
		if !isAct {
			return nil, fmt.Errorf("qsim: agent %d's plan does not start on an activity", agentID)
		}
		if w.Net.Link(act.Link).Partition != rank {
			continue
		}
		eng.Seed(agentID, act.EndAt(cfg.StartTime))
	}

	return eng, nil
}

// runInproc runs every partition inside this one process, wired through a
// shared chanbackend.Hub, and waits for the first error via errgroup.
func runInproc(ctx context.Context, cfg *config.Config, w *world, log zerolog.Logger) error {
	hub := chanbackend.NewHub()

	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < cfg.NumPartitions; rank++ {
		rank := uint32(rank)
		comm := hub.Backend(rank)
		eng, err := buildPartitionEngine(rank, cfg, w, comm, log)
		if err != nil {
			return err
		}
		if rank == 0 {
			if err := writeNetworkDump(cfg, w); err != nil {
				return err
			}
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					if f, ok := r.(engine.Fault); ok {
						err = f
						return
					}
					panic(r)
				}
			}()
			return eng.Run(gctx)
		})
	}
	return g.Wait()
}

// runTCP runs exactly this process's cfg.Rank partition, talking to its
// peers over plain TCP.
func runTCP(ctx context.Context, cfg *config.Config, w *world, log zerolog.Logger) error {
	peers := make(netbackend.PeerAddrs, len(cfg.PeerAddrs))
	for _, p := range cfg.PeerAddrs {
		rank, addr, err := parsePeer(p)
		if err != nil {
			return err
		}
		peers[rank] = addr
	}

	rank := uint32(cfg.Rank)
	comm, err := netbackend.Listen(rank, cfg.ListenAddr, peers)
	if err != nil {
		return err
	}
	defer comm.Close()

	eng, err := buildPartitionEngine(rank, cfg, w, comm, log)
	if err != nil {
		return err
	}
	if rank == 0 {
		if err := writeNetworkDump(cfg, w); err != nil {
			return err
		}
	}
	return eng.Run(ctx)
}

// parsePeer splits a "rank=host:port" flag value.
func parsePeer(s string) (uint32, string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			var rank uint32
			for _, r := range s[:i] {
				if r < '0' || r > '9' {
					return 0, "", fmt.Errorf("qsim: malformed peer entry %q", s)
				}
				rank = rank*10 + uint32(r-'0')
			}
			return rank, s[i+1:], nil
		}
	}
	return 0, "", fmt.Errorf("qsim: malformed peer entry %q (expected rank=host:port)", s)
}

// rawNetworkDump is a rank-0 auxiliary output: the partition-annotated
// network, written once per run for inspection and downstream tooling.
type rawNetworkDump struct {
	Nodes []struct {
		ID        string `json:"id"`
		Partition uint32 `json:"partition"`
	} `json:"nodes"`
	Links []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		To        string `json:"to"`
		Partition uint32 `json:"partition"`
	} `json:"links"`
}

func writeNetworkDump(cfg *config.Config, w *world) error {
	var dump rawNetworkDump
	for i := range w.Net.Nodes {
		n := &w.Net.Nodes[i]
		dump.Nodes = append(dump.Nodes, struct {
			ID        string `json:"id"`
			Partition uint32 `json:"partition"`
		}{ID: w.Reg.Nodes.External(n.ID), Partition: n.Partition})
	}
	for i := range w.Net.Links {
		l := &w.Net.Links[i]
		dump.Links = append(dump.Links, struct {
			ID        string `json:"id"`
			From      string `json:"from"`
			To        string `json:"to"`
			Partition uint32 `json:"partition"`
		}{
			ID: w.Reg.Links.External(l.ID), From: w.Reg.Nodes.External(l.From),
			To: w.Reg.Nodes.External(l.To), Partition: l.Partition,
		})
	}

	path := filepath.Join(cfg.OutputDir, "network.partitioned.json")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "qsim: create %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(dump)
}
