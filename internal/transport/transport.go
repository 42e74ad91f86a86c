// Package transport defines the inter-partition communicator abstraction
// used by the message broker and its two concrete backends: chanbackend
// (in-process) and netbackend (TCP, real OS processes).
package transport

import (
	"context"

	"qsim/internal/ids"
	"qsim/internal/network"
)

// CapReport is the wire-level shape of a storage-cap report: which link,
// and its current used occupancy.
type CapReport struct {
	Link ids.LinkID
	Used float64
}

// Message is the unit exchanged between partitions each tick: a
// (from-process, to-process, tick, ordered list of vehicles, ordered list
// of storage-cap reports) tuple.
type Message struct {
	From     uint32
	To       uint32
	Tick     uint32
	Vehicles  []network.Vehicle
	Routes    []*network.NetworkRoute // parallel to Vehicles: each vehicle's current route, since the receiver has no local route table entry for a vehicle it has never seen
	Caps      []CapReport
	Teleports []TeleportArrival
}

// Communicator is the small capability interface every partition uses to
// exchange messages with its peers, per §9's dynamic-dispatch guidance.
// SendReceive must be non-blocking on the send side per §5's deadlock-
// avoidance rule: all sends for a tick are issued before any blocking
// receive.
type Communicator interface {
	// Rank reports this communicator's own partition rank.
	Rank() uint32

	// SendReceive sends outbound (keyed by destination rank) without
	// blocking, then blocks (subject to ctx) until at least one message
	// has been received from every rank in expectedSenders for the
	// current tick. It returns every message it received during the call,
	// whatever its Tick; holding back future-tick messages until their
	// tick is current is left to the caller (broker.Broker.SendRecv).
	SendReceive(ctx context.Context, outbound map[uint32]Message, expectedSenders map[uint32]struct{}) ([]Message, error)

	// Close releases any resources (sockets, goroutines) held by the
	// communicator.
	Close() error
}
