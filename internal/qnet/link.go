// Package qnet implements the per-partition link queue variants and node
// transition logic.
package qnet

import (
	"qsim/internal/ids"
	"qsim/internal/network"
	"qsim/internal/regulator"
)

// queuedVehicle is a vehicle sitting in a link's FIFO along with the tick at
// which it becomes eligible to leave.
type queuedVehicle struct {
	veh        network.Vehicle
	exitTime   uint32
}

// Local is a FIFO link queue fully owned by this partition (both endpoints
// local). Push computes an earliest-exit-time from link freespeed and the
// vehicle's own max speed; Front/Pop enforce the flow regulator and the
// "pop only follows a successful front" invariant.
type Local struct {
	link      *network.Link
	flow      *regulator.Flow
	storage   *regulator.Storage
	queue     []queuedVehicle
	lastFront bool
}

// NewLocal builds a Local link queue. maxOccupancy is the storage
// regulator's max occupancy in pce, computed from link geometry as
// max(length*lanes*sampleSize/effectiveCellSize, 2*capacityPerSec*sampleSize).
func NewLocal(link *network.Link, sampleSize, effectiveCellSize float64) *Local {
	capPerSec := link.CapacityPerHour * sampleSize / 3600.0
	maxOcc := link.Length * link.Lanes * sampleSize / effectiveCellSize
	if alt := 2 * capPerSec * sampleSize; alt > maxOcc {
		maxOcc = alt
	}
	return &Local{
		link:    link,
		flow:    regulator.NewFlow(link.CapacityPerHour, sampleSize),
		storage: regulator.NewStorage(maxOcc),
	}
}

func (l *Local) Storage() *regulator.Storage { return l.storage }
func (l *Local) Flow() *regulator.Flow       { return l.flow }
func (l *Local) IsAvailable() bool           { return l.storage.IsAvailable() }

// Push enqueues veh at now, consuming storage and computing its earliest
// exit time from min(freespeed, veh.MaxV).
func (l *Local) Push(veh network.Vehicle, now uint32) {
	speed := l.link.Freespeed
	if veh.MaxV < speed {
		speed = veh.MaxV
	}
	duration := uint32(1)
	if speed > 0 {
		d := uint32(l.link.Length / speed)
		if d > duration {
			duration = d
		}
	}
	l.storage.Consume(veh.PCE)
	l.queue = append(l.queue, queuedVehicle{veh: veh, exitTime: now + duration})
}

// Front peeks the head vehicle if the flow regulator has capacity and its
// exit time has arrived. Returns false otherwise. Must be called (and
// return true) immediately before Pop.
func (l *Local) Front(now uint32) (*network.Vehicle, bool) {
	l.lastFront = false
	if len(l.queue) == 0 {
		return nil, false
	}
	if !l.flow.HasCapacity() {
		return nil, false
	}
	head := &l.queue[0]
	if head.exitTime > now {
		return nil, false
	}
	l.lastFront = true
	return &head.veh, true
}

// Pop removes the head vehicle, consuming flow and (shadow-)releasing
// storage. Panics if not immediately preceded by a successful Front, per
// spec's stated invariant.
func (l *Local) Pop() network.Vehicle {
	if !l.lastFront {
		panic("qnet: Local.Pop called without a preceding successful Front")
	}
	l.lastFront = false
	head := l.queue[0]
	l.queue = l.queue[1:]
	l.flow.Consume(head.veh.PCE)
	l.storage.Release(head.veh.PCE)
	return head.veh
}

// UpdateFlow advances the flow regulator and applies this tick's released
// storage. Called once per tick by move_links (§4.6).
func (l *Local) UpdateFlow(now uint32) {
	l.flow.Update(now)
	l.storage.ApplyReleased()
}

// Len reports the number of vehicles currently queued, for diagnostics and
// property tests.
func (l *Local) Len() int { return len(l.queue) }

// SplitIn wraps a Local queue plus the id of the upstream (from-node)
// partition. Used identically to a Local queue on the receiving side; the
// upstream rank is only consulted when building a storage-cap report.
type SplitIn struct {
	Local
	Upstream uint32
}

// NewSplitIn builds a SplitIn link queue for a link whose from-node lives on
// a remote partition.
func NewSplitIn(link *network.Link, sampleSize, effectiveCellSize float64, upstream uint32) *SplitIn {
	return &SplitIn{Local: *NewLocal(link, sampleSize, effectiveCellSize), Upstream: upstream}
}

// SplitOut is a buffer-only link queue for a link whose to-node lives on a
// remote partition: no exit-time bookkeeping, no flow check, just storage
// accounting and a once-per-tick drain.
type SplitOut struct {
	link      *network.Link
	storage   *regulator.Storage
	buffer    []network.Vehicle
	Downstream uint32
}

// NewSplitOut builds a SplitOut link queue for a link whose to-node lives on
// a remote partition, identified by downstream rank.
func NewSplitOut(link *network.Link, sampleSize, effectiveCellSize float64, downstream uint32) *SplitOut {
	capPerSec := link.CapacityPerHour * sampleSize / 3600.0
	maxOcc := link.Length * link.Lanes * sampleSize / effectiveCellSize
	if alt := 2 * capPerSec * sampleSize; alt > maxOcc {
		maxOcc = alt
	}
	return &SplitOut{
		link:       link,
		storage:    regulator.NewStorage(maxOcc),
		Downstream: downstream,
	}
}

func (s *SplitOut) Storage() *regulator.Storage { return s.storage }
func (s *SplitOut) IsAvailable() bool           { return s.storage.IsAvailable() }

// Push consumes storage and buffers veh with no exit-time or flow check: a
// SplitOut is a pass-through buffer, not a FIFO with timing. now is accepted
// only so SplitOut satisfies the same push signature as Local/SplitIn.
func (s *SplitOut) Push(veh network.Vehicle, now uint32) {
	s.storage.Consume(veh.PCE)
	s.buffer = append(s.buffer, veh)
}

// Take atomically clears storage usage and returns the entire buffered
// queue, draining it once per tick for transmission to the downstream
// partition.
func (s *SplitOut) Take() []network.Vehicle {
	out := s.buffer
	s.buffer = nil
	s.storage.Clear()
	return out
}

// SetUsedStorage mirrors the downstream partition's reported occupancy onto
// this SplitOut's local storage regulator.
func (s *SplitOut) SetUsedStorage(value float64) {
	s.storage.SetUsed(value)
}

// LinkID reports the network link id this queue represents. Used by the
// partition and broker to key lookups without re-threading a *network.Link
// through every call site.
func (l *Local) LinkID() ids.LinkID    { return l.link.ID }
func (s *SplitOut) LinkID() ids.LinkID { return s.link.ID }
