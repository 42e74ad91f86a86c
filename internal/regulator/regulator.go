// Package regulator implements the per-link flow and storage accumulators:
// a token bucket that limits release rate, and an occupancy counter (with
// a one-tick release lag) that limits how many vehicles a link may hold.
package regulator

import "qsim/internal/pq"

// Flow is a per-link token bucket in pce/s. One pce is consumed per vehicle
// released; has_capacity reports whether a release may happen right now.
type Flow struct {
	capacityPerSec float64
	accumulator    float64
	lastTick       pq.Time
}

// NewFlow builds a flow regulator for a link whose hourly capacity and
// sample-size together give capacityPerSec = capacityPerHour*sampleSize/3600.
func NewFlow(capacityPerHour, sampleSize float64) *Flow {
	return &Flow{capacityPerSec: capacityPerHour * sampleSize / 3600.0}
}

func (f *Flow) cap() float64 {
	c := f.capacityPerSec
	if c < 1.0 {
		c = 1.0
	}
	return c
}

// Update advances the accumulator to "now", crediting capacityPerSec per
// elapsed second and clamping at max(1, capacityPerSec) — the clamp
// guarantees at least one vehicle per tick may pass any link whose capacity
// is at least 1/s, while lower-capacity links still accumulate fractional
// credit across ticks.
func (f *Flow) Update(now pq.Time) {
	if now > f.lastTick {
		elapsed := float64(now - f.lastTick)
		f.accumulator += f.capacityPerSec * elapsed
		if m := f.cap(); f.accumulator > m {
			f.accumulator = m
		}
		f.lastTick = now
	}
}

// HasCapacity reports whether the accumulator currently allows a release.
func (f *Flow) HasCapacity() bool { return f.accumulator > 0 }

// Consume debits pce from the accumulator. May go negative, which simply
// delays the next release until enough credit has accrued again.
func (f *Flow) Consume(pce float64) { f.accumulator -= pce }

// Storage is a per-link occupancy counter. Released pce is only applied at
// the next tick boundary (ApplyReleased), which creates a one-tick lag so
// a link never looks simultaneously full upstream and empty to its
// incoming vehicle within the same tick.
type Storage struct {
	max      float64
	used     float64
	released float64
}

// NewStorage builds a storage regulator with the given maximum occupancy in
// pce (spec's max(length*lanes*sampleSize/effectiveCellSize,
// 2*capacityPerSec*sampleSize) formula is computed by the caller, see
// internal/qnet, and passed in here).
func NewStorage(max float64) *Storage {
	return &Storage{max: max}
}

func (s *Storage) Max() float64  { return s.max }
func (s *Storage) Used() float64 { return s.used }

// Consume records pce entering the link.
func (s *Storage) Consume(pce float64) { s.used += pce }

// Release records pce as having left the link, but not yet freeing storage
// until ApplyReleased runs at the next tick boundary.
func (s *Storage) Release(pce float64) { s.released += pce }

// ApplyReleased frees previously-released pce and resets the shadow
// accumulator. Called once per tick, per owned link, by move_links.
func (s *Storage) ApplyReleased() {
	s.used -= s.released
	s.released = 0
}

// IsAvailable reports whether the link can currently accept another
// vehicle.
func (s *Storage) IsAvailable() bool { return s.used < s.max }

// Clear resets used occupancy to zero. Used by SplitOut links at drain
// time, since a SplitOut's "occupancy" is mirrored from the downstream
// partition's report, not accumulated locally.
func (s *Storage) Clear() { s.used = 0 }

// SetUsed clears and reconsumes to exactly value, used to mirror a
// downstream partition's reported occupancy onto a local SplitOut link.
func (s *Storage) SetUsed(value float64) {
	s.used = value
	s.released = 0
}
