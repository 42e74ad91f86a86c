package ioformat

import (
	"errors"
	"io"
	"sort"
)

// Merge combines the decoded per-rank frame streams (as produced by
// repeated ReadFrame calls over each rank's events.{rank}.binpb) into one
// time-ordered stream, stable sorted by tick. Intra-tick ordering across
// partitions is left undefined; a stable sort keeps each rank's frames in
// their original relative order within a tick, which is enough to check a
// single agent's per-tick event sequence without caring about
// cross-partition interleaving.
func Merge(perRank [][]TickFrame) []TickFrame {
	var all []TickFrame
	for _, frames := range perRank {
		all = append(all, frames...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Tick < all[j].Tick })
	return all
}

// DecodeAll decodes every frame in buf, in order, stopping at io.EOF.
func DecodeAll(buf []byte) ([]TickFrame, error) {
	var frames []TickFrame
	for len(buf) > 0 {
		frame, rest, err := ReadFrame(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return frames, err
		}
		frames = append(frames, *frame)
		buf = rest
	}
	return frames, nil
}
