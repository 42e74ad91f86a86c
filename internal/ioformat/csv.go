package ioformat

import (
	"fmt"
	"io"
	"sort"

	"qsim/internal/events"
)

// CSVAggregateWriter is an optional events.Subscriber that tallies
// activity-start counts per tick and writes them as CSV rows on Finish,
// grounded on sim/report.go's WriteCSVReport accumulate-then-flush shape.
type CSVAggregateWriter struct {
	w         io.Writer
	Rank      uint32
	countByTick map[uint32]int
}

// NewCSVAggregateWriter wraps w (typically a per-rank CSV file).
func NewCSVAggregateWriter(w io.Writer, rank uint32) *CSVAggregateWriter {
	return &CSVAggregateWriter{w: w, Rank: rank, countByTick: make(map[uint32]int)}
}

func (c *CSVAggregateWriter) ReceiveEvent(now uint32, ev events.Event) {
	if _, ok := ev.(events.ActStart); ok {
		c.countByTick[now]++
	}
}

func (c *CSVAggregateWriter) Finish() {
	fmt.Fprintln(c.w, "tick,partition,act_starts")
	ticks := make([]uint32, 0, len(c.countByTick))
	for t := range c.countByTick {
		ticks = append(ticks, t)
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i] < ticks[j] })
	for _, t := range ticks {
		fmt.Fprintf(c.w, "%d,%d,%d\n", t, c.Rank, c.countByTick[t])
	}
}
