// Command qsim-actstarts recomputes the per-rank activity-start CSV
// aggregate from an archived events.{rank}.binpb stream, as a standalone
// post-processing tool rather than a live events.Subscriber. Useful when
// a run was only given an EventWriter and the CSV needs to be rebuilt
// later.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"

	"qsim/internal/events"
	"qsim/internal/ioformat"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: qsim-actstarts <events.N.binpb> <rank> <out.csv>")
	}
	inPath, rankArg, outPath := args[0], args[1], args[2]

	rank64, err := strconv.ParseUint(rankArg, 10, 32)
	if err != nil {
		return errors.Wrapf(err, "qsim-actstarts: bad rank %q", rankArg)
	}
	rank := uint32(rank64)

	buf, err := os.ReadFile(inPath)
	if err != nil {
		return errors.Wrapf(err, "qsim-actstarts: read %s", inPath)
	}
	frames, err := ioformat.DecodeAll(buf)
	if err != nil {
		return errors.Wrapf(err, "qsim-actstarts: decode %s", inPath)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "qsim-actstarts: create %s", outPath)
	}
	defer out.Close()

	w := ioformat.NewCSVAggregateWriter(out, rank)
	for _, frame := range frames {
		for _, ev := range frame.Events {
			if _, ok := ev.(events.ActStart); ok {
				w.ReceiveEvent(frame.Tick, ev)
			}
		}
	}
	w.Finish()
	return nil
}
