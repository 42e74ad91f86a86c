package ioformat

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LoadPartitionMap reads a flat "node-id,rank" CSV produced by an external
// graph-partitioner, one pair per line (blank lines and lines starting
// with '#' are skipped).
func LoadPartitionMap(r io.Reader) (map[string]uint32, error) {
	out := make(map[string]uint32)
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 2 {
			return nil, errors.Errorf("ioformat: partition map line %d: expected \"node,rank\", got %q", lineNo, line)
		}
		rank, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "ioformat: partition map line %d: bad rank", lineNo)
		}
		out[strings.TrimSpace(parts[0])] = uint32(rank)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "ioformat: read partition map")
	}
	return out, nil
}
