package main

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// OpKind identifies the allocator entry point a trace line calls
type OpKind uint8

const (
	// OpAllocate is "a <id> <size>"
	OpAllocate OpKind = iota
	// OpAllocateZeroed is "c <id> <count> <size>"
	OpAllocateZeroed
	// OpResize is "r <id> <size>"
	OpResize
	// OpRelease is "f <id>"
	OpRelease
)

var opKindMapping = map[OpKind]string{
	OpAllocate:       "Allocate",
	OpAllocateZeroed: "AllocateZeroed",
	OpResize:         "Resize",
	OpRelease:        "Release",
}

func (k OpKind) String() string {
	return opKindMapping[k]
}

// Op is a single parsed trace line. ID names the allocation the operation applies to, and is
// reused by later lines to refer to the same pointer.
type Op struct {
	Line  int
	Kind  OpKind
	ID    string
	Count int
	Size  int
}

var opArgCounts = map[string]struct {
	kind OpKind
	args int
}{
	"a": {OpAllocate, 2},
	"c": {OpAllocateZeroed, 3},
	"r": {OpResize, 2},
	"f": {OpRelease, 1},
}

// ParseTrace reads a trace, one operation per line. Blank lines and lines starting with # are skipped.
func ParseTrace(r io.Reader) ([]Op, error) {
	var ops []Op

	scanner := bufio.NewScanner(r)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		op, err := parseOp(lineNumber, strings.Fields(line))
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read trace")
	}

	return ops, nil
}

func parseOp(lineNumber int, fields []string) (Op, error) {
	shape, ok := opArgCounts[fields[0]]
	if !ok {
		return Op{}, errors.Newf("line %d: unknown operation %q", lineNumber, fields[0])
	}
	if len(fields)-1 != shape.args {
		return Op{}, errors.Newf("line %d: %s expects %d argument(s), got %d", lineNumber, shape.kind, shape.args, len(fields)-1)
	}

	op := Op{
		Line: lineNumber,
		Kind: shape.kind,
		ID:   fields[1],
	}

	numbers := make([]int, 0, 2)
	for _, field := range fields[2:] {
		value, err := strconv.Atoi(field)
		if err != nil {
			return Op{}, errors.Wrapf(err, "line %d: invalid number %q", lineNumber, field)
		}
		numbers = append(numbers, value)
	}

	switch shape.kind {
	case OpAllocate, OpResize:
		op.Size = numbers[0]
	case OpAllocateZeroed:
		op.Count = numbers[0]
		op.Size = numbers[1]
	}

	return op, nil
}
