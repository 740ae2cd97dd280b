package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"pucrs/tokenring/common"
)

type Parser struct {
	size              int
	events            []common.Event
	invariantCheckers []invariantCheckerFunc
}

// NewParser loads the dump written by a Recorder for a ring of size processes.
func NewParser(path string, size int) (*Parser, error) {
	events, err := parseDumpFile(path)
	if err != nil {
		return nil, fmt.Errorf("trace.NewParser parseDumpFile: %w", err)
	}
	return newParser(events, size), nil
}

func newParser(events []common.Event, size int) *Parser {
	sort.SliceStable(events, func(i, j int) bool { return events[i].Index < events[j].Index })
	return &Parser{
		size:   size,
		events: events,
		invariantCheckers: []invariantCheckerFunc{
			checkSingleRun,
			checkMutualExclusion,
			checkPerProcessFIFO,
			checkRingOrder,
		},
	}
}

func parseDumpFile(filename string) ([]common.Event, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s' file: %w", filename, err)
	}
	defer file.Close()

	var events []common.Event

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev common.Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading '%s' file: %w", filename, err)
	}

	return events, nil
}

func (p *Parser) Events() []common.Event { return p.events }

// Verify applies every invariant checker to the loaded events and returns the
// first violation found, or nil if the run upholds all of them.
func (p *Parser) Verify() error {
	for _, checker := range p.invariantCheckers {
		if err := checker(p.size, p.events...); err != nil {
			return fmt.Errorf("parser.Verify: %w", err)
		}
	}
	return nil
}
