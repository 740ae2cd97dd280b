package trace

import (
	"fmt"

	"pucrs/tokenring/common"
	"pucrs/tokenring/ring"
)

// invariantCheckerFunc checks an invariant on the events of a ring of size
// processes, sorted by index.
type invariantCheckerFunc func(size int, events ...common.Event) error

// checkSingleRun verifies that the events were all produced by the same run,
// since indexes restart with every run.
func checkSingleRun(_ int, events ...common.Event) error {
	if len(events) == 0 {
		return nil
	}
	run := events[0].Run
	if common.Any(events, func(ev common.Event) bool { return ev.Run != run }) {
		return fmt.Errorf("checkSingleRun: events from more than one run")
	}
	return nil
}

// checkMutualExclusion verifies that critical section intervals never
// overlap: every entry is followed by the exit of the same request before
// any other entry.
func checkMutualExclusion(_ int, events ...common.Event) error {
	var inside *common.Event
	for i := range events {
		ev := &events[i]
		switch ev.Kind {
		case common.EventEnter:
			if inside != nil {
				return fmt.Errorf(
					"checkMutualExclusion: process %d entered (event %d) while process %d is inside since event %d",
					ev.PID, ev.Index, inside.PID, inside.Index,
				)
			}
			inside = ev
		case common.EventExit:
			if inside == nil || inside.PID != ev.PID || inside.Request != ev.Request {
				return fmt.Errorf("checkMutualExclusion: process %d exited (event %d) without a matching entry", ev.PID, ev.Index)
			}
			inside = nil
		}
	}
	return nil
}

// checkPerProcessFIFO verifies that each process serves its requests in the
// order they were issued.
func checkPerProcessFIFO(_ int, events ...common.Event) error {
	last := make(map[int]uint64)
	for _, ev := range events {
		if ev.Kind != common.EventEnter {
			continue
		}
		if ev.Request <= last[ev.PID] {
			return fmt.Errorf(
				"checkPerProcessFIFO: process %d served request %d after request %d",
				ev.PID, ev.Request, last[ev.PID],
			)
		}
		last[ev.PID] = ev.Request
	}
	return nil
}

// checkRingOrder verifies that the token reached every process in ring
// order: a process is always the same number of forwards away from the
// initial holder, and at most one request is served per visit.
func checkRingOrder(size int, events ...common.Event) error {
	r, err := ring.NewRing(size, 0)
	if err != nil {
		return fmt.Errorf("checkRingOrder: %w", err)
	}

	enters := common.Filter(events, func(ev common.Event) bool { return ev.Kind == common.EventEnter })
	if len(enters) == 0 {
		return nil
	}

	// forwards between the initial holder and the process, given that the
	// token made TokenSeq forwards to reach it
	offset := func(ev common.Event) int {
		return r.Distance(ring.ID(ev.TokenSeq%uint64(size)), ring.ID(ev.PID))
	}
	holder := offset(enters[0])
	for i, ev := range enters {
		if offset(ev) != holder {
			return fmt.Errorf(
				"checkRingOrder: process %d held the token at seq %d, out of ring order",
				ev.PID, ev.TokenSeq,
			)
		}
		if i > 0 && ev.TokenSeq <= enters[i-1].TokenSeq {
			return fmt.Errorf(
				"checkRingOrder: two services at token seq %d (events %d and %d)",
				ev.TokenSeq, enters[i-1].Index, ev.Index,
			)
		}
	}
	return nil
}
