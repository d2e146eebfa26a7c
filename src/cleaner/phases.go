package cleaner

import (
	"fmt"
	"io"
	"time"
)

// PhaseRecord holds the name and elapsed time of a completed phase.
type PhaseRecord struct {
	Name    string
	Elapsed time.Duration
	Err     bool
}

// PhaseTimer records per-phase timing for one sweep.
type PhaseTimer struct {
	phases    []PhaseRecord
	current   string
	startedAt time.Time
	clock     func() time.Time
}

func (pt *PhaseTimer) now() time.Time {
	if pt.clock == nil {
		return time.Now()
	}
	return pt.clock()
}

func (pt *PhaseTimer) Start(name string) {
	if pt.current != "" {
		pt.Stop(false)
	}
	pt.current = name
	pt.startedAt = pt.now()
}

func (pt *PhaseTimer) Stop(errored bool) {
	if pt.current == "" {
		return
	}
	pt.phases = append(pt.phases, PhaseRecord{
		Name:    pt.current,
		Elapsed: pt.now().Sub(pt.startedAt),
		Err:     errored,
	})
	pt.current = ""
}

// StopErr stops the current phase, marking it failed when err is non-nil,
// and returns err unchanged.
func (pt *PhaseTimer) StopErr(err error) error {
	pt.Stop(err != nil)
	return err
}

func (pt *PhaseTimer) TotalElapsed() time.Duration {
	var elapsed time.Duration
	for _, phase := range pt.phases {
		elapsed += phase.Elapsed
	}
	if pt.current != "" {
		elapsed += pt.now().Sub(pt.startedAt)
	}
	return elapsed
}

func (pt *PhaseTimer) Phases() []PhaseRecord {
	return append([]PhaseRecord(nil), pt.phases...)
}

// beginPhase prints the stage banner and starts timing that phase.
func beginPhase(out io.Writer, timer *PhaseTimer, phaseName, stageLabel string, stageIndex, stageTotal int) {
	fmt.Fprintf(out, "[sweep] Stage %d/%d: %s\n", stageIndex, stageTotal, stageLabel)
	timer.Start(phaseName)
}
