package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Stage is one recorded step in a turn's timeline: a preload sub-stage,
// an engine iteration, a tool call.
type Stage struct {
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// Timeline records stage timings for a single turn. Stages are kept in
// completion order. Safe for concurrent use.
type Timeline struct {
	mu     sync.Mutex
	stages []Stage
}

func NewTimeline() *Timeline {
	return &Timeline{}
}

// Track starts timing a named stage and returns a done function. Calling
// done records the stage with its elapsed time and the given error.
//
//	done := tl.Track("memory_recall")
//	err := recall(ctx)
//	done(err)
func (t *Timeline) Track(name string) func(error) {
	start := time.Now()
	return func(err error) {
		t.Record(name, start, time.Since(start), err)
	}
}

// Record appends a completed stage.
func (t *Timeline) Record(name string, start time.Time, d time.Duration, err error) {
	s := Stage{Name: name, Start: start, Duration: d}
	if err != nil {
		s.Error = err.Error()
	}
	t.mu.Lock()
	t.stages = append(t.stages, s)
	t.mu.Unlock()
}

// Stages returns a copy of the recorded stages in completion order.
func (t *Timeline) Stages() []Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stage, len(t.stages))
	copy(out, t.stages)
	return out
}

// Total returns the sum of all stage durations.
func (t *Timeline) Total() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total time.Duration
	for _, s := range t.stages {
		total += s.Duration
	}
	return total
}

// String renders the timeline as "name=12ms name=3ms" for log lines.
func (t *Timeline) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	parts := make([]string, 0, len(t.stages))
	for _, s := range t.stages {
		part := fmt.Sprintf("%s=%dms", s.Name, s.Duration.Milliseconds())
		if s.Error != "" {
			part += "(err)"
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " ")
}
