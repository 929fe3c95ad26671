package engine

import (
	"fmt"
	"strings"
	"time"

	"skyward/internal/model"
)

// Outcome is one step in an action's accounting.
type Outcome string

const (
	Attempted Outcome = "attempted"
	Succeeded Outcome = "succeeded"
	Skipped   Outcome = "skipped"
	Failed    Outcome = "failed"
)

// Counts tallies actions of one kind.
type Counts struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (c *Counts) add(o Outcome) {
	switch o {
	case Attempted:
		c.Attempted++
	case Succeeded:
		c.Succeeded++
	case Skipped:
		c.Skipped++
	case Failed:
		c.Failed++
	}
}

func (c Counts) String() string {
	return fmt.Sprintf("attempted=%d succeeded=%d skipped=%d failed=%d", c.Attempted, c.Succeeded, c.Skipped, c.Failed)
}

// RunResult is the outcome of one account's run.
type RunResult struct {
	Account  string
	RunID    string
	DryRun   bool
	Counts   map[model.ActionKind]*Counts
	Notices  []string
	Err      error
	Started  time.Time
	Finished time.Time
}

func newResult(account, runID string, dryRun bool, started time.Time) *RunResult {
	r := &RunResult{
		Account: account,
		RunID:   runID,
		DryRun:  dryRun,
		Counts:  make(map[model.ActionKind]*Counts, len(model.Kinds)),
		Started: started,
	}
	for _, k := range model.Kinds {
		r.Counts[k] = &Counts{}
	}
	return r
}

// Of returns the counts for kind.
func (r *RunResult) Of(kind model.ActionKind) Counts {
	if c, ok := r.Counts[kind]; ok {
		return *c
	}
	return Counts{}
}

// Failed reports whether the account stopped on a fatal error.
func (r *RunResult) Failed() bool { return r.Err != nil }

// Summary renders the one-line per-account report.
func (r *RunResult) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:", r.Account)
	if r.DryRun {
		b.WriteString(" [dry-run]")
	}
	for _, k := range model.Kinds {
		fmt.Fprintf(&b, " %s(%s)", k, r.Of(k))
	}
	if len(r.Notices) > 0 {
		fmt.Fprintf(&b, " notices=%d", len(r.Notices))
	}
	if r.Err != nil {
		fmt.Fprintf(&b, " error=%q", r.Err.Error())
	}
	return b.String()
}
