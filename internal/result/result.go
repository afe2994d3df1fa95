// Package result holds the outcome vocabulary shared by the scanner, the
// eviction engine, and the role runners.
package result

// Outcome classifies how one unit of work (file, target, or run) ended.
type Outcome string

const (
	// Success means the work completed, possibly as a dry run.
	Success Outcome = "success"
	// Skipped means the work was deliberately not attempted.
	Skipped Outcome = "skipped"
	// Failed means the work was attempted and did not complete.
	Failed Outcome = "failed"
)

// Tally counts outcomes.
type Tally struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add records one outcome.
func (t *Tally) Add(o Outcome) {
	switch o {
	case Success:
		t.Succeeded++
	case Skipped:
		t.Skipped++
	default:
		t.Failed++
	}
}

// Total returns the number of recorded outcomes.
func (t Tally) Total() int {
	return t.Succeeded + t.Skipped + t.Failed
}

// Worst returns Failed if anything failed, else Skipped if everything was
// skipped, else Success. An empty tally is a Success.
func (t Tally) Worst() Outcome {
	switch {
	case t.Failed > 0:
		return Failed
	case t.Skipped > 0 && t.Succeeded == 0:
		return Skipped
	default:
		return Success
	}
}
