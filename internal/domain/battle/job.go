package battle

import "time"

// Job is one pairing to simulate.
type Job struct {
	Pairing string
	Spec    Spec
}

// Outcome is the result of a job. Err holds a per-pairing failure such as a
// placement overlap.
type Outcome struct {
	Pairing string
	Result  Result
	Err     error
	Elapsed time.Duration
}
