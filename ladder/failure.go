package ladder

import "strings"

// AttemptError is the message of one failed attempt.
type AttemptError struct {
	Rung    State
	Message string
}

// Failure is returned when every rung has been exhausted. Its message lists
// each attempt's error in the order the attempts ran.
type Failure struct {
	URL      string
	Attempts []AttemptError
}

func (f *Failure) Error() string {
	lines := make([]string, len(f.Attempts))
	for i, a := range f.Attempts {
		lines[i] = "- " + a.Rung.String() + ": " + a.Message
	}
	return strings.Join(lines, "\n")
}

// Rungs returns the distinct rungs that were attempted, in order.
func (f *Failure) Rungs() []State {
	var out []State
	for _, a := range f.Attempts {
		if len(out) == 0 || out[len(out)-1] != a.Rung {
			out = append(out, a.Rung)
		}
	}
	return out
}
