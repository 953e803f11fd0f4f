package fetch

import (
	"fmt"

	"github.com/mt-inside/http-log/pkg/output"
)

// Step is one error descriptor: which pipeline stage, and what it said.
type Step struct {
	Stage string
	Err   error
}

// Trail is the ordered diagnostic record of everything that went wrong during
// an attempt. Nothing is swallowed; it's dumped in full on the failure path.
type Trail struct {
	steps []Step
}

func (t *Trail) Add(stage string, err error) {
	t.steps = append(t.steps, Step{Stage: stage, Err: err})
}

func (t *Trail) Failed() bool { return len(t.steps) > 0 }

func (t *Trail) Steps() []Step { return t.steps }

func (t *Trail) Dump(s output.TtyStyler, b output.Bios) {
	for i, step := range t.steps {
		b.PrintErr(fmt.Sprintf("%d: %s: %v", i+1, s.Noun(step.Stage), step.Err))
	}
}
