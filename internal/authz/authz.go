// Package authz implements the ordered evaluator chain a request must pass
// to reach a protected operation. Evaluators are pure predicates over the
// resolved principal, the resource and an explicit threaded State; the chain
// short-circuits on the first deny.
package authz

import (
	"context"
	"errors"
	"time"

	"clinvault.org/internal/auth"
	"clinvault.org/internal/records"
)

// ErrNotFound is returned when an evaluator needs an input (account or
// resource) that is missing. It is surfaced immediately, before any later
// evaluator runs.
var ErrNotFound = errors.New("authz: not found")

// Input carries everything an evaluator may consult.
type Input struct {
	Principal auth.Principal
	Resource  *records.TestResult
	Now       time.Time
}

// State accumulates inter-evaluator signals. The only one today is the
// bypass flag the ownership evaluator sets to skip the attribute match.
type State struct {
	BypassAttribute bool
}

// Verdict is an evaluator decision. Evaluator names the decider so denials
// can report which model refused.
type Verdict struct {
	Allow     bool
	Evaluator string
	Reason    string
}

func allow() Verdict { return Verdict{Allow: true} }

func deny(evaluator, reason string) Verdict {
	return Verdict{Evaluator: evaluator, Reason: reason}
}

// Evaluator is a single access-control model.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, in Input, st *State) (Verdict, error)
}

// Chain composes evaluators in a fixed order.
type Chain []Evaluator

// Evaluate runs the chain, stopping at the first deny or error.
func (c Chain) Evaluate(ctx context.Context, in Input) (Verdict, error) {
	st := &State{}
	for _, ev := range c {
		v, err := ev.Evaluate(ctx, in, st)
		if err != nil {
			return Verdict{}, err
		}
		if !v.Allow {
			return v, nil
		}
	}
	return allow(), nil
}
