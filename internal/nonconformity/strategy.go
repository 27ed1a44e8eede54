// Package nonconformity maps softmax probability batches to per-class nonconformity scores.
package nonconformity

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/tensorplex-labs/conformal/internal/conformal"
)

// Strategy names one nonconformity function. Higher scores mean less conforming.
type Strategy int

const (
	Hinge Strategy = iota
	Margin
	PIP
)

// Strategies lists every registered strategy.
var Strategies = []Strategy{Hinge, Margin, PIP}

func (s Strategy) String() string {
	switch s {
	case Hinge:
		return "hinge"
	case Margin:
		return "margin"
	case PIP:
		return "pip"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy resolves a strategy by name, case-insensitively.
func ParseStrategy(name string) (Strategy, error) {
	for _, s := range Strategies {
		if strings.EqualFold(strings.TrimSpace(name), s.String()) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown nonconformity strategy %q", conformal.ErrInvalidParameter, name)
}

// MaxScore is the largest score the strategy can assign to a well-formed probability vector.
func (s Strategy) MaxScore() float64 {
	switch s {
	case PIP:
		return 2
	default:
		return 1
	}
}

// ScoreBatch scores one (examples x classes) batch. The input is not modified.
func (s Strategy) ScoreBatch(probs *mat.Dense) (*mat.Dense, error) {
	if probs == nil || probs.IsEmpty() {
		return nil, fmt.Errorf("%w: empty probability batch", conformal.ErrInvalidInput)
	}

	switch s {
	case Hinge:
		return HingeScores(probs), nil
	case Margin:
		return MarginScores(probs)
	case PIP:
		return PIPScores(probs), nil
	}
	return nil, fmt.Errorf("%w: unknown nonconformity strategy %d", conformal.ErrInvalidParameter, int(s))
}

// Score applies the strategy to every task of the input and returns an Input of the same kind and
// task order. Tasks are scored concurrently.
func (s Strategy) Score(in Input) (Input, error) {
	startTime := time.Now()
	if in.NumTasks() == 0 {
		return Input{}, fmt.Errorf("%w: input has no tasks", conformal.ErrInvalidInput)
	}

	scored := make([]*mat.Dense, in.NumTasks())
	var g errgroup.Group
	for t, probs := range in.tasks {
		g.Go(func() error {
			out, err := s.ScoreBatch(probs)
			if err != nil {
				return fmt.Errorf("task %d: %w", t, err)
			}
			scored[t] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Input{}, err
	}

	log.Debug().Msgf("Scored %d task(s) with %s in %v", len(scored), s, time.Since(startTime))
	return Input{kind: in.kind, tasks: scored}, nil
}
