package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gateway/internal/transport"

	"go.uber.org/zap"
)

// Section fetches one named part of an aggregated response.
type Section func(ctx context.Context) (any, error)

type Outcome struct {
	OK    bool
	Value any
	Error *Error
}

type Result struct {
	Partial  bool
	Sections map[string]Outcome
}

// Failed lists the failed section names in sorted order.
func (r Result) Failed() []string {
	var names []string
	for name, o := range r.Sections {
		if !o.OK {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Value returns a section's value when that section succeeded.
func (r Result) Value(name string) (any, bool) {
	o, ok := r.Sections[name]
	if !ok || !o.OK {
		return nil, false
	}
	return o.Value, true
}

// SectionObserver records how each section settled.
type SectionObserver interface {
	ObserveSection(section, outcome string)
}

type Orchestrator struct {
	logger   *zap.Logger
	observer SectionObserver
}

func NewOrchestrator(logger *zap.Logger, observer SectionObserver) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{logger: logger, observer: observer}
}

// Aggregate runs every section concurrently, each under its own timeout,
// and waits for all of them. A failed section is recorded, never
// propagated, unless every section failed: then a single *Error is
// returned instead of a result.
func (o *Orchestrator) Aggregate(ctx context.Context, sections map[string]Section, perSectionTimeout time.Duration) (Result, error) {
	if perSectionTimeout <= 0 {
		perSectionTimeout = transport.DefaultTimeout
	}

	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)

	outcomes := make([]Outcome, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = o.run(ctx, name, sections[name], perSectionTimeout)
		}()
	}
	wg.Wait()

	res := Result{Sections: make(map[string]Outcome, len(names))}
	var failures []*Error
	for i, name := range names {
		res.Sections[name] = outcomes[i]
		if !outcomes[i].OK {
			failures = append(failures, outcomes[i].Error)
		}
	}

	if len(names) > 0 && len(failures) == len(names) {
		return Result{}, pickFailure(failures)
	}
	res.Partial = len(failures) > 0
	return res, nil
}

type settled struct {
	value any
	err   error
}

func (o *Orchestrator) run(ctx context.Context, name string, section Section, timeout time.Duration) Outcome {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan settled, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- settled{err: fmt.Errorf("section %s panicked: %v", name, r)}
			}
		}()
		if section == nil {
			done <- settled{err: fmt.Errorf("section %s has no fetcher", name)}
			return
		}
		v, err := section(sctx)
		done <- settled{value: v, err: err}
	}()

	var s settled
	select {
	case s = <-done:
	case <-sctx.Done():
		select {
		case s = <-done:
		default:
			if errors.Is(sctx.Err(), context.DeadlineExceeded) {
				s.err = fmt.Errorf("section %s: %w", name, transport.ErrNoReply)
			} else {
				s.err = fmt.Errorf("section %s: %w", name, sctx.Err())
			}
		}
	}

	if s.err != nil {
		gerr := Normalize(s.err)
		o.observe(name, outcomeOf(gerr))
		o.logger.Debug("aggregation section failed",
			zap.String("section", name),
			zap.String("kind", string(gerr.Kind)),
			zap.Int("status", gerr.HTTPStatus),
		)
		return Outcome{Error: gerr}
	}
	o.observe(name, "ok")
	return Outcome{OK: true, Value: s.value}
}

func (o *Orchestrator) observe(section, outcome string) {
	if o.observer != nil {
		o.observer.ObserveSection(section, outcome)
	}
}

// pickFailure prefers the first failure that is more specific than Internal.
func pickFailure(failures []*Error) *Error {
	for _, f := range failures {
		if f.Kind != KindInternal {
			return f
		}
	}
	return failures[0]
}
