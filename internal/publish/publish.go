// Package publish delivers analytics results to presentation sinks.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
)

// Latest keeps the most recent successful result in memory.
type Latest struct {
	mu  sync.RWMutex
	res analytics.Result
	ok  bool
}

var _ analytics.Publisher = (*Latest)(nil)

func (l *Latest) Publish(_ context.Context, r analytics.Result) error {
	l.mu.Lock()
	l.res, l.ok = r, true
	l.mu.Unlock()
	return nil
}

// Get returns the last result and whether one has been published yet.
func (l *Latest) Get() (analytics.Result, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.res, l.ok
}

// Ready reports whether a result has been published.
func (l *Latest) Ready() bool {
	_, ok := l.Get()
	return ok
}

// Readiness backs the /readyz probe.
func (l *Latest) Readiness() (bool, string) {
	r, ok := l.Get()
	return ok, r.PassID
}

type Sink struct {
	Name string
	Pub  analytics.Publisher
}

// Fanout publishes to every sink in order. A failing sink does not stop the others.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	out := &Fanout{}
	for _, s := range sinks {
		if s.Pub != nil {
			out.sinks = append(out.sinks, s)
		}
	}
	return out
}

func (f *Fanout) Publish(ctx context.Context, r analytics.Result) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Pub.Publish(ctx, r); err != nil {
			observability.IncPublishError(s.Name)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) Names() []string {
	out := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		out = append(out, s.Name)
	}
	return out
}
