package api

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// FailureKind classifies an activity failure.
type FailureKind string

const (
	FailureTimeout   FailureKind = "TIMEOUT"
	FailureExecution FailureKind = "EXECUTION_ERROR"
	FailureCancelled FailureKind = "CANCELLED"
)

// Failure is the tagged outcome of an activity attempt that did not
// produce a result. Executors never raise errors to the engine; they
// always report a Failure.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// ActivityFunc is the executable contract of a single activity.
// Implementations should honor ctx cancellation; the executor enforces
// the timeout regardless.
type ActivityFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// ActivityDefinition declares a named activity, its executable
// contract, timeout and retry behavior.
type ActivityDefinition struct {
	Name string
	Fn   ActivityFunc

	// Timeout bounds a single attempt. Zero means no deadline.
	Timeout time.Duration

	// Retry controls re-dispatch after a failed attempt.
	// Nil means a single attempt with no retries.
	Retry *RetryPolicy
}

// RetryPolicy controls how an activity is retried when an attempt fails.
// MaxAttempts includes the first attempt:
//
//	MaxAttempts = 1 => no retries (just the initial call)
//	MaxAttempts = 3 => initial call + up to 2 retries
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// Attempts returns the normalized attempt budget, at least 1.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the backoff before the attempt following the given
// number of failed attempts. Exponential with an optional cap.
func (p *RetryPolicy) Delay(failedAttempts int) time.Duration {
	if p == nil || p.InitialBackoff <= 0 || failedAttempts < 1 {
		return 0
	}
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := p.InitialBackoff
	for i := 1; i < failedAttempts; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxBackoff > 0 && d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Registry is an immutable set of activity definitions, built once and
// passed into the engine and workers at construction.
type Registry struct {
	defs map[string]ActivityDefinition
}

// NewRegistry builds a registry from the given definitions.
// Names must be unique and non-empty, and every Fn must be set.
func NewRegistry(defs ...ActivityDefinition) (*Registry, error) {
	m := make(map[string]ActivityDefinition, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("activity name is required")
		}
		if def.Fn == nil {
			return nil, fmt.Errorf("activity %s has no function", def.Name)
		}
		if _, dup := m[def.Name]; dup {
			return nil, fmt.Errorf("activity already registered: %s", def.Name)
		}
		m[def.Name] = def
	}
	return &Registry{defs: m}, nil
}

// MustNewRegistry is NewRegistry that panics on error. Intended for
// static registration in main wiring.
func MustNewRegistry(defs ...ActivityDefinition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the definition for the named activity.
func (r *Registry) Lookup(name string) (ActivityDefinition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered activity names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
