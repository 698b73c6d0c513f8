package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ehr/analytics/internal/domain/records"
	"github.com/rs/zerolog"
)

// ErrInvalidParameter matches every InvalidParameterError.
var ErrInvalidParameter = errors.New("invalid parameter")

// InvalidParameterError is returned when a metric is called with an
// out-of-range argument. No snapshot is taken in that case.
type InvalidParameterError struct {
	Name   string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Name, e.Value, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

func invalid(name string, value any, reason string) error {
	return &InvalidParameterError{Name: name, Value: value, Reason: reason}
}

// Snapshotter supplies one consistent view of the record store.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*records.Snapshot, error)
}

type Options struct {
	// Now anchors relative windows such as the repeat ER lookback.
	// Defaults to time.Now.
	Now    func() time.Time
	Logger zerolog.Logger
}

// Engine computes the metric catalog. Every metric reads exactly one
// snapshot and never writes.
type Engine struct {
	source Snapshotter
	now    func() time.Time
	log    zerolog.Logger
}

func NewEngine(source Snapshotter, opts Options) *Engine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{source: source, now: now, log: opts.Logger}
}

func evalRows[T any](ctx context.Context, e *Engine, metric string, fn func(*records.Snapshot) []T) ([]T, error) {
	start := time.Now()
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: snapshot: %w", metric, err)
	}
	rows := fn(snap)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", metric, err)
	}
	if rows == nil {
		rows = []T{}
	}
	e.log.Debug().
		Str("metric", metric).
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(start)).
		Msg("metric evaluated")
	return rows, nil
}

func evalValue[T any](ctx context.Context, e *Engine, metric string, fn func(*records.Snapshot) T) (T, error) {
	start := time.Now()
	snap, err := e.source.Snapshot(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: snapshot: %w", metric, err)
	}
	v := fn(snap)
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", metric, err)
	}
	e.log.Debug().
		Str("metric", metric).
		Int("rows", 1).
		Dur("elapsed", time.Since(start)).
		Msg("metric evaluated")
	return v, nil
}

// round2 rounds half away from zero to two decimals.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// daysBetween is the whole number of days elapsed from a to b, floored.
func daysBetween(a, b time.Time) int {
	return int(math.Floor(b.Sub(a).Hours() / 24))
}

func checkLimit(name string, n int) error {
	if n < 0 {
		return invalid(name, n, "must not be negative")
	}
	return nil
}

func limit[T any](rows []T, n int) []T {
	if len(rows) > n {
		return rows[:n]
	}
	return rows
}

func visitsByID(snap *records.Snapshot) map[int64]records.Visit {
	m := make(map[int64]records.Visit, len(snap.Visits))
	for _, v := range snap.Visits {
		m[v.ID] = v
	}
	return m
}

func patientsByID(snap *records.Snapshot) map[int64]records.Patient {
	m := make(map[int64]records.Patient, len(snap.Patients))
	for _, p := range snap.Patients {
		m[p.ID] = p
	}
	return m
}
