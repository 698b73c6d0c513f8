// Package ingest bulk-loads record CSV files into a records.Store and
// generates synthetic data sets.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/analytics/internal/domain/records"
)

// ParseError locates a rejected row.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Counter observes ingest volumes. *metrics.Collector satisfies it.
type Counter interface {
	RecordIngested(kind, source string, rows int)
	RecordRejected(kind, source string)
}

type nopCounter struct{}

func (nopCounter) RecordIngested(string, string, int) {}
func (nopCounter) RecordRejected(string, string)      {}

// Counts is the number of rows inserted per kind.
type Counts map[records.Kind]int

// Total sums every kind.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Loader inserts parsed rows through a Store, so every row passes the
// store's integrity checks.
type Loader struct {
	store   records.Store
	log     zerolog.Logger
	counter Counter
}

func NewLoader(store records.Store, logger zerolog.Logger, counter Counter) *Loader {
	if counter == nil {
		counter = nopCounter{}
	}
	return &Loader{store: store, log: logger, counter: counter}
}

// LoadDir loads every kind's CSV from dir in dependency order. Missing files
// are skipped. Loading stops at the first rejected row; rows inserted before
// it stay in the store.
func (l *Loader) LoadDir(ctx context.Context, dir string) (Counts, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("data dir %s is not a directory", dir)
	}

	start := time.Now()
	counts := make(Counts, len(records.Kinds))
	for _, kind := range records.Kinds {
		path := filepath.Join(dir, FileName(kind))
		n, err := l.LoadFile(ctx, kind, path)
		if errors.Is(err, fs.ErrNotExist) {
			l.log.Debug().Str("file", path).Msg("csv file not present, skipping")
			continue
		}
		counts[kind] = n
		if err != nil {
			return counts, err
		}
	}

	l.log.Info().
		Str("dir", dir).
		Int("rows", counts.Total()).
		Dur("elapsed", time.Since(start)).
		Msg("csv load complete")
	return counts, nil
}

// LoadFile loads one CSV file of the given kind.
func (l *Loader) LoadFile(ctx context.Context, kind records.Kind, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return l.Load(ctx, kind, f, filepath.Base(path))
}

// Load reads a header row followed by data rows. Columns are matched by
// header name, case-insensitively; unknown columns are ignored.
func (l *Loader) Load(ctx context.Context, kind records.Kind, r io.Reader, name string) (int, error) {
	reject := func(line int, err error) (int, error) {
		l.counter.RecordRejected(string(kind), "csv")
		l.log.Warn().Err(err).Str("file", name).Int("line", line).Msg("csv row rejected")
		return 0, &ParseError{File: name, Line: line, Err: err}
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return reject(csvLine(err, 1), err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range required[kind] {
		if _, ok := cols[c]; !ok {
			return reject(1, fmt.Errorf("missing required column %q", c))
		}
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		fields, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			_, perr := reject(csvLine(err, 0), err)
			return n, perr
		}
		line, _ := cr.FieldPos(0)

		e, err := decode(kind, &row{cols: cols, fields: fields})
		if err == nil {
			err = l.store.Insert(ctx, e)
		}
		if err != nil {
			_, perr := reject(line, err)
			return n, perr
		}
		n++
	}

	l.counter.RecordIngested(string(kind), "csv", n)
	l.log.Info().Str("kind", string(kind)).Str("file", name).Int("rows", n).Msg("csv file loaded")
	return n, nil
}

func csvLine(err error, fallback int) int {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return pe.Line
	}
	return fallback
}

// LoadDataset inserts a generated data set in dependency order.
func (l *Loader) LoadDataset(ctx context.Context, d *Dataset) (Counts, error) {
	counts := make(Counts, len(records.Kinds))
	for _, kind := range records.Kinds {
		for _, e := range d.Rows(kind) {
			if err := l.store.Insert(ctx, e); err != nil {
				l.counter.RecordRejected(string(kind), "seed")
				return counts, fmt.Errorf("seed %s: %w", kind, err)
			}
			counts[kind]++
		}
		l.counter.RecordIngested(string(kind), "seed", counts[kind])
	}
	l.log.Info().Str("run_id", d.RunID).Int("rows", counts.Total()).Msg("seed data loaded")
	return counts, nil
}

// WriteDir writes d as one CSV file per kind into dir, creating it if needed.
func WriteDir(dir string, d *Dataset) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	for _, kind := range records.Kinds {
		if err := writeFile(filepath.Join(dir, FileName(kind)), kind, d.Rows(kind)); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, kind records.Kind, rows []records.Entity) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(columns[kind]); err != nil {
		return err
	}
	for _, e := range rows {
		if err := w.Write(encode(e)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
