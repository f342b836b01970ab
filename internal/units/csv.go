package units

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"unicode/utf8"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// CSVConfig configures a CSVLoader.
type CSVConfig struct {
	Path      string   `mapstructure:"path"`
	NoHeader  bool     `mapstructure:"no_header"`
	Columns   []string `mapstructure:"columns"`
	Delimiter string   `mapstructure:"delimiter"`
	StepSize  int      `mapstructure:"step_size"`
}

// CSVLoader reads a CSV stream progressively, step size records per step.
//
// Column names come from the header (normalized) or are positional when the
// input has none. Column types are inferred from the first record: fields
// that parse as numbers become float64 columns, everything else string.
// The table is published on output "result" once the schema is known.
type CSVLoader struct {
	core *engine.Core
	cfg  CSVConfig
	open func() (io.ReadCloser, int64, error)

	rc    io.ReadCloser
	r     *csv.Reader
	size  int64
	keep  []int
	specs []table.ColumnSpec
	first []string
	out   *table.Table
	rows  int64
	done  bool
}

// NewCSVLoader creates a loader reading cfg.Path. The file is opened on the
// first step.
func NewCSVLoader(name string, cfg CSVConfig) (*CSVLoader, error) {
	if cfg.Path == "" {
		return nil, errors.New("csv: path is required")
	}
	return newCSVLoader(name, cfg, func() (io.ReadCloser, int64, error) {
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, 0, err
		}
		var size int64
		if fi, err := f.Stat(); err == nil {
			size = fi.Size()
		}
		return f, size, nil
	})
}

// NewCSVReader creates a loader over an open stream of size bytes. A size
// of zero disables the progress estimate.
func NewCSVReader(name string, r io.Reader, size int64, cfg CSVConfig) (*CSVLoader, error) {
	return newCSVLoader(name, cfg, func() (io.ReadCloser, int64, error) {
		return io.NopCloser(r), size, nil
	})
}

func newCSVLoader(name string, cfg CSVConfig, open func() (io.ReadCloser, int64, error)) (*CSVLoader, error) {
	if cfg.Delimiter != "" && utf8.RuneCountInString(cfg.Delimiter) != 1 {
		return nil, fmt.Errorf("csv: delimiter %q must be a single character", cfg.Delimiter)
	}
	if name == "" {
		name = engine.GenerateName("csv")
	}
	l := &CSVLoader{core: engine.NewCore(name, "csv"), cfg: cfg, open: open}
	l.core.DeclareOutput("result", table.KindTable)
	l.core.SetDataInput(true)
	if cfg.StepSize > 0 {
		l.core.SetDefaultStepSize(cfg.StepSize)
	}
	return l, nil
}

func (l *CSVLoader) Core() *engine.Core { return l.core }

// Table returns the loaded table, or nil before the first step.
func (l *CSVLoader) Table() *table.Table { return l.out }

func (l *CSVLoader) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	if l.done {
		return engine.StepResult{State: engine.StateZombie}, nil
	}
	if l.r == nil {
		if err := l.start(); err != nil {
			l.finish()
			return engine.StepResult{}, err
		}
		if l.done {
			return engine.StepResult{State: engine.StateZombie}, nil
		}
	}

	batch := l.newBatch(b.StepSize)
	n := 0
	eof := false
	for n < b.StepSize {
		rec, err := l.next()
		if errors.Is(err, io.EOF) {
			eof = true
			break
		}
		if err != nil {
			l.finish()
			return engine.StepResult{}, fmt.Errorf("csv %s: %w", l.core.Name(), err)
		}
		if err := l.appendRecord(batch, rec); err != nil {
			l.finish()
			return engine.StepResult{}, fmt.Errorf("csv %s: %w", l.core.Name(), err)
		}
		n++
	}
	if n > 0 {
		if _, err := l.out.Append(batch); err != nil {
			l.finish()
			return engine.StepResult{}, err
		}
		l.rows += int64(n)
	}
	if eof {
		l.finish()
		return engine.StepResult{State: engine.StateZombie, Steps: n}, nil
	}
	return engine.StepResult{State: engine.StateReady, Steps: n}, nil
}

// start opens the stream, reads the header and the first record, and
// publishes an empty table with the inferred schema.
func (l *CSVLoader) start() error {
	rc, size, err := l.open()
	if err != nil {
		return fmt.Errorf("csv %s: open: %w", l.core.Name(), err)
	}
	l.rc, l.size = rc, size
	l.r = csv.NewReader(rc)
	if l.cfg.Delimiter != "" {
		l.r.Comma, _ = utf8.DecodeRuneInString(l.cfg.Delimiter)
	}

	var header []string
	if !l.cfg.NoHeader {
		header, err = l.r.Read()
		if errors.Is(err, io.EOF) {
			return l.publishEmpty(nil)
		}
		if err != nil {
			return fmt.Errorf("csv %s: header: %w", l.core.Name(), err)
		}
		header = append([]string(nil), header...)
	}
	first, err := l.r.Read()
	if errors.Is(err, io.EOF) {
		return l.publishEmpty(header)
	}
	if err != nil {
		return fmt.Errorf("csv %s: %w", l.core.Name(), err)
	}
	if header == nil {
		header = table.PositionalNames(len(first))
	}
	names := table.NormalizeColumnNames(header)
	if err := l.selectColumns(names); err != nil {
		return err
	}
	l.specs = make([]table.ColumnSpec, len(l.keep))
	for i, pos := range l.keep {
		typ := table.String
		if _, err := strconv.ParseFloat(first[pos], 64); err == nil {
			typ = table.Float64
		}
		l.specs[i] = table.ColumnSpec{Name: names[pos], Type: typ}
	}
	l.first = first
	return l.publish()
}

func (l *CSVLoader) selectColumns(names []string) error {
	if len(l.cfg.Columns) == 0 {
		l.keep = make([]int, len(names))
		for i := range names {
			l.keep[i] = i
		}
		return nil
	}
	pos := make(map[string]int, len(names))
	for i, n := range names {
		pos[n] = i
	}
	l.keep = l.keep[:0]
	for _, want := range l.cfg.Columns {
		i, ok := pos[table.NormalizeColumnName(want)]
		if !ok {
			return fmt.Errorf("csv %s: column %q not in input", l.core.Name(), want)
		}
		l.keep = append(l.keep, i)
	}
	return nil
}

func (l *CSVLoader) publishEmpty(header []string) error {
	names := table.NormalizeColumnNames(header)
	if err := l.selectColumns(names); err != nil {
		return err
	}
	l.specs = make([]table.ColumnSpec, len(l.keep))
	for i, pos := range l.keep {
		l.specs[i] = table.ColumnSpec{Name: names[pos], Type: table.String}
	}
	l.done = true
	if err := l.publish(); err != nil {
		return err
	}
	l.finish()
	return nil
}

func (l *CSVLoader) publish() error {
	t, err := table.New(l.core.Name(), l.specs...)
	if err != nil {
		return err
	}
	l.out = t
	return l.core.SetOutput("result", t)
}

func (l *CSVLoader) next() ([]string, error) {
	if l.first != nil {
		rec := l.first
		l.first = nil
		return rec, nil
	}
	return l.r.Read()
}

func (l *CSVLoader) newBatch(n int) table.Batch {
	batch := make(table.Batch, len(l.specs))
	for _, s := range l.specs {
		if s.Type == table.Float64 {
			batch[s.Name] = make([]float64, 0, n)
		} else {
			batch[s.Name] = make([]string, 0, n)
		}
	}
	return batch
}

func (l *CSVLoader) appendRecord(batch table.Batch, rec []string) error {
	for i, pos := range l.keep {
		s := l.specs[i]
		if pos >= len(rec) {
			return fmt.Errorf("record %d: missing column %q", l.rows+1, s.Name)
		}
		field := rec[pos]
		if s.Type == table.String {
			batch[s.Name] = append(batch[s.Name].([]string), field)
			continue
		}
		v, err := parseFloat(field)
		if err != nil {
			line, _ := l.r.FieldPos(pos)
			return fmt.Errorf("line %d column %q: %w", line, s.Name, err)
		}
		batch[s.Name] = append(batch[s.Name].([]float64), v)
	}
	return nil
}

// parseFloat accepts an empty field as a missing value.
func parseFloat(s string) (float64, error) {
	if s == "" {
		return nan, nil
	}
	return strconv.ParseFloat(s, 64)
}

func (l *CSVLoader) finish() {
	l.done = true
	if l.rc != nil {
		l.rc.Close()
		l.rc = nil
	}
}

// Progress implements engine.ProgressReporter. The total is estimated from
// the bytes consumed so far against the input size.
func (l *CSVLoader) Progress() (int64, int64) {
	if l.done {
		return l.rows, l.rows
	}
	if l.r == nil || l.size <= 0 || l.rows == 0 {
		return l.rows, 0
	}
	pos := l.r.InputOffset()
	if pos <= 0 {
		return l.rows, 0
	}
	est := int64(float64(l.size) * float64(l.rows) / float64(pos))
	return l.rows, max(est, l.rows)
}

// RowsIngested implements engine.DataInput.
func (l *CSVLoader) RowsIngested() int64 { return l.rows }
