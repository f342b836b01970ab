package units

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/progflow/internal/engine"
	"github.com/roach88/progflow/internal/table"
)

// Sink consumes its "inp" input and discards it. It keeps an upstream
// subgraph alive and draining when nothing else reads it.
type Sink struct {
	core     *engine.Core
	in       *engine.Consumer
	received int64
}

// NewSink creates a sink.
func NewSink(name string) *Sink {
	if name == "" {
		name = engine.GenerateName("sink")
	}
	s := &Sink{core: engine.NewCore(name, "sink")}
	s.core.DeclareInput("inp", table.KindAny, true)
	s.in = engine.NewConsumer(s, "inp")
	return s
}

func (s *Sink) Core() *engine.Core { return s.core }

// Received returns the number of indices consumed so far.
func (s *Sink) Received() int64 { return s.received }

// Reset implements engine.Resetter.
func (s *Sink) Reset() { s.received = 0 }

func (s *Sink) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	batch, err := s.in.Next(b.StepSize)
	if err != nil {
		return engine.StepResult{}, err
	}
	s.received += int64(batch.Len())
	return engine.StepResult{State: s.in.NextState(), Steps: batch.Len()}, nil
}

// PrintConfig configures a Print.
type PrintConfig struct {
	// Terse prints a single dot per step instead of the input's contents.
	Terse bool `mapstructure:"terse"`
}

// Print writes its "df" input to a writer after every step that saw
// changes: a Dict as sorted key=value pairs, a Table as its row count.
type Print struct {
	core *engine.Core
	in   *engine.Consumer
	w    io.Writer
	cfg  PrintConfig
}

// NewPrint creates a printer writing to w.
func NewPrint(name string, w io.Writer, cfg PrintConfig) *Print {
	if name == "" {
		name = engine.GenerateName("print")
	}
	p := &Print{core: engine.NewCore(name, "print"), w: w, cfg: cfg}
	p.core.DeclareInput("df", table.KindAny, true)
	p.in = engine.NewConsumer(p, "df")
	return p
}

func (p *Print) Core() *engine.Core { return p.core }

func (p *Print) Step(_ context.Context, _ int64, b engine.Budget) (engine.StepResult, error) {
	batch, err := p.in.Next(b.StepSize)
	if err != nil {
		return engine.StepResult{}, err
	}
	if batch.Len() > 0 || batch.Reset {
		if err := p.print(); err != nil {
			return engine.StepResult{}, err
		}
	}
	return engine.StepResult{State: p.in.NextState(), Steps: batch.Len()}, nil
}

func (p *Print) print() error {
	if p.cfg.Terse {
		_, err := io.WriteString(p.w, ".")
		return err
	}
	var line string
	switch v := p.in.Slot().Data().(type) {
	case *table.Dict:
		line = FormatDict(v)
	case *table.Table:
		line = fmt.Sprintf("%d rows", v.Len())
	default:
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s: %s\n", p.core.Name(), line)
	return err
}

// FormatDict renders a Dict as {k=v ...} with keys sorted.
func FormatDict(d *table.Dict) string {
	snap := d.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(snap[k], 'g', -1, 64))
	}
	b.WriteByte('}')
	return b.String()
}
