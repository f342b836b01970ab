package progress

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// LogSink logs every snapshot at Info.
func LogSink(logger *slog.Logger) Sink {
	return func(s Snapshot) {
		attrs := []any{
			"unit", s.Unit,
			"run", s.Run,
			"state", s.State,
			"consumed", s.Consumed,
		}
		if s.Total > 0 {
			attrs = append(attrs, "total", s.Total, "percent", fmt.Sprintf("%.1f", s.Percent()))
		}
		if len(s.Quality) > 0 {
			keys := make([]string, 0, len(s.Quality))
			for k := range s.Quality {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			q := make([]any, 0, len(keys))
			for _, k := range keys {
				q = append(q, slog.Float64(k, s.Quality[k]))
			}
			attrs = append(attrs, slog.Group("quality", q...))
		}
		logger.Info("progress", attrs...)
	}
}

// BarSink writes one progress bar line per snapshot of a unit with a known
// total, e.g. "csv [#####-----]  50.0% run=3".
func BarSink(w io.Writer, width int) Sink {
	var mu sync.Mutex
	return func(s Snapshot) {
		p := s.Percent()
		if p < 0 {
			return
		}
		filled := int(p / 100 * float64(width))
		bar := strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%s [%s] %5.1f%% run=%d\n", s.Unit, bar, p, s.Run)
	}
}
