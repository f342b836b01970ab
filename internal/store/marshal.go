package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// marshalQuality converts a quality map to JSON TEXT. Map keys are sorted by
// encoding/json, so equal maps always produce equal text.
func marshalQuality(q map[string]float64) (string, error) {
	if len(q) == 0 {
		return "{}", nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(q); err != nil {
		return "", fmt.Errorf("marshal quality: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func unmarshalQuality(s string) (map[string]float64, error) {
	if s == "" || s == "{}" {
		return nil, nil
	}
	var q map[string]float64
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, fmt.Errorf("unmarshal quality: %w", err)
	}
	return q, nil
}

const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
