package batch

import (
	"encoding/json"
	"log/slog"
	"os"
)

// ScaleUpdate is sent when a dataset has been normalized.
type ScaleUpdate struct {
	Dataset string
	Scale   int
}

// LoadScales reads the dataset → decimal scale registry. A missing or
// unreadable file is an empty registry.
func LoadScales(path string) map[string]int {
	data, err := os.ReadFile(path)
	if err != nil {
		return make(map[string]int)
	}
	var m map[string]int
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("scale registry unreadable, starting empty", "path", path, "error", err)
		return make(map[string]int)
	}
	return m
}

// RunScaleWriter receives updates and persists the registry (run as goroutine).
// It is the only writer of path.
func RunScaleWriter(path string, updates <-chan ScaleUpdate) {
	m := LoadScales(path)
	for u := range updates {
		m[u.Dataset] = u.Scale
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			slog.Warn("scale registry marshal error", "error", err)
			continue
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			slog.Warn("scale registry write error", "error", err)
		}
	}
}
