package batch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Report file names, written to the output dir after every batch run.
const (
	SuccessReport = ".lastrun.success.json"
	FailedReport  = ".lastrun.failed.json"
)

type successEntry struct {
	Dataset     string `json:"dataset"`
	Scale       int    `json:"scale"`
	Rows        int    `json:"rows"`
	Synthesized int    `json:"synthesized"`
	Export      string `json:"export"`
}

// FailedEntry records a dataset that aborted.
type FailedEntry struct {
	Dataset string `json:"dataset"`
	Kind    string `json:"kind"`
	Reason  string `json:"reason"`
}

func writeRunReport(dir, runID string, successList []successEntry, failedList []FailedEntry) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	write := func(name string, v any) (string, error) {
		p := filepath.Join(dir, name)
		data, err := json.MarshalIndent(map[string]any{"run_id": runID, "datasets": v}, "", "  ")
		if err != nil {
			return p, err
		}
		return p, os.WriteFile(p, data, 0644)
	}
	if len(successList) > 0 {
		p, err := write(SuccessReport, successList)
		if err != nil {
			return err
		}
		slog.Info("report wrote success", "path", p, "datasets", len(successList))
	}
	if len(failedList) > 0 {
		p, err := write(FailedReport, failedList)
		if err != nil {
			return err
		}
		slog.Info("report wrote failed", "path", p, "count", len(failedList))
	}
	return nil
}

func joinFailedReasons(failedList []FailedEntry) string {
	if len(failedList) == 0 {
		return ""
	}
	var b strings.Builder
	for i, f := range failedList {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(f.Dataset)
		b.WriteString(": ")
		b.WriteString(f.Kind)
		if i >= 4 && len(failedList) > 6 {
			b.WriteString(fmt.Sprintf(" (+%d more)", len(failedList)-5))
			break
		}
	}
	return b.String()
}
