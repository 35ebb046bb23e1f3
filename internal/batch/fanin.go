package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

func runLogWriter(w io.Writer, lines <-chan string) {
	for s := range lines {
		fmt.Fprintln(w, s)
	}
}

// tally is the collector's view of the run, read by the heartbeat.
type tally struct {
	mu      sync.Mutex
	success int
	failed  int
	rows    int
}

func (t *tally) snapshot() (success, failed, rows int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.success, t.failed, t.rows
}

func runHeartbeat(ctx context.Context, interval time.Duration, total int, t *tally, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s, f, rows := t.snapshot()
			logger.Info("heartbeat", "done", s+f, "total", total, "success", s, "failed", f, "rows", rows)
		}
	}
}
