package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when the goroutine count exceeds limit.
// Liveness probe for goroutine leaks in the quote path.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines running, limit %d", n, limit)
		}
		return nil
	}
}

// worstGCPause reports the longest stop-the-world pause in the history
// window the runtime keeps (the last 256 collections).
func worstGCPause() time.Duration {
	var stats debug.GCStats
	debug.ReadGCStats(&stats)

	var worst time.Duration
	for _, p := range stats.Pause {
		if p > worst {
			worst = p
		}
	}
	return worst
}

// GCMaxPauseCheck fails when the worst recorded stop-the-world pause
// exceeds limit. Long pauses show up as quote latency spikes before
// anything else does.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(_ context.Context) error {
		if worst := worstGCPause(); worst > limit {
			return errors.Errorf("worst GC pause %s, limit %s", worst, limit)
		}
		return nil
	}
}
