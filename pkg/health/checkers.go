package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// Goroutines fails when more than limit goroutines are running.
func Goroutines(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("%d goroutines, limit %d", n, limit)
		}
		return nil
	}
}

// GCPause fails when any recent stop-the-world pause exceeded limit.
func GCPause(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		if longest := longestPause(stats.Pause); longest > limit {
			return errors.Errorf("gc pause %s, limit %s", longest, limit)
		}
		return nil
	}
}

func longestPause(ds []time.Duration) time.Duration {
	var m time.Duration
	for _, d := range ds {
		m = max(m, d)
	}
	return m
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks a dependency that exposes Ping(ctx) error.
func Ping(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// ErrPinger adapts clients whose Ping returns a command, such as go-redis:
//
//	health.ErrPinger(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
type ErrPinger func(ctx context.Context) error

// Ping implements Pinger.
func (f ErrPinger) Ping(ctx context.Context) error { return f(ctx) }
