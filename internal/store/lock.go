package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kauaDaviAmaro/listing-harvester/internal/metrics"
)

const lockPollInterval = 100 * time.Millisecond

// DefaultLockWait is the ceiling for waiting on the sentinel marker.
const DefaultLockWait = 10 * time.Second

// markerLock is a coarse advisory lock scoped to the whole store file.
// Writers inside the process serialize on a mutex; the sentinel marker
// next to the file only guards against writers in other processes, and
// only best-effort: a holder that cannot acquire the marker within the
// wait ceiling assumes it is stale, takes it over, and proceeds. That
// cross-process window is a documented weak consistency point, not a
// guarantee.
type markerLock struct {
	marker string
	wait   time.Duration
	logger *zap.Logger

	mu sync.Mutex
}

func newMarkerLock(marker string, wait time.Duration, logger *zap.Logger) *markerLock {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	return &markerLock{marker: marker, wait: wait, logger: logger}
}

// acquire blocks until this process's writers are drained, then claims
// the marker with an exclusive create, polling until it wins or the
// ceiling passes. The returned release func always removes the marker;
// removal failures are logged and swallowed.
func (l *markerLock) acquire(ctx context.Context) func() {
	l.mu.Lock()

	deadline := time.Now().Add(l.wait)
	for {
		f, err := os.OpenFile(l.marker, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_ = f.Close()
			break
		}
		if !errors.Is(err, os.ErrExist) {
			l.logger.Warn("create lock marker failed", zap.String("marker", l.marker), zap.Error(err))
			break
		}
		if time.Now().After(deadline) {
			l.logger.Warn("lock wait ceiling exceeded; taking over stale marker",
				zap.String("marker", l.marker),
				zap.Duration("waited", l.wait),
			)
			metrics.LockWaitExceeded.Inc()
			if werr := os.WriteFile(l.marker, nil, 0o600); werr != nil {
				l.logger.Warn("overwrite lock marker failed", zap.String("marker", l.marker), zap.Error(werr))
			}
			break
		}
		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	return func() {
		if err := os.Remove(l.marker); err != nil && !os.IsNotExist(err) {
			l.logger.Debug("remove lock marker failed", zap.String("marker", l.marker), zap.Error(err))
		}
		l.mu.Unlock()
	}
}
