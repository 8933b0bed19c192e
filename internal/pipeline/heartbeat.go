package pipeline

import (
	"context"
	stdErrors "errors"
	"sync"
	"sync/atomic"
	"time"

	customErr "github.com/mini-maxit/judge/pkg/errors"
)

type heartbeat struct {
	done      chan struct{}
	wg        sync.WaitGroup
	cancelled atomic.Bool
	lostLease atomic.Bool
}

// startHeartbeat renews the lease of id until stop is called. A cancel flag
// set in the store, or a lost lease, cancels the job through cancel.
func (ws *worker) startHeartbeat(ctx context.Context, cancel context.CancelFunc, id string) *heartbeat {
	hb := &heartbeat{done: make(chan struct{})}
	if ws.opts.HeartbeatInterval <= 0 {
		return hb
	}

	hb.wg.Add(1)
	go func() {
		defer hb.wg.Done()
		ticker := time.NewTicker(ws.opts.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hb.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			requested, err := ws.queue.Heartbeat(ctx, id, ws.name)
			switch {
			case stdErrors.Is(err, customErr.ErrConflict), stdErrors.Is(err, customErr.ErrNotFound):
				hb.lostLease.Store(true)
				cancel()
				return
			case err != nil:
				ws.logger.Warnf("Heartbeat failed: %s [SubID: %s]", err, id)
			case requested:
				ws.logger.Infof("Cancellation requested [SubID: %s]", id)
				hb.cancelled.Store(true)
				cancel()
				return
			}
		}
	}()
	return hb
}

func (hb *heartbeat) stop() {
	close(hb.done)
	hb.wg.Wait()
}

func (hb *heartbeat) cancelRequested() bool { return hb.cancelled.Load() }

func (hb *heartbeat) lost() bool { return hb.lostLease.Load() }
