package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"homefeed/internal/config"
	"homefeed/internal/constants"
	"homefeed/internal/logger"
	"homefeed/internal/worker"
	"homefeed/pkg/metrics"
)

// BatchRunner is the in-process execution path; *worker.Service satisfies it.
type BatchRunner interface {
	ProcessPendingBatch(ctx context.Context, opts worker.BatchOptions) (*worker.BatchResult, error)
}

// Trigger converts "new messages arrived" signals into debounced worker
// runs. It never returns an error to the ingest path: the worst case of a
// broken trigger is latency until the next notify, never data loss.
type Trigger struct {
	debouncer  Debouncer
	runner     BatchRunner
	remoteURL  string
	secret     string
	httpClient *http.Client
	window     time.Duration
	inFlight   atomic.Bool
	logger     logger.Logger
}

func New(debouncer Debouncer, runner BatchRunner, cfg config.WorkerConfig, triggerCfg config.TriggerConfig, log logger.Logger) *Trigger {
	window := time.Duration(triggerCfg.DebounceSeconds) * time.Second
	if window <= 0 {
		window = constants.DefaultTriggerWindow
	}
	return &Trigger{
		debouncer:  debouncer,
		runner:     runner,
		remoteURL:  cfg.RemoteURL,
		secret:     cfg.SharedSecret,
		httpClient: &http.Client{Timeout: constants.DefaultRemoteTimeout},
		window:     window,
		logger:     log,
	}
}

// NotifyNewMessages kicks off a worker run unless one was started within the
// debounce window or is still in flight locally.
func (t *Trigger) NotifyNewMessages(ctx context.Context) {
	if !t.debouncer.TryAcquire(ctx, t.window) {
		metrics.TriggerNotificationsTotal.WithLabelValues("debounced").Inc()
		return
	}
	if !t.inFlight.CompareAndSwap(false, true) {
		metrics.TriggerNotificationsTotal.WithLabelValues("in_flight").Inc()
		return
	}
	defer t.inFlight.Store(false)

	if t.remoteURL != "" {
		t.notifyRemote(ctx)
		return
	}
	t.runLocal(ctx)
}

func (t *Trigger) notifyRemote(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.remoteURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		metrics.TriggerNotificationsTotal.WithLabelValues("error").Inc()
		t.logger.WarnwCtx(ctx, "Failed to build worker request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.secret)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		metrics.TriggerNotificationsTotal.WithLabelValues("error").Inc()
		t.logger.WarnwCtx(ctx, "Worker notification failed", "error", err, "url", t.remoteURL)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.TriggerNotificationsTotal.WithLabelValues("error").Inc()
		t.logger.WarnwCtx(ctx, "Worker rejected notification",
			"status", resp.StatusCode, "url", t.remoteURL)
		return
	}

	var result worker.BatchResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		t.logger.InfowCtx(ctx, "Remote batch triggered",
			"batch_id", result.BatchID,
			"claimed", result.Claimed,
			"remaining_pending", result.RemainingPending,
		)
	}
	metrics.TriggerNotificationsTotal.WithLabelValues("remote").Inc()
}

func (t *Trigger) runLocal(ctx context.Context) {
	result, err := t.runner.ProcessPendingBatch(ctx, worker.BatchOptions{})
	if err != nil {
		metrics.TriggerNotificationsTotal.WithLabelValues("error").Inc()
		t.logger.WarnwCtx(ctx, "Triggered batch failed", "error", err)
		return
	}
	metrics.TriggerNotificationsTotal.WithLabelValues("local").Inc()

	// Keep draining while there is work and the claim loop is making
	// progress; debounce only gates the initial kick.
	for result.RemainingPending > 0 && result.Claimed > 0 && ctx.Err() == nil {
		result, err = t.runner.ProcessPendingBatch(ctx, worker.BatchOptions{})
		if err != nil {
			t.logger.WarnwCtx(ctx, "Follow-up batch failed", "error", err)
			return
		}
	}
}
