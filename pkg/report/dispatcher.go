// Package report delivers snapshots to the central collector.
package report

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"

	"github.com/vertti/healthwatch/pkg/snapshot"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Enqueuer accepts snapshots whose delivery failed.
type Enqueuer interface {
	Enqueue(ctx context.Context, snap snapshot.Snapshot) error
}

// StatusError is returned when the collector answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("collector responded %d", e.Code)
	}
	return fmt.Sprintf("collector responded %d: %s", e.Code, e.Body)
}

// Options configures a Dispatcher.
type Options struct {
	Timeout   time.Duration     // per attempt (default: 10s)
	Transport http.RoundTripper // nil uses the default transport
}

// Dispatcher posts snapshots to the collector endpoint.
type Dispatcher struct {
	client *resty.Client
	queue  Enqueuer
	logger logr.Logger

	mu       sync.RWMutex
	endpoint string
}

// New returns a Dispatcher posting to endpoint. Failed sends go to queue.
func New(endpoint string, queue Enqueuer, logger logr.Logger, opts Options) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger = logger.WithName("report")

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetLogger(restyLogger{logger})
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	return &Dispatcher{
		client:   client,
		queue:    queue,
		logger:   logger,
		endpoint: endpoint,
	}
}

// Endpoint returns the current collector URL.
func (d *Dispatcher) Endpoint() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.endpoint
}

// SetEndpoint switches the collector URL for subsequent deliveries.
func (d *Dispatcher) SetEndpoint(endpoint string) {
	d.mu.Lock()
	d.endpoint = endpoint
	d.mu.Unlock()
}

// Deliver makes exactly one POST attempt. Any transport error, timeout or
// non-2xx status is returned as an error.
func (d *Dispatcher) Deliver(ctx context.Context, snap snapshot.Snapshot) error {
	endpoint := d.Endpoint()

	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(snap).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("post report to %s: %w", endpoint, err)
	}
	if !resp.IsSuccess() {
		return &StatusError{Code: resp.StatusCode(), Body: truncate(resp.String(), 200)}
	}

	d.logger.V(1).Info("report delivered", "machineId", snap.MachineID, "status", resp.StatusCode())
	return nil
}

// Send delivers snap and, on failure, enqueues it for retry before
// returning false.
func (d *Dispatcher) Send(ctx context.Context, snap snapshot.Snapshot) bool {
	err := d.Deliver(ctx, snap)
	if err == nil {
		return true
	}

	d.logger.Info("report delivery failed, queueing for retry", "error", err.Error())
	if qerr := d.queue.Enqueue(context.WithoutCancel(ctx), snap); qerr != nil {
		d.logger.Error(qerr, "failed to queue report for retry")
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// restyLogger routes resty's internal messages through logr.
type restyLogger struct {
	logr.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	l.V(1).Info(fmt.Sprintf(format, v...), "source", "resty")
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	l.V(1).Info(fmt.Sprintf(format, v...), "source", "resty")
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	l.V(2).Info(fmt.Sprintf(format, v...), "source", "resty")
}
