// Package common holds the pieces shared by the scoring, similarity and
// embedding engines: the batch dispatcher that drives scorer calls, the
// model registry and the intelligence-layer metrics.
package common

import (
	"context"
	stdliberrors "errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
	apperrors "github.com/turtacn/KidneyMatch/pkg/errors"
)

// ---------------------------------------------------------------------------
// Sentinel Errors
// ---------------------------------------------------------------------------

var (
	ErrShutdown      = stdliberrors.New("batch processor is shutting down")
	ErrCircuitOpen   = stdliberrors.New("circuit breaker is open")
	ErrNotDispatched = stdliberrors.New("item not dispatched: run cancelled")
)

// ---------------------------------------------------------------------------
// ItemStatus enumeration
// ---------------------------------------------------------------------------

// ItemStatus represents the outcome status of a single batch item.
type ItemStatus int

const (
	ItemStatusSuccess   ItemStatus = iota // processing completed successfully
	ItemStatusFailed                      // processing failed with an error
	ItemStatusTimeout                     // processing exceeded its timeout
	ItemStatusCancelled                   // never dispatched because the caller gave up
)

func (s ItemStatus) String() string {
	switch s {
	case ItemStatusSuccess:
		return "SUCCESS"
	case ItemStatusFailed:
		return "FAILED"
	case ItemStatusTimeout:
		return "TIMEOUT"
	case ItemStatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// ---------------------------------------------------------------------------
// Generic types
// ---------------------------------------------------------------------------

// ProcessFunc processes a single item.
type ProcessFunc[T, R any] func(ctx context.Context, item T) (R, error)

// ItemResult holds the outcome of processing a single item within a batch.
type ItemResult[R any] struct {
	Index      int        `json:"index"`
	Result     R          `json:"result"`
	Error      error      `json:"error,omitempty"`
	DurationMs float64    `json:"duration_ms"`
	Status     ItemStatus `json:"status"`
}

// BatchResult aggregates the outcomes of an entire batch processing run.
// Results is indexed like the input slice.
type BatchResult[R any] struct {
	Results           []*ItemResult[R] `json:"results"`
	TotalCount        int              `json:"total_count"`
	SuccessCount      int              `json:"success_count"`
	FailureCount      int              `json:"failure_count"`
	CancelledCount    int              `json:"cancelled_count"`
	TotalDurationMs   float64          `json:"total_duration_ms"`
	AvgItemDurationMs float64          `json:"avg_item_duration_ms"`
}

// Succeeded returns the results of successful items in input order.
func (b *BatchResult[R]) Succeeded() []R {
	out := make([]R, 0, b.SuccessCount)
	for _, r := range b.Results {
		if r.Status == ItemStatusSuccess {
			out = append(out, r.Result)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// BatchProcessor interface
// ---------------------------------------------------------------------------

// BatchProcessor runs a function over a slice of items with bounded
// concurrency and isolates failures to the item that produced them.
//
// Cancelling ctx stops dispatch: items not yet started are reported as
// ItemStatusCancelled, while items already running finish on a context that
// ignores the cancellation and is bounded only by the item timeout.
type BatchProcessor[T, R any] interface {
	Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error)

	// Shutdown stops accepting new batches and waits for in-flight ones.
	Shutdown(ctx context.Context) error
}

// ---------------------------------------------------------------------------
// Circuit-breaker
// ---------------------------------------------------------------------------

const (
	cbStateClosed   int32 = 0
	cbStateOpen     int32 = 1
	cbStateHalfOpen int32 = 2
)

func cbStateName(s int32) string {
	switch s {
	case cbStateOpen:
		return "open"
	case cbStateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// circuitBreaker stops hammering a scorer that keeps failing.  Once open,
// items fail fast with ErrCircuitOpen until resetDuration has passed; then a
// single probe decides whether to close again.
type circuitBreaker struct {
	name             string
	state            atomic.Int32
	consecutiveFails atomic.Int32
	threshold        int32
	resetDuration    time.Duration
	lastOpenTime     atomic.Int64 // unix-nano
	halfOpenPermits  atomic.Int32
	logger           logging.Logger
	metrics          IntelligenceMetrics
}

func newCircuitBreaker(name string, threshold int, duration time.Duration, logger logging.Logger, metrics IntelligenceMetrics) *circuitBreaker {
	cb := &circuitBreaker{
		name:          name,
		threshold:     int32(threshold),
		resetDuration: duration,
		logger:        logger,
		metrics:       metrics,
	}
	cb.state.Store(cbStateClosed)
	return cb
}

func (cb *circuitBreaker) allow() bool {
	if cb == nil || cb.threshold <= 0 {
		return true
	}
	switch cb.state.Load() {
	case cbStateClosed:
		return true
	case cbStateOpen:
		openedAt := cb.lastOpenTime.Load()
		if time.Since(time.Unix(0, openedAt)) < cb.resetDuration {
			return false
		}
		if cb.state.CompareAndSwap(cbStateOpen, cbStateHalfOpen) {
			cb.halfOpenPermits.Store(1)
			cb.logStateChange(cbStateOpen, cbStateHalfOpen)
		}
		return cb.halfOpenPermits.Add(-1) >= 0
	case cbStateHalfOpen:
		return cb.halfOpenPermits.Add(-1) >= 0
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	cb.consecutiveFails.Store(0)
	if cb.state.CompareAndSwap(cbStateHalfOpen, cbStateClosed) {
		cb.logStateChange(cbStateHalfOpen, cbStateClosed)
	}
}

func (cb *circuitBreaker) recordFailure() {
	if cb == nil || cb.threshold <= 0 {
		return
	}
	fails := cb.consecutiveFails.Add(1)

	switch cb.state.Load() {
	case cbStateClosed:
		if fails >= cb.threshold && cb.state.CompareAndSwap(cbStateClosed, cbStateOpen) {
			cb.lastOpenTime.Store(time.Now().UnixNano())
			cb.logStateChange(cbStateClosed, cbStateOpen)
		}
	case cbStateHalfOpen:
		if cb.state.CompareAndSwap(cbStateHalfOpen, cbStateOpen) {
			cb.lastOpenTime.Store(time.Now().UnixNano())
			cb.logStateChange(cbStateHalfOpen, cbStateOpen)
		}
	}
}

func (cb *circuitBreaker) logStateChange(from, to int32) {
	cb.logger.Info("circuit breaker state change",
		logging.String("breaker", cb.name),
		logging.String("from", cbStateName(from)),
		logging.String("to", cbStateName(to)))
	cb.metrics.RecordCircuitBreakerStateChange(context.Background(), cb.name, cbStateName(from), cbStateName(to))
}

// ---------------------------------------------------------------------------
// BatchOption functional options
// ---------------------------------------------------------------------------

type batchConfig struct {
	name           string
	maxConcurrency int
	itemTimeout    time.Duration
	cbThreshold    int
	cbDuration     time.Duration
	metrics        IntelligenceMetrics
	logger         logging.Logger
}

func defaultBatchConfig() *batchConfig {
	return &batchConfig{
		name:           "batch-processor",
		maxConcurrency: runtime.NumCPU(),
		itemTimeout:    30 * time.Second,
	}
}

// BatchOption configures a batchProcessor.
type BatchOption func(*batchConfig)

// WithName labels the processor in logs and metrics.
func WithName(name string) BatchOption {
	return func(c *batchConfig) {
		if name != "" {
			c.name = name
		}
	}
}

// WithMaxConcurrency sets the maximum number of items processed concurrently.
// A value of 1 dispatches strictly in input order.
func WithMaxConcurrency(n int) BatchOption {
	return func(c *batchConfig) {
		if n > 0 {
			c.maxConcurrency = n
		}
	}
}

// WithItemTimeout bounds each item.
func WithItemTimeout(d time.Duration) BatchOption {
	return func(c *batchConfig) {
		if d > 0 {
			c.itemTimeout = d
		}
	}
}

// WithCircuitBreaker opens the breaker after threshold consecutive failures
// and keeps it open for duration.
func WithCircuitBreaker(threshold int, duration time.Duration) BatchOption {
	return func(c *batchConfig) {
		if threshold > 0 && duration > 0 {
			c.cbThreshold = threshold
			c.cbDuration = duration
		}
	}
}

func WithBatchMetrics(m IntelligenceMetrics) BatchOption {
	return func(c *batchConfig) {
		c.metrics = m
	}
}

func WithBatchLogger(l logging.Logger) BatchOption {
	return func(c *batchConfig) {
		c.logger = l
	}
}

// ---------------------------------------------------------------------------
// batchProcessor implementation
// ---------------------------------------------------------------------------

type batchProcessor[T, R any] struct {
	cfg     *batchConfig
	cb      *circuitBreaker
	metrics IntelligenceMetrics
	logger  logging.Logger

	// mu orders the shutdown flag against activeWg.Add so that Wait never
	// races a new Process.
	mu       sync.Mutex
	shutdown bool
	activeWg sync.WaitGroup
}

// NewBatchProcessor creates a BatchProcessor with the supplied options.
func NewBatchProcessor[T, R any](opts ...BatchOption) BatchProcessor[T, R] {
	cfg := defaultBatchConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = NewNoopIntelligenceMetrics()
	}
	if cfg.logger == nil {
		cfg.logger = logging.NewNopLogger()
	}
	bp := &batchProcessor[T, R]{
		cfg:     cfg,
		metrics: cfg.metrics,
		logger:  cfg.logger,
	}
	if cfg.cbThreshold > 0 && cfg.cbDuration > 0 {
		bp.cb = newCircuitBreaker(cfg.name, cfg.cbThreshold, cfg.cbDuration, cfg.logger, cfg.metrics)
	}
	return bp
}

func (bp *batchProcessor[T, R]) Process(ctx context.Context, items []T, fn ProcessFunc[T, R]) (*BatchResult[R], error) {
	if fn == nil {
		return nil, apperrors.InvalidParam("process function must not be nil")
	}
	if !bp.enter() {
		return nil, ErrShutdown
	}
	defer bp.activeWg.Done()

	n := len(items)
	if n == 0 {
		return &BatchResult[R]{Results: []*ItemResult[R]{}}, nil
	}

	batchStart := time.Now()

	// ctx only gates starting new items.  Running items get runCtx, which
	// survives cancellation of the caller.
	runCtx := context.WithoutCancel(ctx)

	results := make([]*ItemResult[R], n)
	sem := make(chan struct{}, bp.cfg.maxConcurrency)
	var wg sync.WaitGroup

dispatch:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			bp.markUndispatched(results[i:], i, ctx.Err())
			break
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			bp.markUndispatched(results[i:], i, ctx.Err())
			break dispatch
		}

		wg.Add(1)
		go func(idx int, item T) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = bp.processOneItem(runCtx, idx, item, fn)
		}(i, items[i])
	}
	wg.Wait()

	br := bp.buildBatchResult(results, time.Since(batchStart))
	bp.metrics.RecordBatchProcessing(ctx, &BatchMetricParams{
		BatchName:         bp.cfg.name,
		TotalItems:        br.TotalCount,
		SuccessItems:      br.SuccessCount,
		FailedItems:       br.FailureCount - br.CancelledCount,
		CancelledItems:    br.CancelledCount,
		TotalDurationMs:   br.TotalDurationMs,
		AvgItemDurationMs: br.AvgItemDurationMs,
		MaxConcurrency:    bp.cfg.maxConcurrency,
	})
	return br, nil
}

// markUndispatched fills rs, starting at input index first, with items that
// were never started.
func (bp *batchProcessor[T, R]) markUndispatched(rs []*ItemResult[R], first int, cause error) {
	status := ItemStatusCancelled
	if stdliberrors.Is(cause, context.DeadlineExceeded) {
		status = ItemStatusTimeout
	}
	for j := range rs {
		rs[j] = &ItemResult[R]{
			Index:  first + j,
			Error:  fmt.Errorf("%w: %v", ErrNotDispatched, cause),
			Status: status,
		}
	}
	bp.logger.Debug("batch dispatch stopped",
		logging.String("batch", bp.cfg.name),
		logging.Int("undispatched", len(rs)),
		logging.Err(cause))
}

// enter registers a Process call unless the processor is shut down.
func (bp *batchProcessor[T, R]) enter() bool {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	if bp.shutdown {
		return false
	}
	bp.activeWg.Add(1)
	return true
}

func (bp *batchProcessor[T, R]) Shutdown(ctx context.Context) error {
	bp.mu.Lock()
	bp.shutdown = true
	bp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		bp.activeWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processOneItem runs fn behind the circuit breaker on runCtx bounded by the
// item timeout.
func (bp *batchProcessor[T, R]) processOneItem(runCtx context.Context, idx int, item T, fn ProcessFunc[T, R]) *ItemResult[R] {
	itemStart := time.Now()

	if !bp.cb.allow() {
		return &ItemResult[R]{
			Index:      idx,
			Error:      ErrCircuitOpen,
			Status:     ItemStatusFailed,
			DurationMs: msSince(itemStart),
		}
	}

	itemCtx, cancel := context.WithTimeout(runCtx, bp.cfg.itemTimeout)
	result, err := fn(itemCtx, item)
	cancel()

	if err != nil {
		bp.cb.recordFailure()
		return &ItemResult[R]{
			Index:      idx,
			Error:      err,
			Status:     classifyError(err),
			DurationMs: msSince(itemStart),
		}
	}
	bp.cb.recordSuccess()
	return &ItemResult[R]{
		Index:      idx,
		Result:     result,
		Status:     ItemStatusSuccess,
		DurationMs: msSince(itemStart),
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (bp *batchProcessor[T, R]) buildBatchResult(results []*ItemResult[R], totalDuration time.Duration) *BatchResult[R] {
	br := &BatchResult[R]{
		Results:         results,
		TotalCount:      len(results),
		TotalDurationMs: float64(totalDuration.Microseconds()) / 1000.0,
	}
	var sumItemMs float64
	var ran int
	for _, r := range results {
		switch {
		case r.Status == ItemStatusSuccess:
			br.SuccessCount++
		case stdliberrors.Is(r.Error, ErrNotDispatched):
			br.FailureCount++
			br.CancelledCount++
			continue
		default:
			br.FailureCount++
		}
		sumItemMs += r.DurationMs
		ran++
	}
	if ran > 0 {
		br.AvgItemDurationMs = sumItemMs / float64(ran)
	}
	return br
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000.0
}

func classifyError(err error) ItemStatus {
	switch {
	case err == nil:
		return ItemStatusSuccess
	case stdliberrors.Is(err, context.DeadlineExceeded):
		return ItemStatusTimeout
	case stdliberrors.Is(err, context.Canceled):
		return ItemStatusCancelled
	default:
		return ItemStatusFailed
	}
}
