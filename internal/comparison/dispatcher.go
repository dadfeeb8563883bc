// Package comparison sends a complete batch to the agent exactly once.
package comparison

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
)

const defaultTimeout = 2 * time.Minute

// Reason classifies a dispatch failure.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonAgent     Reason = "agent"
	ReasonMalformed Reason = "malformed"
	ReasonCanceled  Reason = "canceled"
)

// DispatchError is the single batch level failure of a comparison. No partial verdict accompanies it.
type DispatchError struct {
	BatchID string
	Reason  Reason
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch batch %s: %s: %v", e.BatchID, e.Reason, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// IsReason reports whether err is a DispatchError with the given reason.
func IsReason(err error, reason Reason) bool {
	var target *DispatchError
	return errors.As(err, &target) && target.Reason == reason
}

// Dispatcher bounds a comparator call in time and classifies its failures.
type Dispatcher struct {
	comparator ai.Comparator
	timeout    time.Duration
	logger     *zap.Logger
}

// NewDispatcher wraps the comparator. A non positive timeout selects the default.
func NewDispatcher(comparator ai.Comparator, timeout time.Duration, log *zap.Logger) (*Dispatcher, error) {
	if comparator == nil {
		return nil, errors.New("comparator is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{comparator: comparator, timeout: timeout, logger: logger.WithFields(log)}, nil
}

func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

type answer struct {
	verdict *ai.Verdict
	err     error
}

// Dispatch sends the batch in a single comparator call. The call is abandoned when the timeout elapses
// or ctx is canceled, even if the comparator ignores its context.
func (d *Dispatcher) Dispatch(ctx context.Context, batch *document.Batch) (*ai.Verdict, error) {
	if batch.Len() == 0 {
		id := ""
		if batch != nil {
			id = batch.ID
		}
		return nil, &document.EmptyBatchError{BatchID: id}
	}

	log := d.logger.With(logger.BatchFields(batch.ID, batch.UserID)...)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan answer, 1)
	started := time.Now()
	go func() {
		verdict, err := d.comparator.Compare(callCtx, batch)
		done <- answer{verdict: verdict, err: err}
	}()

	var res answer
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = answer{err: callCtx.Err()}
	}

	if res.err == nil && res.verdict == nil {
		res.err = fmt.Errorf("%w: agent returned no verdict", ai.ErrMalformedVerdict)
	}

	if res.err != nil {
		dispatchErr := &DispatchError{BatchID: batch.ID, Reason: classify(ctx, res.err), Err: res.err}
		log.Error("comparison failed",
			zap.String("reason", string(dispatchErr.Reason)),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(res.err),
		)
		return nil, dispatchErr
	}

	log.Info("comparison completed",
		zap.String("mode", string(res.verdict.Mode)),
		zap.Int("candidates", len(res.verdict.Candidates)),
		zap.Duration("elapsed", time.Since(started)),
	)
	return res.verdict, nil
}

// classify looks at the caller context first: a canceled caller is not a timeout of the agent.
func classify(parent context.Context, err error) Reason {
	switch {
	case errors.Is(parent.Err(), context.Canceled):
		return ReasonCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ai.ErrMalformedVerdict):
		return ReasonMalformed
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	default:
		return ReasonAgent
	}
}
