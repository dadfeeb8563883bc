// Package ranker runs a request end to end: intake, extraction, one comparison call, report and history.
package ranker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/history"
	"github.com/spigell/cv-ranker/internal/intake"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/report"
)

const recordTimeout = 10 * time.Second

// Processor turns uploads into results in upload order.
type Processor interface {
	Process(ctx context.Context, uploads []document.Upload) ([]document.Result, error)
}

// Dispatcher sends a batch to the agent.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch *document.Batch) (*ai.Verdict, error)
}

// Archiver keeps the originals of fallback documents.
type Archiver interface {
	Store(ctx context.Context, batch *document.Batch) ([]string, error)
}

// Request is what a caller submits.
type Request struct {
	// RequestID is optional, see document.ResolveBatchID.
	RequestID string
	UserID    string
	Query     string
	Uploads   []document.Upload
}

type Ranker struct {
	processor  Processor
	dispatcher Dispatcher
	intakeCfg  *intake.Config
	steps      []intake.Filter
	recorder   history.Recorder
	archiver   Archiver
	withText   bool
	logger     *zap.Logger
}

type Option func(*Ranker)

// WithIntake replaces the default intake steps and limits.
func WithIntake(cfg *intake.Config, steps []intake.Filter) Option {
	return func(r *Ranker) {
		if cfg != nil {
			r.intakeCfg = cfg
		}
		if steps != nil {
			r.steps = steps
		}
	}
}

func WithRecorder(recorder history.Recorder) Option {
	return func(r *Ranker) {
		if recorder != nil {
			r.recorder = recorder
		}
	}
}

func WithArchiver(archiver Archiver) Option {
	return func(r *Ranker) { r.archiver = archiver }
}

// WithExtractedText includes the extracted texts in reports.
func WithExtractedText() Option {
	return func(r *Ranker) { r.withText = true }
}

func New(processor Processor, dispatcher Dispatcher, log *zap.Logger, opts ...Option) (*Ranker, error) {
	if processor == nil {
		return nil, errors.New("processor is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	r := &Ranker{
		processor:  processor,
		dispatcher: dispatcher,
		intakeCfg:  &intake.Config{},
		steps:      intake.DefaultSteps(),
		recorder:   history.Nop{},
		logger:     logger.WithFields(log),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Rank prepares the batch and compares it. Every outcome, failures included, is recorded in history.
func (r *Ranker) Rank(ctx context.Context, req Request) (*report.Report, error) {
	req.RequestID = document.ResolveBatchID(req.RequestID)

	batch, err := r.Prepare(ctx, req)
	if err != nil {
		r.RecordFailure(ctx, req, err)
		return nil, err
	}
	return r.Compare(ctx, batch)
}

// Prepare runs intake and extraction. A request without usable uploads fails with EmptyBatchError before
// anything is normalized.
func (r *Ranker) Prepare(ctx context.Context, req Request) (*document.Batch, error) {
	id := document.ResolveBatchID(req.RequestID)
	log := r.logger.With(logger.BatchFields(id, req.UserID)...)

	uploads, err := intake.Run(ctx, r.intakeCfg, intake.Deps{Logger: log}, r.steps, req.Uploads)
	if err != nil {
		return nil, fmt.Errorf("intake: %w", err)
	}
	if len(uploads) == 0 {
		return nil, &document.EmptyBatchError{BatchID: id}
	}

	for i := range uploads {
		if uploads[i].UserID == "" {
			uploads[i].UserID = req.UserID
		}
	}

	log.Info("processing batch",
		zap.Int("documents", len(uploads)),
		zap.String("mode", string(document.ModeFor(req.Query))),
	)

	results, err := r.processor.Process(ctx, uploads)
	if err != nil {
		return nil, fmt.Errorf("extract documents: %w", err)
	}

	return &document.Batch{
		ID:      id,
		UserID:  req.UserID,
		Query:   req.Query,
		Results: results,
	}, nil
}

// Compare archives fallback originals, dispatches the batch once and builds the report. On failure the
// report still describes the documents and is returned with the error.
func (r *Ranker) Compare(ctx context.Context, batch *document.Batch) (*report.Report, error) {
	if batch.Len() == 0 {
		id := ""
		if batch != nil {
			id = batch.ID
		}
		return nil, &document.EmptyBatchError{BatchID: id}
	}

	log := r.logger.With(logger.BatchFields(batch.ID, batch.UserID)...)
	rep := report.New(batch, r.withText)

	if r.archiver != nil && len(batch.Fallbacks()) > 0 {
		names, err := r.archiver.Store(ctx, batch)
		if err != nil {
			log.Warn("failed to archive fallback originals", zap.Error(err))
		}
		rep.Archived = names
	}

	entry := history.Entry{
		RequestID:  batch.ID,
		UserID:     batch.UserID,
		Query:      batch.QueryLabel(),
		FilesCount: batch.Len(),
	}

	verdict, err := r.dispatcher.Dispatch(ctx, batch)
	if err != nil {
		entry.Result = "Error: " + err.Error()
		entry.Status = history.StatusError
		r.record(ctx, entry)
		return rep, err
	}

	rep.SetVerdict(verdict)
	entry.Result = rep.Result
	entry.Status = history.StatusSuccess
	r.record(ctx, entry)

	log.Info("batch completed",
		zap.Int("documents", batch.Len()),
		zap.Int("fallbacks", rep.Fallbacks()),
	)
	return rep, nil
}

// RecordFailure stores a request that failed before a batch could be compared.
func (r *Ranker) RecordFailure(ctx context.Context, req Request, err error) {
	query := req.Query
	if document.ModeFor(query) == document.ModeSummarize {
		query = document.SummarizeQueryLabel
	}
	r.record(ctx, history.Entry{
		RequestID:  document.ResolveBatchID(req.RequestID),
		UserID:     req.UserID,
		Query:      query,
		Result:     "Error: " + err.Error(),
		FilesCount: len(req.Uploads),
		Status:     history.StatusError,
	})
}

// record stores the entry even when ctx was canceled.
func (r *Ranker) record(ctx context.Context, e history.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	e.Timestamp = time.Now()
	if err := r.recorder.Record(ctx, e); err != nil {
		r.logger.Warn("failed to record request",
			zap.String("request_id", e.RequestID),
			zap.Error(err),
		)
	}
}
