package extraction

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/normalize"
)

const (
	defaultDocumentConcurrency = 4
	defaultPageConcurrency     = 4
)

// Normalizer turns an upload into pages.
type Normalizer interface {
	Normalize(ctx context.Context, u document.Upload) (iter.Seq2[document.Page, error], error)
}

// Extractor classifies one page.
type Extractor interface {
	Extract(ctx context.Context, page document.Page) document.Outcome
}

// Pipeline processes the uploads of a batch into document results.
type Pipeline struct {
	normalizer Normalizer
	extractor  Extractor
	aggregator *Aggregator
	docLimit   int
	pageLimit  int
	logger     *zap.Logger
}

type Option func(*Pipeline)

// WithDocumentConcurrency limits how many documents are processed at once.
func WithDocumentConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.docLimit = n
		}
	}
}

// WithPageConcurrency limits how many pages of one document are extracted at once.
func WithPageConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.pageLimit = n
		}
	}
}

func NewPipeline(normalizer Normalizer, extractor Extractor, aggregator *Aggregator, log *zap.Logger, opts ...Option) (*Pipeline, error) {
	if normalizer == nil {
		return nil, errors.New("normalizer is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	if aggregator == nil {
		aggregator = NewAggregator(DefaultMaxFailedFraction)
	}

	p := &Pipeline{
		normalizer: normalizer,
		extractor:  extractor,
		aggregator: aggregator,
		docLimit:   defaultDocumentConcurrency,
		pageLimit:  defaultPageConcurrency,
		logger:     logger.WithFields(log),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process returns one result per upload, in upload order. Documents that cannot be read are turned into
// raw fallbacks. The only error is the context error: on cancellation no new document is started and the
// slots of unfinished documents stay nil.
func (p *Pipeline) Process(ctx context.Context, uploads []document.Upload) ([]document.Result, error) {
	results := make([]document.Result, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.docLimit)

	for i, u := range uploads {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := p.ProcessDocument(gctx, u)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// ProcessDocument normalizes, extracts and aggregates a single upload.
func (p *Pipeline) ProcessDocument(ctx context.Context, u document.Upload) (document.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := p.logger.With(logger.DocumentFields(u.Index, u.Filename)...)

	pages, err := p.normalizer.Normalize(ctx, u)
	if err != nil {
		var unsupported *document.UnsupportedFormatError
		if errors.As(err, &unsupported) {
			log.Info("unsupported format, forwarding original", zap.String("media_type", unsupported.MediaType.String()))
		} else {
			log.Warn("document could not be normalized, forwarding original", zap.Error(err))
		}
		return document.NewRawFallback(u, err.Error()), nil
	}

	var (
		mu       sync.Mutex
		outcomes []document.Outcome
	)
	collect := func(o document.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(p.pageLimit)

	for page, err := range pages {
		if err != nil {
			if errors.Is(err, normalize.ErrSequenceConsumed) {
				break
			}
			log.Debug("page could not be normalized", zap.Int("page", page.Index), zap.Error(err))
			collect(document.Failed{Page: page.Index, Reason: err.Error()})
			continue
		}
		g.Go(func() error {
			collect(p.extractor.Extract(ctx, page))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := p.aggregator.Aggregate(u, outcomes)
	switch r := result.(type) {
	case document.ExtractedText:
		log.Info("text extracted",
			zap.Int("pages", r.Pages),
			zap.Int("failed_pages", r.FailedPages),
			zap.Float64("confidence", r.Confidence),
		)
	case document.RawFallback:
		log.Info("falling back to original document", zap.String("reason", r.Reason))
	}
	return result, nil
}

// Describe renders a one line summary of a result for logs and prompts.
func Describe(r document.Result) string {
	switch r := r.(type) {
	case document.ExtractedText:
		return fmt.Sprintf("%s: text from %d/%d pages (confidence %.2f)",
			r.Document.Filename, r.Pages-r.FailedPages, r.Pages, r.Confidence)
	case document.RawFallback:
		return fmt.Sprintf("%s: original %s forwarded (%s)", r.Document.Filename, r.MIMEType, r.Reason)
	default:
		return ""
	}
}
