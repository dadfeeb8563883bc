// Package normalize turns uploaded documents into pages that the text extractor understands.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
	"go.uber.org/zap"
)

const defaultMinWidth = 1200

var (
	// ErrSequenceConsumed is yielded when a page sequence is iterated a second time.
	ErrSequenceConsumed = errors.New("page sequence already consumed")
	// ErrNoContent is returned for documents or pages that have neither text nor images.
	ErrNoContent = errors.New("no text layer or images found")
)

// Normalizer converts uploads into lazy page sequences.
type Normalizer struct {
	logger *zap.Logger
	// minWidth is the width small images are scaled up to before OCR.
	minWidth int
}

type Option func(*Normalizer)

// WithMinWidth overrides the width small images are scaled up to. Zero disables scaling.
func WithMinWidth(width int) Option {
	return func(n *Normalizer) {
		if width >= 0 {
			n.minWidth = width
		}
	}
}

func New(log *zap.Logger, opts ...Option) *Normalizer {
	n := &Normalizer{
		logger:   logger.WithFields(log),
		minWidth: defaultMinWidth,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates the upload and returns its pages as a lazy, finite sequence that can be ranged
// over once. Errors that concern the whole document are returned directly. Errors of a single page are
// yielded next to that page's index so siblings are still produced.
func (n *Normalizer) Normalize(ctx context.Context, u document.Upload) (iter.Seq2[document.Page, error], error) {
	if len(u.Data) == 0 {
		return nil, fmt.Errorf("%q: %w", u.Filename, document.ErrEmptyPayload)
	}

	mediaType := u.ResolvedMediaType()
	log := n.logger.With(logger.DocumentFields(u.Index, u.Filename)...).With(zap.String("media_type", mediaType.String()))

	switch mediaType {
	case document.MediaPDF:
		return n.pdfPages(ctx, u, log)
	case document.MediaJPEG, document.MediaPNG:
		return sequence(ctx, 1, func(int) (document.Page, error) {
			img, err := prepareImage(u.Data, n.minWidth)
			return document.Page{Image: img, Format: document.MediaPNG}, err
		}), nil
	case document.MediaDOCX:
		return n.docxPages(ctx, u, log)
	default:
		return nil, &document.UnsupportedFormatError{Filename: u.Filename, MediaType: mediaType}
	}
}

// sequence yields count pages produced on demand. The returned sequence can be consumed once.
func sequence(ctx context.Context, count int, produce func(i int) (document.Page, error)) iter.Seq2[document.Page, error] {
	var consumed atomic.Bool
	return func(yield func(document.Page, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(document.Page{Index: -1}, ErrSequenceConsumed)
			return
		}
		for i := range count {
			if ctx.Err() != nil {
				return
			}
			page, err := produce(i)
			page.Index = i
			if !yield(page, err) {
				return
			}
		}
	}
}

// safely converts panics of third-party decoders into errors.
func safely(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: recovered from panic: %v", name, r)
		}
	}()
	return fn()
}
