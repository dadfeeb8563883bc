// Package extraction runs documents through normalization and text extraction and folds the page
// outcomes into one result per document.
package extraction

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spigell/cv-ranker/internal/document"
)

// PageSeparator is placed between the texts of consecutive pages.
const PageSeparator = "\n\n---\n\n"

// DefaultMaxFailedFraction only falls back when every page failed.
const DefaultMaxFailedFraction = 1.0

// Aggregator decides between extracted text and raw fallback for a document.
type Aggregator struct {
	maxFailedFraction float64
}

// NewAggregator returns an aggregator that falls back to the original bytes when the fraction of failed
// pages exceeds maxFailedFraction, or when no page succeeded at all. Values outside [0,1] select the default.
func NewAggregator(maxFailedFraction float64) *Aggregator {
	if maxFailedFraction < 0 || maxFailedFraction > 1 {
		maxFailedFraction = DefaultMaxFailedFraction
	}
	return &Aggregator{maxFailedFraction: maxFailedFraction}
}

// MaxFailedFraction returns the configured tolerance.
func (a *Aggregator) MaxFailedFraction() float64 { return a.maxFailedFraction }

// Aggregate folds outcomes into the document result. The order of outcomes does not matter: pages are
// joined by their index. Failed pages are omitted from the text.
func (a *Aggregator) Aggregate(u document.Upload, outcomes []document.Outcome) document.Result {
	if len(outcomes) == 0 {
		return document.NewRawFallback(u, "no pages")
	}

	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(x, y document.Outcome) int {
		return x.PageIndex() - y.PageIndex()
	})

	var (
		texts      []string
		failed     int
		confidence float64
		firstErr   string
	)
	for _, o := range sorted {
		switch o := o.(type) {
		case document.Text:
			texts = append(texts, o.Content)
			confidence += o.Confidence
		case document.Failed:
			failed++
			if firstErr == "" {
				firstErr = fmt.Sprintf("page %d: %s", o.Page+1, o.Reason)
			}
		}
	}

	if len(texts) == 0 {
		return document.NewRawFallback(u, fmt.Sprintf("all %d pages failed, %s", len(sorted), firstErr))
	}

	fraction := float64(failed) / float64(len(sorted))
	if fraction > a.maxFailedFraction {
		return document.NewRawFallback(u,
			fmt.Sprintf("%d of %d pages failed (%.2f > %.2f), %s", failed, len(sorted), fraction, a.maxFailedFraction, firstErr))
	}

	return document.ExtractedText{
		Document:    u.Identity(),
		Text:        strings.Join(texts, PageSeparator),
		Pages:       len(sorted),
		FailedPages: failed,
		Confidence:  confidence / float64(len(texts)),
	}
}
