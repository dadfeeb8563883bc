package ocr

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
)

const defaultMinConfidence = 0.4

// Extractor turns pages into outcomes using a shared engine.
type Extractor struct {
	engine        Engine
	minConfidence float64
	logger        *zap.Logger
}

// NewExtractor wraps the engine. A negative minConfidence selects the default, zero accepts any
// recognized text.
func NewExtractor(engine Engine, minConfidence float64, log *zap.Logger) (*Extractor, error) {
	if engine == nil {
		return nil, errors.New("ocr engine is required")
	}
	if minConfidence < 0 {
		minConfidence = defaultMinConfidence
	}
	if minConfidence > 1 {
		return nil, fmt.Errorf("minimum confidence %.2f is above 1", minConfidence)
	}

	return &Extractor{
		engine:        engine,
		minConfidence: minConfidence,
		logger:        logger.WithFields(log, zap.String("ocr_engine", engine.Name())),
	}, nil
}

// Languages returns the language set of the underlying engine.
func (x *Extractor) Languages() []string {
	return slices.Clone(x.engine.Languages())
}

// MinConfidence returns the threshold below which pages fail.
func (x *Extractor) MinConfidence() float64 { return x.minConfidence }

// Extract produces the outcome of one page. It never returns an error: engine errors, empty text and low
// confidence all become Failed.
func (x *Extractor) Extract(ctx context.Context, page document.Page) document.Outcome {
	if page.HasTextLayer() {
		return document.Text{
			Page:       page.Index,
			Content:    clean(page.TextLayer),
			Confidence: 1,
			Source:     document.SourceTextLayer,
		}
	}

	if len(page.Image) == 0 {
		return document.Failed{Page: page.Index, Reason: "page has no image"}
	}

	rec, err := x.engine.Recognize(ctx, page.Image)
	if err != nil {
		x.logger.Debug("ocr failed", zap.Int("page", page.Index), zap.Error(err))
		return document.Failed{Page: page.Index, Reason: err.Error()}
	}

	text := clean(rec.Text)
	if text == "" {
		return document.Failed{Page: page.Index, Reason: ErrNoText.Error()}
	}

	if rec.Confidence < x.minConfidence {
		x.logger.Debug("ocr confidence below threshold",
			zap.Int("page", page.Index),
			zap.Float64("confidence", rec.Confidence),
			zap.Float64("threshold", x.minConfidence),
			zap.Int("regions", rec.Regions),
		)
		return document.Failed{
			Page:   page.Index,
			Reason: fmt.Sprintf("confidence %.2f below %.2f", rec.Confidence, x.minConfidence),
		}
	}

	x.logger.Debug("page recognized",
		zap.Int("page", page.Index),
		zap.Int("regions", rec.Regions),
		zap.Float64("confidence", rec.Confidence),
	)
	return document.Text{
		Page:       page.Index,
		Content:    text,
		Confidence: rec.Confidence,
		Source:     document.SourceOCR,
	}
}

// clean applies NFC normalization, trims lines and drops blank ones.
func clean(s string) string {
	s = norm.NFC.String(s)
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
