// Package tesseract implements ocr.Engine on top of gosseract.
package tesseract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"slices"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/ocr"
)

const defaultPoolSize = 2

// Config describes the process-wide tesseract setup.
type Config struct {
	Languages []string
	// PoolSize is the number of initialized clients, and so the number of pages recognized in parallel.
	PoolSize int
	// TessdataPrefix overrides the directory tesseract loads trained data from.
	TessdataPrefix string
	// PageSegMode is a tesseract page segmentation mode, zero keeps the library default.
	PageSegMode int
}

// Engine is a pool of gosseract clients. A gosseract client is not safe for concurrent use, so every
// recognition borrows one. Clients are configured and initialized in New and never reconfigured.
type Engine struct {
	languages []string
	clients   chan *gosseract.Client
	all       []*gosseract.Client
	logger    *zap.Logger
	closeOnce sync.Once
}

var _ ocr.Engine = (*Engine)(nil)

// New builds and warms up the pool. It is expensive and meant to run once at startup.
func New(cfg Config, log *zap.Logger) (*Engine, error) {
	languages := normalizeLanguages(cfg.Languages)
	if len(languages) == 0 {
		languages = slices.Clone(ocr.DefaultLanguages)
	}

	size := cfg.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	e := &Engine{
		languages: languages,
		clients:   make(chan *gosseract.Client, size),
		logger:    logger.WithFields(log, zap.String("ocr_engine", "tesseract"), zap.Strings("languages", languages)),
	}

	warmup, err := blankPNG()
	if err != nil {
		return nil, err
	}

	for i := range size {
		client, err := newClient(cfg, languages)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("tesseract client %d: %w", i, err)
		}
		e.all = append(e.all, client)

		// The first recognition initializes the tesseract API with the language data.
		if err := client.SetImageFromBytes(warmup); err != nil {
			e.Close()
			return nil, fmt.Errorf("tesseract client %d warm-up: %w", i, err)
		}
		if _, err := client.Text(); err != nil {
			e.Close()
			return nil, fmt.Errorf("tesseract client %d warm-up: %w", i, err)
		}
		e.clients <- client
	}

	e.logger.Info("ocr engine ready", zap.Int("pool_size", size), zap.String("version", gosseract.Version()))
	return e, nil
}

func newClient(cfg Config, languages []string) (*gosseract.Client, error) {
	client := gosseract.NewClient()

	if prefix := strings.TrimSpace(cfg.TessdataPrefix); prefix != "" {
		if err := client.SetTessdataPrefix(prefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("set languages: %w", err)
	}
	if cfg.PageSegMode > 0 {
		if err := client.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
			client.Close()
			return nil, fmt.Errorf("set page segmentation mode: %w", err)
		}
	}
	return client, nil
}

func (e *Engine) Name() string { return "tesseract" }

func (e *Engine) Languages() []string { return slices.Clone(e.languages) }

// Recognize reads the text lines of the image. Confidence is the mean of the line confidences.
func (e *Engine) Recognize(ctx context.Context, img []byte) (ocr.Recognition, error) {
	var client *gosseract.Client
	select {
	case <-ctx.Done():
		return ocr.Recognition{}, ctx.Err()
	case c, ok := <-e.clients:
		if !ok {
			return ocr.Recognition{}, errors.New("tesseract engine is closed")
		}
		client = c
	}
	defer func() { e.clients <- client }()

	if err := client.SetImageFromBytes(img); err != nil {
		return ocr.Recognition{}, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return ocr.Recognition{}, fmt.Errorf("recognize text: %w", err)
	}

	lines := make([]string, 0, len(boxes))
	var sum float64
	for _, box := range boxes {
		line := strings.TrimSpace(box.Word)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		sum += box.Confidence / 100.0
	}

	if len(lines) == 0 {
		return ocr.Recognition{}, ocr.ErrNoText
	}

	return ocr.Recognition{
		Text:       strings.Join(lines, "\n"),
		Confidence: sum / float64(len(lines)),
		Regions:    len(lines),
	}, nil
}

// Close releases all clients. It must only be called once no recognition is running.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		for _, client := range e.all {
			client.Close()
		}
	})
	return nil
}

// AvailableLanguages lists the trained data installed for tesseract.
func AvailableLanguages() ([]string, error) {
	return gosseract.GetAvailableLanguages()
}

func normalizeLanguages(langs []string) []string {
	out := make([]string, 0, len(langs))
	for _, lang := range langs {
		lang = strings.TrimSpace(lang)
		if lang != "" && !slices.Contains(out, lang) {
			out = append(out, lang)
		}
	}
	return out
}

func blankPNG() ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode warm-up image: %w", err)
	}
	return buf.Bytes(), nil
}
