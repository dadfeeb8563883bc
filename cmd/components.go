package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/ai/gemini"
	"github.com/spigell/cv-ranker/internal/archive"
	"github.com/spigell/cv-ranker/internal/comparison"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/extraction"
	"github.com/spigell/cv-ranker/internal/history"
	"github.com/spigell/cv-ranker/internal/intake"
	"github.com/spigell/cv-ranker/internal/normalize"
	"github.com/spigell/cv-ranker/internal/ocr"
	"github.com/spigell/cv-ranker/internal/ocr/tesseract"
	"github.com/spigell/cv-ranker/internal/secrets"
)

// newPipeline builds the OCR engine once and the extraction pipeline around it. The caller owns the
// engine and closes it after the last batch.
func newPipeline(config *Config, logger *zap.Logger) (*extraction.Pipeline, *tesseract.Engine, error) {
	engine, err := tesseract.New(tesseract.Config{
		Languages:      config.OCR.Languages,
		PoolSize:       config.OCR.PoolSize,
		TessdataPrefix: config.OCR.TessdataPrefix,
		PageSegMode:    config.OCR.PageSegMode,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("starting ocr engine: %w", err)
	}

	extractor, err := ocr.NewExtractor(engine, config.OCR.MinConfidence, logger)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	pipeline, err := extraction.NewPipeline(
		normalize.New(logger, normalize.WithMinWidth(config.Normalize.MinWidth)),
		extractor,
		extraction.NewAggregator(config.Extraction.MaxFailedFraction),
		logger,
		extraction.WithDocumentConcurrency(config.Extraction.DocumentConcurrency),
		extraction.WithPageConcurrency(config.Extraction.PageConcurrency),
	)
	if err != nil {
		engine.Close()
		return nil, nil, err
	}

	logger.Debug("extraction pipeline ready",
		zap.Strings("languages", extractor.Languages()),
		zap.Float64("min_confidence", extractor.MinConfidence()),
		zap.Float64("max_failed_fraction", config.Extraction.MaxFailedFraction),
	)
	return pipeline, engine, nil
}

func newDispatcher(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (*comparison.Dispatcher, error) {
	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required")
	}

	var apiKey string
	if !strings.EqualFold(cfg.Gemini.Backend, gemini.BackendVertex) {
		key, err := secrets.Load(secrets.Source{
			Name:  "gemini api key",
			File:  cfg.Gemini.APIKeyFile,
			Value: cfg.Gemini.APIKey,
			Env:   "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
		}
		apiKey = key
	}

	genLogger := logger.With(zap.Int("ai_retry_attempts", cfg.Gemini.MaxRetries))

	generator, err := gemini.NewGenerator(ctx, gemini.Config{
		Backend:     cfg.Gemini.Backend,
		APIKey:      apiKey,
		Project:     cfg.Gemini.Project,
		Location:    cfg.Gemini.Location,
		Model:       cfg.Gemini.Model,
		MaxRetries:  cfg.Gemini.MaxRetries,
		Temperature: cfg.Gemini.Temperature,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	comparator := gemini.NewComparator(generator, cfg.Gemini.MaxLogLength, logger)
	comparator.SetPromptOverrides(gemini.PromptOverrides{
		Language:         cfg.Language,
		ExtraCriteria:    cfg.ExtraCriteria,
		UserInstructions: cfg.UserInstructions,
	})

	return comparison.NewDispatcher(comparator, cfg.Timeout, logger)
}

func newRecorder(ctx context.Context, cfg *HistoryConfig, logger *zap.Logger) (history.Recorder, error) {
	if cfg == nil {
		return history.Nop{}, nil
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return history.Nop{}, nil
	case "sqlite":
		db, err := history.OpenSQLite(ctx, cfg.Dir)
		if err != nil {
			return nil, err
		}
		logger.Debug("recording history", zap.String("backend", "sqlite"), zap.String("path", db.Path()))
		return db, nil
	case "firestore":
		fs, err := history.NewFirestore(ctx, cfg.Project, cfg.Collection)
		if err != nil {
			return nil, err
		}
		logger.Debug("recording history", zap.String("backend", "firestore"), zap.String("collection", cfg.Collection))
		return fs, nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}

// newArchive returns nil when no bucket is configured.
func newArchive(ctx context.Context, cfg *ArchiveConfig, logger *zap.Logger) (*archive.GCS, error) {
	if cfg == nil || strings.TrimSpace(cfg.Bucket) == "" {
		return nil, nil
	}
	return archive.NewGCS(ctx, cfg.Bucket, cfg.Prefix, logger)
}

func intakeSettings(cfg *IntakeConfig) (*intake.Config, []intake.Filter) {
	steps := intake.DefaultSteps()
	if cfg == nil {
		return &intake.Config{}, steps
	}
	for _, name := range cfg.Enabled {
		intake.EnableByName(steps, strings.TrimSpace(name))
	}
	for _, name := range cfg.Disabled {
		intake.DisableByName(steps, strings.TrimSpace(name), "disabled in config")
	}
	return &intake.Config{MaxDocuments: cfg.MaxDocuments, MaxFileSize: cfg.MaxFileSize}, steps
}

// logIntake validates the steps against cfg and prints their status once at startup.
func logIntake(logger *zap.Logger, cfg *intake.Config, steps []intake.Filter) error {
	for _, step := range steps {
		if err := step.Validate(cfg); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, s := range intake.Describe(steps) {
		fields := []zap.Field{zap.String("name", s.Name), zap.Bool("enabled", s.Enabled)}
		if s.Reason != "" {
			fields = append(fields, zap.String("reason", s.Reason))
		}
		for _, key := range slices.Sorted(maps.Keys(s.Details)) {
			fields = append(fields, zap.String(key, s.Details[key]))
		}
		logger.Info("intake check", fields...)
	}
	return nil
}

// readUploads loads the files in argument order. The media type is resolved later from the name and
// the content.
func readUploads(paths []string, userID string) ([]document.Upload, error) {
	uploads := make([]document.Upload, 0, len(paths))
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		uploads = append(uploads, document.Upload{
			Index:    i,
			Filename: filepath.Base(path),
			Data:     data,
			UserID:   userID,
		})
	}
	return uploads, nil
}

func defaultUser() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "cli"
}
