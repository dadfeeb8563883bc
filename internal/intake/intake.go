// Package intake checks the uploads of a batch before any of them is processed.
package intake

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/cv-ranker/internal/document"
)

// Filter is a single intake step applied to the uploads of a batch.
type Filter interface {
	Name() string
	Disable(reason string)
	Enable()
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, uploads []document.Upload) ([]document.Upload, Step, error)
}

// Deps aggregates dependencies shared across all intake steps.
type Deps struct {
	Logger *zap.Logger
}

// Step describes the result of executing an intake step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains the limits consumed by the steps.
type Config struct {
	// MaxDocuments rejects batches with more uploads. Zero means no limit.
	MaxDocuments int
	// MaxFileSize drops uploads larger than the given number of bytes. Zero means no limit.
	MaxFileSize int64
}

// Status represents runtime information about a step.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

type statusProvider interface {
	Status() Status
}

// DefaultSteps returns the steps in the order they run. The duplicates step is included but disabled, see
// EnableByName.
func DefaultSteps() []Filter {
	return []Filter{
		NewMaxDocuments(),
		NewEmptyPayload(),
		NewDuplicates(),
		NewMaxSize(),
	}
}

// DisableByName marks a step with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// EnableByName turns on a step with the provided name.
func EnableByName(steps []Filter, name string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Enable()
		}
	}
}

// Run validates and then executes the steps sequentially. Uploads that survive are renumbered so their
// indexes stay contiguous. An empty result is not an error here: the caller turns it into an empty batch.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, uploads []document.Upload) ([]document.Upload, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Info("intake step disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, uploads)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Info("intake step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		uploads = next
	}

	out := make([]document.Upload, len(uploads))
	for i, u := range uploads {
		u.Index = i
		out[i] = u
	}
	return out, nil
}

// Describe returns status entries for the provided steps.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
