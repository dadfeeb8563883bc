package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-pro"
	defaultMaxRetries = 3
	baseRetryDelay    = 2 * time.Second
	// maxRetryDelay is the longest server requested delay the generator is willing to wait for.
	maxRetryDelay = 30 * time.Second

	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

var wait = utils.WaitFor

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config selects the backend and model of the generator.
type Config struct {
	// Backend is "gemini" (API key) or "vertex" (application default credentials).
	Backend  string
	APIKey   string
	Project  string
	Location string

	Model       string
	MaxRetries  int
	Temperature *float32
}

// Generator wraps the Google GenAI client to send single multimodal requests.
type Generator struct {
	models      contentModels
	model       string
	maxRetries  int
	temperature *float32
	logger      *zap.Logger
}

// NewGenerator creates a Generator for the Gemini API or Vertex AI backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	clientCfg := &genai.ClientConfig{}

	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendGemini:
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("gemini api key is required")
		}
		clientCfg.APIKey = apiKey
		clientCfg.Backend = genai.BackendGeminiAPI
	case BackendVertex:
		if strings.TrimSpace(cfg.Project) == "" || strings.TrimSpace(cfg.Location) == "" {
			return nil, errors.New("vertex backend requires project and location")
		}
		clientCfg.Project = strings.TrimSpace(cfg.Project)
		clientCfg.Location = strings.TrimSpace(cfg.Location)
		clientCfg.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("unknown gemini backend %q", cfg.Backend)
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}

	return newGenerator(client.Models, model, cfg.MaxRetries, cfg.Temperature, log), nil
}

func newGenerator(models contentModels, model string, maxRetries int, temperature *float32, log *zap.Logger) *Generator {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &Generator{
		models:      models,
		model:       model,
		maxRetries:  maxRetries,
		temperature: temperature,
		logger:      logger.WithCommonFields(log, "gemini", model),
	}
}

// Generate sends the system instruction and the user parts as one request and returns the textual
// answer. Rate limits and server errors are retried, other errors are returned at once.
func (g *Generator) Generate(ctx context.Context, system string, parts []*genai.Part) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini generator is not initialized")
	}
	if len(parts) == 0 {
		return "", errors.New("request must contain at least one part")
	}

	config := &genai.GenerateContentConfig{Temperature: g.temperature}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var lastErr error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			return responseText(resp)
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) || attempt == g.maxRetries {
			break
		}

		delay := retryDelay(err, attempt)
		if delay > maxRetryDelay {
			g.logger.Warn("gemini asked to wait too long, giving up",
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			break
		}

		g.logger.Info("retrying gemini request",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := wait(ctx, delay); err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}
	}

	return "", fmt.Errorf("generate content: %w", lastErr)
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", fmt.Errorf("%w: gemini blocked the prompt: %s", ai.ErrMalformedVerdict, fb.BlockReason)
		}
		return "", fmt.Errorf("%w: gemini api returned empty response", ai.ErrMalformedVerdict)
	}
	return output, nil
}

func retryable(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}

// retryDelay prefers the delay the server asked for and otherwise backs off exponentially.
func retryDelay(err error, attempt int) time.Duration {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		for _, detail := range apiErr.Details {
			kind, _ := detail["@type"].(string)
			if !strings.HasSuffix(kind, "RetryInfo") {
				continue
			}
			if raw, ok := detail["retryDelay"].(string); ok {
				if d, err := time.ParseDuration(raw); err == nil {
					return d
				}
			}
		}
		if m := retryAfterPattern.FindStringSubmatch(apiErr.Message); m != nil {
			if seconds, err := strconv.ParseFloat(m[1], 64); err == nil {
				return time.Duration(seconds * float64(time.Second))
			}
		}
	}
	return baseRetryDelay << (attempt - 1)
}
