package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/cv-ranker/internal/ai"
	"github.com/spigell/cv-ranker/internal/document"
	"github.com/spigell/cv-ranker/internal/logger"
	"github.com/spigell/cv-ranker/internal/utils"
)

type contentGenerator interface {
	Generate(ctx context.Context, system string, parts []*genai.Part) (string, error)
	Model() string
}

//go:embed prompt_compare.md
var comparePrompt string

//go:embed prompt_summarize.md
var summarizePrompt string

const (
	defaultMaxLogLength     = 200
	defaultLanguage         = "the language of the query, Portuguese when there is no query"
	maxUserInstructionRunes = 500
	maxQueryRunes           = 2000
	maxFieldRunes           = 200
)

// inlineTypes are the media types Gemini accepts as inline data.
var inlineTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
	"image/webp":      true,
	"image/heic":      true,
	"image/heif":      true,
	"text/plain":      true,
}

// PromptOverrides customise the preferences block of the prompts.
type PromptOverrides struct {
	Language         string
	ExtraCriteria    string
	UserInstructions string
}

// Comparator asks Gemini for a verdict on a whole batch in one request.
type Comparator struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
	overrides PromptOverrides
}

var _ ai.Comparator = (*Comparator)(nil)

func NewComparator(generator contentGenerator, maxLogLength int, log *zap.Logger) *Comparator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	model := ""
	if generator != nil {
		model = generator.Model()
	}

	return &Comparator{
		generator: generator,
		logger:    logger.WithCommonFields(log, "gemini", model),
		maxLogLen: maxLogLength,
	}
}

// SetPromptOverrides replaces the prompt preferences.
func (c *Comparator) SetPromptOverrides(o PromptOverrides) {
	c.overrides = o
}

// Compare renders the batch into a single multimodal request and parses the answer.
func (c *Comparator) Compare(ctx context.Context, batch *document.Batch) (*ai.Verdict, error) {
	if c.generator == nil {
		return nil, errors.New("gemini generator is required")
	}
	if batch.Len() == 0 {
		return nil, &document.EmptyBatchError{}
	}

	mode := batch.Mode()
	system := c.systemPrompt(mode)
	parts := buildParts(batch)

	log := c.logger.With(logger.BatchFields(batch.ID, batch.UserID)...)
	log.Debug("gemini generate content request",
		zap.String("mode", string(mode)),
		zap.Int("parts", len(parts)),
		zap.Int("prompt_length", utf8.RuneCountInString(system)),
		zap.String("query_preview", utils.TruncateForLog(batch.Query, c.maxLogLen)),
	)

	raw, err := c.generator.Generate(ctx, system, parts)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, c.maxLogLen)),
	)

	verdict, err := parseVerdict(raw, batch)
	if err != nil {
		return nil, err
	}
	verdict.Mode = mode
	verdict.Raw = raw
	return verdict, nil
}

func (c *Comparator) systemPrompt(mode document.Mode) string {
	template := comparePrompt
	if mode == document.ModeSummarize {
		template = summarizePrompt
	}

	language := sanitizeSingleLine(c.overrides.Language, maxFieldRunes)
	if language == "" {
		language = defaultLanguage
	}
	extra := sanitizeSingleLine(c.overrides.ExtraCriteria, maxFieldRunes)
	if extra == "" {
		extra = "none"
	}

	prompt := strings.ReplaceAll(template, "{{LANGUAGE}}", language)
	prompt = strings.ReplaceAll(prompt, "{{EXTRA_CRITERIA}}", extra)
	prompt = strings.ReplaceAll(prompt, "{{USER_INSTRUCTIONS}}", userInstructionsBlock(c.overrides.UserInstructions))
	return strings.TrimSpace(prompt)
}

// buildParts renders the query and every document. Text results become text parts, raw fallbacks are
// sent inline when Gemini accepts their type, as text when they are UTF-8 and as a placeholder otherwise.
func buildParts(batch *document.Batch) []*genai.Part {
	var intro strings.Builder
	intro.WriteString("[Inputs]\n")
	if batch.Mode() == document.ModeCompare {
		intro.WriteString("Query:\n")
		intro.WriteString(sanitizeMultiline(batch.Query, maxQueryRunes))
		intro.WriteString("\n")
	} else {
		intro.WriteString("Task: summarize every résumé.\n")
	}
	fmt.Fprintf(&intro, "Documents: %d", batch.Len())

	parts := []*genai.Part{genai.NewPartFromText(intro.String())}

	for _, result := range batch.Results {
		id := result.Source()
		header := fmt.Sprintf("\n=== document %d: %s (%s, %d bytes) ===",
			id.Index, sanitizeSingleLine(id.Filename, maxFieldRunes), id.MediaType, id.Size)

		switch r := result.(type) {
		case document.ExtractedText:
			parts = append(parts, genai.NewPartFromText(header+"\n"+r.Text))
		case document.RawFallback:
			parts = append(parts, rawParts(header, r)...)
		}
	}
	return parts
}

func rawParts(header string, r document.RawFallback) []*genai.Part {
	mimeType := string(r.MIMEType)
	switch {
	case inlineTypes[mimeType]:
		return []*genai.Part{
			genai.NewPartFromText(header + "\n[original file attached, text extraction was not possible]"),
			genai.NewPartFromBytes(r.Data, mimeType),
		}
	case utf8.Valid(r.Data) && !bytes.ContainsRune(r.Data, 0):
		return []*genai.Part{genai.NewPartFromText(header + "\n" + string(r.Data))}
	default:
		if mimeType == "" {
			mimeType = "unknown type"
		}
		return []*genai.Part{genai.NewPartFromText(
			fmt.Sprintf("%s\n[the original %s file cannot be forwarded; judge this candidate as having no readable content]", header, mimeType),
		)}
	}
}

type verdictPayload struct {
	Best       *ai.Best                 `mapstructure:"best"`
	Candidates []ai.CandidateAssessment `mapstructure:"candidates"`
}

func parseVerdict(raw string, batch *document.Batch) (*ai.Verdict, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("%w: parse gemini response: %v", ai.ErrMalformedVerdict, err)
	}

	var payload verdictPayload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &payload,
	})
	if err != nil {
		return nil, fmt.Errorf("create verdict decoder: %w", err)
	}
	if err := decoder.Decode(map[string]any{"best": data["best"], "candidates": data["candidates"]}); err != nil {
		return nil, fmt.Errorf("%w: decode gemini response: %v", ai.ErrMalformedVerdict, err)
	}

	verdict := &ai.Verdict{
		Answer:     coerceString(data["answer"]),
		Best:       payload.Best,
		Candidates: payload.Candidates,
	}

	if verdict.Answer == "" && len(verdict.Candidates) == 0 {
		return nil, fmt.Errorf("%w: response has neither answer nor candidates", ai.ErrMalformedVerdict)
	}

	byIndex := make(map[int]document.Identity, batch.Len())
	for _, r := range batch.Results {
		byIndex[r.Source().Index] = r.Source()
	}

	for i := range verdict.Candidates {
		cand := &verdict.Candidates[i]
		id, ok := byIndex[cand.Document]
		if !ok {
			return nil, fmt.Errorf("%w: candidate refers to unknown document %d", ai.ErrMalformedVerdict, cand.Document)
		}
		if cand.Filename == "" {
			cand.Filename = id.Filename
		}
	}

	if verdict.Best != nil {
		if verdict.Best.Document < 0 {
			verdict.Best = nil
		} else if id, ok := byIndex[verdict.Best.Document]; !ok {
			return nil, fmt.Errorf("%w: best refers to unknown document %d", ai.ErrMalformedVerdict, verdict.Best.Document)
		} else if verdict.Best.Filename == "" {
			verdict.Best.Filename = id.Filename
		}
	}

	return verdict, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	if !strings.HasPrefix(raw, "{") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start != -1 && end > start {
			raw = raw[start : end+1]
		}
	}
	return raw
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

func userInstructionsBlock(input string) string {
	text := sanitizeMultiline(input, maxUserInstructionRunes)
	if text == "" {
		return "  - none"
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  - " + line
	}
	return strings.Join(lines, "\n")
}

// sanitizeMultiline keeps non blank lines, defuses section markers and limits the total length.
func sanitizeMultiline(input string, limit int) string {
	input = strings.ReplaceAll(input, "\r\n", "\n")
	var kept []string
	for _, line := range strings.Split(input, "\n") {
		line = strings.Join(strings.Fields(defuseBrackets(line)), " ")
		if line != "" {
			kept = append(kept, line)
		}
	}
	return utils.TruncateRunes(strings.Join(kept, "\n"), limit)
}

// sanitizeSingleLine collapses all whitespace, line breaks included, into single spaces.
func sanitizeSingleLine(input string, limit int) string {
	return utils.TruncateRunes(strings.Join(strings.Fields(defuseBrackets(input)), " "), limit)
}

func defuseBrackets(s string) string {
	return strings.NewReplacer("[", "(", "]", ")").Replace(s)
}
