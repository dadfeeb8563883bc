package ai

import (
	"context"
	"errors"

	"github.com/spigell/cv-ranker/internal/document"
)

// ErrMalformedVerdict is returned when the agent answer cannot be read as a verdict.
var ErrMalformedVerdict = errors.New("malformed verdict")

// CandidateAssessment is what the agent says about one document.
type CandidateAssessment struct {
	// Document is the batch index of the document the assessment is about.
	Document   int      `json:"document" mapstructure:"document"`
	Filename   string   `json:"filename" mapstructure:"filename"`
	Name       string   `json:"name" mapstructure:"name"`
	Rank       int      `json:"rank,omitempty" mapstructure:"rank"`
	Score      float64  `json:"score,omitempty" mapstructure:"score"`
	Summary    string   `json:"summary" mapstructure:"summary"`
	Strengths  []string `json:"strengths,omitempty" mapstructure:"strengths"`
	Weaknesses []string `json:"weaknesses,omitempty" mapstructure:"weaknesses"`
}

// Best names the winning document of a comparison. Document is -1 when no candidate fits.
type Best struct {
	Document      int    `json:"document" mapstructure:"document"`
	Filename      string `json:"filename" mapstructure:"filename"`
	CandidateName string `json:"candidate_name" mapstructure:"candidate_name"`
	Justification string `json:"justification" mapstructure:"justification"`
}

// Verdict is the structured outcome of one batch.
type Verdict struct {
	Mode       document.Mode         `json:"mode"`
	Answer     string                `json:"answer"`
	Best       *Best                 `json:"best,omitempty"`
	Candidates []CandidateAssessment `json:"candidates"`
	// Raw is the unmodified agent output.
	Raw string `json:"raw"`
}

// Candidate returns the assessment of the document with the given batch index.
func (v *Verdict) Candidate(index int) (CandidateAssessment, bool) {
	if v == nil {
		return CandidateAssessment{}, false
	}
	for _, c := range v.Candidates {
		if c.Document == index {
			return c, true
		}
	}
	return CandidateAssessment{}, false
}

// Comparator sends a whole batch to the agent in a single request.
type Comparator interface {
	Compare(ctx context.Context, batch *document.Batch) (*Verdict, error)
}
