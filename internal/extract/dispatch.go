package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/config"
	"citypulse.fyi/citypulse/internal/langdetect"
	"citypulse.fyi/citypulse/internal/language"
)

// Integration method names stored on source records.
const (
	MethodProfile = "profile"
	MethodLLM     = "llm"
)

// Dispatcher routes a source to the adapter its integration_method names
// and stamps detected languages on the results.
type Dispatcher struct {
	profile *ProfileExtractor
	model   *ModelExtractor
}

// NewDispatcher wires both adapters from config.
func NewDispatcher(cfg *config.Config, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		profile: NewProfileExtractor(cfg, logger),
		model:   NewModelExtractor(cfg, logger),
	}
}

func (d *Dispatcher) Extract(ctx context.Context, source Source) ([]Candidate, error) {
	var (
		candidates []Candidate
		err        error
	)
	switch strings.ToLower(strings.TrimSpace(source.IntegrationMethod)) {
	case MethodProfile:
		candidates, err = d.profile.Extract(ctx, source)
	case MethodLLM:
		candidates, err = d.model.Extract(ctx, source)
	default:
		return nil, fmt.Errorf("source %s has unknown integration method %q", source.Slug, source.IntegrationMethod)
	}
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		if code := language.NormalizeCode(candidates[i].Language); code != "" {
			candidates[i].Language = code
			continue
		}
		sample := candidates[i].Description
		if sample == "" {
			sample = candidates[i].Title
		}
		candidates[i].Language = langdetect.DetectISO6391(sample)
	}
	return candidates, nil
}
