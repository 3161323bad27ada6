package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"citypulse.fyi/citypulse/internal/config"
)

const (
	// DefaultExtractorEndpoint points to a local OpenAI-compatible extraction endpoint.
	DefaultExtractorEndpoint = "http://127.0.0.1:8844/v1"
	// DefaultExtractorModel is the default extraction model name.
	DefaultExtractorModel = "qwen/qwen2.5-14b-instruct"

	maxPromptTextRunes = 24000
)

// ModelExtractor reduces a listing page to readable text and asks an
// OpenAI-compatible chat completions endpoint to pull event records out of it.
type ModelExtractor struct {
	endpointURL string
	model       string
	client      *http.Client
	fetchOpts   FetchOptions
	logger      zerolog.Logger
}

// NewModelExtractor builds the model-driven adapter from config.
func NewModelExtractor(cfg *config.Config, logger zerolog.Logger) *ModelExtractor {
	endpoint := DefaultExtractorEndpoint
	model := DefaultExtractorModel
	timeout := 120 * time.Second
	if cfg != nil {
		if strings.TrimSpace(cfg.ExtractorEndpoint) != "" {
			endpoint = cfg.ExtractorEndpoint
		}
		if strings.TrimSpace(cfg.ExtractorModel) != "" {
			model = cfg.ExtractorModel
		}
		if cfg.ExtractorTimeout > 0 {
			timeout = cfg.ExtractorTimeout
		}
	}
	return &ModelExtractor{
		endpointURL: chatCompletionsURL(normalizeEndpoint(endpoint)),
		model:       model,
		client:      &http.Client{Timeout: timeout},
		fetchOpts:   fetchOptionsFromConfig(cfg),
		logger:      logger.With().Str("extractor", "llm").Logger(),
	}
}

// ModelName returns the configured model identifier.
func (e *ModelExtractor) ModelName() string {
	if e == nil {
		return ""
	}
	return e.model
}

// Extract fetches the page, sends its readable text to the model and parses
// the reply into candidates. Fetch failures and replies with no usable JSON
// yield an empty slice.
func (e *ModelExtractor) Extract(ctx context.Context, source Source) ([]Candidate, error) {
	pageText, err := fetchReadableText(ctx, source.URL, e.fetchOpts)
	if err != nil {
		e.logger.Warn().Err(err).Str("source", source.Slug).Str("url", source.URL).Msg("page fetch failed")
		return []Candidate{}, nil
	}
	if strings.TrimSpace(pageText) == "" {
		e.logger.Debug().Str("source", source.Slug).Msg("page produced no readable text")
		return []Candidate{}, nil
	}
	if runes := []rune(pageText); len(runes) > maxPromptTextRunes {
		pageText = string(runes[:maxPromptTextRunes])
	}

	reply, err := e.complete(ctx, buildExtractionPrompt(source, pageText))
	if err != nil {
		return nil, fmt.Errorf("extraction request for %s: %w", source.Slug, err)
	}

	return e.parseModelEvents(source, reply), nil
}

func (e *ModelExtractor) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{
				Role:    "user",
				Content: prompt,
			},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("marshal extraction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpointURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send extraction request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errPayload chatErrorResponse
		if unmarshalErr := json.Unmarshal(respBody, &errPayload); unmarshalErr == nil {
			if msg := strings.TrimSpace(errPayload.Error.Message); msg != "" {
				return "", fmt.Errorf("extraction endpoint status %d: %s", resp.StatusCode, msg)
			}
		}
		return "", fmt.Errorf("extraction endpoint status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("extraction response missing choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseModelEvents turns the model reply into candidates. Each array item is
// validated strictly first; items that fail validation go through an
// alias-tolerant salvage pass so one malformed record does not discard its
// neighbors. A reply with no locatable JSON array yields an empty slice.
func (e *ModelExtractor) parseModelEvents(source Source, reply string) []Candidate {
	arrayJSON, ok := locateJSONArray(reply)
	if !ok {
		e.logger.Warn().Str("source", source.Slug).Msg("extraction reply contained no JSON array")
		return []Candidate{}
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal([]byte(arrayJSON), &rawItems); err != nil {
		e.logger.Warn().Err(err).Str("source", source.Slug).Msg("extraction reply array did not decode")
		return []Candidate{}
	}

	candidates := make([]Candidate, 0, len(rawItems))
	for i, raw := range rawItems {
		item, err := validateCandidateItem(raw)
		if err != nil {
			salvaged, ok := salvageCandidateItem(raw)
			if !ok {
				e.logger.Debug().Err(err).Str("source", source.Slug).Int("item", i).Msg("dropped unusable extraction item")
				continue
			}
			item = salvaged
		}
		candidates = append(candidates, candidateFromItem(item, source))
	}
	return candidates
}

func candidateFromItem(item *candidateItem, source Source) Candidate {
	candidate := Candidate{
		Title:       strings.TrimSpace(item.Title),
		StartDate:   strings.TrimSpace(item.Date),
		StartTime:   strings.TrimSpace(item.StartTime),
		EndTime:     strings.TrimSpace(item.EndTime),
		VenueName:   strings.TrimSpace(item.Venue),
		Description: strings.TrimSpace(item.Description),
		Category:    strings.TrimSpace(item.Category),
		Language:    strings.TrimSpace(item.Language),
		URL:         strings.TrimSpace(item.URL),
	}
	for _, tag := range item.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			candidate.Tags = append(candidate.Tags, trimmed)
		}
	}
	if candidate.URL == "" {
		candidate.URL = source.URL
	}
	return candidate
}

// salvageCandidateItem is the degraded parse for items failing strict
// validation: pick fields by their common aliases and keep whatever has a
// non-empty title.
func salvageCandidateItem(raw json.RawMessage) (*candidateItem, bool) {
	var object map[string]any
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, false
	}

	item := &candidateItem{
		Title:       firstStringAlias(object, "title", "name", "event", "event_name"),
		Date:        firstStringAlias(object, "date", "start_date", "when", "day"),
		StartTime:   firstStringAlias(object, "start_time", "time", "starts_at"),
		EndTime:     firstStringAlias(object, "end_time", "ends_at"),
		Venue:       firstStringAlias(object, "venue", "location", "place", "venue_name"),
		Description: firstStringAlias(object, "description", "summary", "details"),
		Category:    firstStringAlias(object, "category", "genre", "type"),
		Language:    firstStringAlias(object, "language", "lang"),
		URL:         firstStringAlias(object, "url", "link", "href"),
	}
	if strings.TrimSpace(item.Title) == "" {
		return nil, false
	}

	if tags, ok := object["tags"]; ok {
		item.Tags = coerceTags(tags)
	}
	return item, true
}

func firstStringAlias(object map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := object[key]; ok {
			if text, ok := value.(string); ok && strings.TrimSpace(text) != "" {
				return strings.TrimSpace(text)
			}
		}
	}
	return ""
}

// locateJSONArray extracts the first top-level JSON array from a model
// reply, stripping a surrounding markdown code fence when present.
func locateJSONArray(reply string) (string, bool) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if end := strings.LastIndex(text, "```"); end >= 0 {
			text = text[:end]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.Index(text, "[")
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func buildExtractionPrompt(source Source, pageText string) string {
	var b strings.Builder
	b.WriteString("Extract every event listing from the page text below into a JSON array.\n")
	b.WriteString("Each array item is an object with these keys: title (required), date, start_time, end_time, venue, description, category, tags (array of strings), url.\n")
	b.WriteString("Use ISO dates (YYYY-MM-DD) when the page states a full date; otherwise put the date text verbatim into the date key.\n")
	b.WriteString("Output only the JSON array, no commentary.\n\n")
	fmt.Fprintf(&b, "Source: %s\n", source.Name)
	fmt.Fprintf(&b, "Page URL: %s\n\n", source.URL)
	b.WriteString("Page text:\n")
	b.WriteString(pageText)
	return b.String()
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func normalizeEndpoint(raw string) string {
	endpoint := strings.TrimSpace(raw)
	if endpoint == "" {
		return DefaultExtractorEndpoint
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultExtractorEndpoint
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	if parsed.Path == "" {
		parsed.Path = "/v1"
	}
	return parsed.String()
}

func chatCompletionsURL(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || strings.TrimSpace(parsed.Host) == "" {
		return DefaultExtractorEndpoint + "/chat/completions"
	}

	path := strings.TrimRight(parsed.Path, "/")
	switch {
	case strings.HasSuffix(path, "/chat/completions"):
		parsed.Path = path
	case strings.HasSuffix(path, "/v1"):
		parsed.Path = path + "/chat/completions"
	case path == "":
		parsed.Path = "/v1/chat/completions"
	default:
		parsed.Path = path + "/v1/chat/completions"
	}

	return parsed.String()
}
