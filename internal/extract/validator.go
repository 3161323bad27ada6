package extract

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed source_profile.schema.json
var sourceProfileSchemaJSON string

//go:embed candidate_event.schema.json
var candidateEventSchemaJSON string

// SourceProfile is a validated per-source extraction rule set: where the
// item array lives and which keys feed which candidate fields.
type SourceProfile struct {
	ItemsPath string        `json:"items_path"`
	Fields    ProfileFields `json:"fields"`
}

// ProfileFields maps candidate fields to dot paths inside a listing item.
type ProfileFields struct {
	Title       string `json:"title"`
	Date        string `json:"date,omitempty"`
	RawDate     string `json:"raw_date,omitempty"`
	Time        string `json:"time,omitempty"`
	EndTime     string `json:"end_time,omitempty"`
	Venue       string `json:"venue,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Tags        string `json:"tags,omitempty"`
	Language    string `json:"language,omitempty"`
	URL         string `json:"url,omitempty"`
}

type candidateItem struct {
	Title       string   `json:"title"`
	Date        string   `json:"date,omitempty"`
	StartTime   string   `json:"start_time,omitempty"`
	EndTime     string   `json:"end_time,omitempty"`
	Venue       string   `json:"venue,omitempty"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Language    string   `json:"language,omitempty"`
	URL         string   `json:"url,omitempty"`
}

var (
	compileOnce        sync.Once
	profileSchema      *jsonschema.Schema
	candidateSchema    *jsonschema.Schema
	compiledSchemasErr error
)

// ValidateSourceProfile checks a source's profile_config against the
// embedded schema and decodes it.
func ValidateSourceProfile(raw json.RawMessage) (*SourceProfile, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode profile JSON: %w", err)
	}

	schema, _, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load profile schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("profile schema validation failed: %w", err)
	}

	var profile SourceProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("unmarshal profile: %w", err)
	}
	if strings.TrimSpace(profile.Fields.Date) == "" && strings.TrimSpace(profile.Fields.RawDate) == "" {
		return nil, fmt.Errorf("profile must map a date or raw_date field")
	}
	return &profile, nil
}

// validateCandidateItem strictly checks one model-output item against the
// candidate schema and decodes it. Items failing here go through the
// best-effort salvage path instead.
func validateCandidateItem(raw json.RawMessage) (*candidateItem, error) {
	value, err := decodeStrictJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("decode item JSON: %w", err)
	}

	_, schema, err := loadSchemas()
	if err != nil {
		return nil, fmt.Errorf("load candidate schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("candidate schema validation failed: %w", err)
	}

	var item candidateItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	if strings.TrimSpace(item.Title) == "" {
		return nil, fmt.Errorf("item title is empty")
	}
	return &item, nil
}

func loadSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("source_profile.schema.json", strings.NewReader(sourceProfileSchemaJSON)); err != nil {
			compiledSchemasErr = fmt.Errorf("add profile schema resource: %w", err)
			return
		}
		if err := compiler.AddResource("candidate_event.schema.json", strings.NewReader(candidateEventSchemaJSON)); err != nil {
			compiledSchemasErr = fmt.Errorf("add candidate schema resource: %w", err)
			return
		}

		compiled, err := compiler.Compile("source_profile.schema.json")
		if err != nil {
			compiledSchemasErr = fmt.Errorf("compile profile schema: %w", err)
			return
		}
		profileSchema = compiled

		compiled, err = compiler.Compile("candidate_event.schema.json")
		if err != nil {
			compiledSchemasErr = fmt.Errorf("compile candidate schema: %w", err)
			return
		}
		candidateSchema = compiled
	})

	if compiledSchemasErr != nil {
		return nil, nil, compiledSchemasErr
	}
	if profileSchema == nil || candidateSchema == nil {
		return nil, nil, fmt.Errorf("schemas not initialized")
	}
	return profileSchema, candidateSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}
