package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"hiregate/internal/domain"
)

// Document models pipelines.yml: the pipeline definitions owned by the
// definition service and imported read-only into the core.
type Document struct {
	Pipelines []domain.Pipeline `yaml:"pipelines"`
}

const documentSchema = `{
  "type": "object",
  "required": ["pipelines"],
  "properties": {
    "pipelines": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "stages"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "stages": {
            "type": "array",
            "minItems": 1,
            "items": {
              "type": "object",
              "required": ["id"],
              "properties": {
                "id": {"type": "string", "minLength": 1},
                "name": {"type": "string"},
                "require": {"type": "array", "items": {"type": "string", "minLength": 1}},
                "block_policy": {"enum": ["REJECT_ON_BLOCK", "HOLD_ON_BLOCK"]},
                "hold_followup_after": {"type": "string"}
              },
              "additionalProperties": false
            }
          }
        }
      }
    }
  }
}`

// Validate checks the structural rules the schema cannot express and fills
// in stage defaults.
func (d *Document) Validate() error {
	seen := map[string]bool{}
	for pi := range d.Pipelines {
		p := &d.Pipelines[pi]
		if p.ID == "" {
			return domain.Validationf("pipeline id is required")
		}
		if seen[p.ID] {
			return domain.Validationf("duplicate pipeline %s", p.ID)
		}
		seen[p.ID] = true
		if err := ValidatePipeline(p); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePipeline normalizes a single pipeline definition in place.
func ValidatePipeline(p *domain.Pipeline) error {
	if len(p.Stages) == 0 {
		return domain.Validationf("pipeline %s has no stages", p.ID)
	}
	stageIDs := map[string]bool{}
	for si := range p.Stages {
		s := &p.Stages[si]
		if s.ID == "" {
			return domain.Validationf("pipeline %s has a stage without id", p.ID)
		}
		if stageIDs[s.ID] {
			return domain.Validationf("pipeline %s has duplicate stage %s", p.ID, s.ID)
		}
		stageIDs[s.ID] = true
		if s.Name == "" {
			s.Name = s.ID
		}
		switch s.BlockPolicy {
		case "":
			s.BlockPolicy = domain.RejectOnBlock
		case domain.RejectOnBlock, domain.HoldOnBlock:
		default:
			return domain.Validationf("stage %s has unknown block_policy %s", s.ID, s.BlockPolicy)
		}
		kinds := map[string]bool{}
		for _, k := range s.Require {
			if k == "" || strings.Contains(k, "/") {
				return domain.Validationf("stage %s has invalid evaluation kind %q", s.ID, k)
			}
			if kinds[k] {
				return domain.Validationf("stage %s requires %s twice", s.ID, k)
			}
			kinds[k] = true
		}
		if s.HoldFollowupAfter < 0 {
			return domain.Validationf("stage %s has negative hold_followup_after", s.ID)
		}
	}
	return nil
}

// FromYAML parses, schema-checks and validates a pipeline document.
func FromYAML(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.Validationf("invalid pipeline yaml: %v", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(documentSchema), gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, domain.Validationf("pipeline document: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, domain.Validationf("pipeline document: %s", strings.Join(msgs, "; "))
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.Validationf("invalid pipeline yaml: %v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func FromFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the pipeline document path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pipelines.yml")
}

// LoadOptional returns nil,nil if the workspace has no pipeline document.
func LoadOptional(workspace string) (*Document, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the sample engineering pipeline.
func Default() *Document {
	var doc Document
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&doc); err != nil {
		panic(fmt.Sprintf("default pipeline template: %v", err))
	}
	_ = doc.Validate()
	return &doc
}

func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `pipelines:
  - id: engineering
    name: Engineering hiring
    stages:
      - id: screen
        name: Screen
        require: [recruiter.screen]
        block_policy: REJECT_ON_BLOCK

      - id: onsite
        name: Onsite
        require: [onsite.technical, onsite.culture]
        block_policy: HOLD_ON_BLOCK
        hold_followup_after: 72h

      - id: offer
        name: Offer
        require: [offer.accepted]
        block_policy: REJECT_ON_BLOCK
`
