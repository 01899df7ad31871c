package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// policySchema is the JSON Schema for the learning policy file.
const policySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Learning Policy",
  "description": "Behavioral tuning for the adaptive learning loop",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "collector": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "sampling_rate": {"type": "number", "minimum": 0, "maximum": 100},
        "required_fields": {"type": "array", "items": {"type": "string"}},
        "source_reliability": {
          "type": "object",
          "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    },
    "recognizer": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_support": {"type": "integer", "minimum": 2},
        "significance_threshold": {"type": "number", "minimum": 0, "maximum": 1},
        "max_pattern_elements": {"type": "integer", "minimum": 1},
        "causal_window_minutes": {"type": "integer", "minimum": 1},
        "analyzers": {
          "type": "array",
          "items": {"type": "string", "enum": ["correlation", "causal", "temporal", "contextual"]}
        }
      }
    },
    "engine": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "max_per_cycle": {"type": "integer", "minimum": 1},
        "constitutional_verification": {"type": "boolean"},
        "generators": {
          "type": "array",
          "items": {"type": "string", "enum": ["parameter", "strategy", "rule"]}
        },
        "tunables": {"type": "array", "items": {"type": "string"}}
      }
    },
    "controller": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_feedback_threshold": {"type": "integer", "minimum": 1},
        "feedback_window_hours": {"type": "integer", "minimum": 1},
        "max_concurrent_adaptations": {"type": "integer", "minimum": 1},
        "adaptation_batch_size": {"type": "integer", "minimum": 1},
        "initial_learning_rate": {"type": "number", "minimum": 0, "maximum": 1},
        "domain": {"type": "string"}
      }
    },
    "trust": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "protected_parameters": {"type": "array", "items": {"type": "string"}},
        "blocked_actions": {"type": "array", "items": {"type": "string"}},
        "allowed_strategies": {"type": "array", "items": {"type": "string"}}
      }
    },
    "confidence": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "default_algorithm": {"type": "string", "enum": ["weighted", "bayesian", "average"]},
        "thresholds": {
          "type": "object",
          "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

// LearningPolicy is the parsed learning policy file. Every section is
// optional; absent values fall back to component defaults.
type LearningPolicy struct {
	Collector struct {
		// SamplingRate stays a pointer so an explicit 0 (discard all) is
		// distinguishable from an absent key (collector default).
		SamplingRate      *float64           `yaml:"sampling_rate"`
		RequiredFields    []string           `yaml:"required_fields"`
		SourceReliability map[string]float64 `yaml:"source_reliability"`
	} `yaml:"collector"`
	Recognizer struct {
		MinSupport            int      `yaml:"min_support"`
		SignificanceThreshold float64  `yaml:"significance_threshold"`
		MaxPatternElements    int      `yaml:"max_pattern_elements"`
		CausalWindowMinutes   int      `yaml:"causal_window_minutes"`
		Analyzers             []string `yaml:"analyzers"`
	} `yaml:"recognizer"`
	Engine struct {
		MinConfidence              float64  `yaml:"min_confidence"`
		MaxPerCycle                int      `yaml:"max_per_cycle"`
		ConstitutionalVerification bool     `yaml:"constitutional_verification"`
		Generators                 []string `yaml:"generators"`
		Tunables                   []string `yaml:"tunables"`
	} `yaml:"engine"`
	Controller struct {
		MinFeedbackThreshold     int     `yaml:"min_feedback_threshold"`
		FeedbackWindowHours      int     `yaml:"feedback_window_hours"`
		MaxConcurrentAdaptations int     `yaml:"max_concurrent_adaptations"`
		AdaptationBatchSize      int     `yaml:"adaptation_batch_size"`
		InitialLearningRate      float64 `yaml:"initial_learning_rate"`
		Domain                   string  `yaml:"domain"`
	} `yaml:"controller"`
	Trust struct {
		MinConfidence       float64  `yaml:"min_confidence"`
		ProtectedParameters []string `yaml:"protected_parameters"`
		BlockedActions      []string `yaml:"blocked_actions"`
		AllowedStrategies   []string `yaml:"allowed_strategies"`
	} `yaml:"trust"`
	Confidence struct {
		DefaultAlgorithm string             `yaml:"default_algorithm"`
		Thresholds       map[string]float64 `yaml:"thresholds"`
	} `yaml:"confidence"`
}

// CausalWindow converts the configured window to a duration, zero when
// unset.
func (p *LearningPolicy) CausalWindow() time.Duration {
	return time.Duration(p.Recognizer.CausalWindowMinutes) * time.Minute
}

// FeedbackWindow converts the configured window to a duration, zero when
// unset.
func (p *LearningPolicy) FeedbackWindow() time.Duration {
	return time.Duration(p.Controller.FeedbackWindowHours) * time.Hour
}

// LoadPolicy reads and validates the learning policy file. A missing
// file yields an empty policy (all defaults) with a log note.
func LoadPolicy(path string) (*LearningPolicy, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		log.Info().Str("path", path).Msg("no learning policy file, using defaults")
		return &LearningPolicy{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading learning policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy validates policy YAML against the schema and decodes it.
func ParsePolicy(data []byte) (*LearningPolicy, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing learning policy YAML: %w", err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(doc))
	if err != nil {
		return nil, fmt.Errorf("converting learning policy to JSON: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(policySchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var errMsg string
		for _, verr := range result.Errors() {
			errMsg += fmt.Sprintf("- %s\n", verr)
		}
		return nil, fmt.Errorf("learning policy schema errors:\n%s", errMsg)
	}

	var policy LearningPolicy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("decoding learning policy: %w", err)
	}
	return &policy, nil
}

// normalizeYAML converts yaml.v3's map[string]interface{} trees into
// JSON-marshalable form (map keys are already strings in v3, but nested
// sequences need a pass).
func normalizeYAML(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(vv))
		for k, val := range vv {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, val := range vv {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
