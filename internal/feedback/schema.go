package feedback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// submissionSchema is the JSON Schema for feedback submissions arriving as
// JSON (fixtures, CLI input). Structural validation only; the collector's
// required-field check stays configurable on top of this.
const submissionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Feedback Submission",
  "type": "object",
  "additionalProperties": true,
  "properties": {
    "source": {
      "oneOf": [
        {"type": "string", "minLength": 1},
        {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"type": "string", "minLength": 1},
            "id": {"type": "string"},
            "reliability": {"type": "number", "minimum": 0, "maximum": 1}
          }
        }
      ]
    },
    "content": {"type": "object"},
    "context": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

var compiledSubmissionSchema = gojsonschema.NewStringLoader(submissionSchema)

// ParseSubmission validates raw JSON against the submission schema and
// decodes it. Schema violations are validation errors.
func ParseSubmission(data []byte) (Submission, error) {
	result, err := gojsonschema.Validate(compiledSubmissionSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Submission{}, fmt.Errorf("validating submission: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return Submission{}, fmt.Errorf("submission schema: %s: %w", strings.Join(msgs, "; "), ErrValidation)
	}

	var sub Submission
	if err := json.Unmarshal(data, &sub); err != nil {
		return Submission{}, fmt.Errorf("decoding submission: %w", err)
	}
	return sub, nil
}
