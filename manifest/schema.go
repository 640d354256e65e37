package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// manifestSchema is the structural contract for project.json. Unknown
// keys pass through; known keys must carry the right shapes.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "version": { "type": "string" },
    "entryPoint": { "type": "string" },
    "commands": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "dependencies": { "$ref": "#/$defs/dependencyMap" },
    "frameworks": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "dependencies": { "$ref": "#/$defs/dependencyMap" },
          "frameworkAssemblies": { "$ref": "#/$defs/dependencyMap" }
        }
      }
    },
    "compilationOptions": { "type": "object" },
    "code": { "$ref": "#/$defs/patterns" },
    "exclude": { "$ref": "#/$defs/patterns" },
    "preprocess": { "$ref": "#/$defs/patterns" },
    "shared": { "$ref": "#/$defs/patterns" },
    "scripts": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    }
  },
  "$defs": {
    "dependencyMap": {
      "type": "object",
      "additionalProperties": {
        "oneOf": [
          { "type": "string" },
          {
            "type": "object",
            "properties": {
              "version": { "type": "string" },
              "type": { "type": "string" }
            }
          }
        ]
      }
    },
    "patterns": {
      "oneOf": [
        { "type": "string" },
        { "type": "array", "items": { "type": "string" } }
      ]
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("project.schema.json", manifestSchema)

func validateSchema(data []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asValidationError(err, &ve); ok {
			return fmt.Errorf("schema violation: %s", flattenValidation(ve))
		}
		return err
	}
	return nil
}

func asValidationError(err error, out **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*out = ve
	}
	return ok
}

func flattenValidation(ve *jsonschema.ValidationError) string {
	leaves := ve.Causes
	if len(leaves) == 0 {
		return ve.Message
	}
	msgs := make([]string, 0, len(leaves))
	for _, c := range leaves {
		msgs = append(msgs, c.InstanceLocation+": "+c.Message)
	}
	return strings.Join(msgs, "; ")
}
