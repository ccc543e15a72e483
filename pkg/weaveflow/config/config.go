// Package config loads declarative graph definitions from YAML or JSON
// files, validating their shape against a JSON schema before handing
// them to the compiler.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/weaveflow/weaveflow/pkg/weaveflow"
)

// ErrSchema indicates the definition file failed schema validation.
var ErrSchema = errors.New("definition schema violation")

// definitionSchema is the structural contract for definition files.
// Compile enforces the semantic rules (entries, cycles, scopes); the
// schema only rejects malformed documents early with good messages.
const definitionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "config": {"type": "object"},
          "in_scope": {"type": "string"}
        },
        "additionalProperties": false
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "tag": {"type": "string"},
          "in_scope": {"type": "string"}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// LoadDefinition reads and validates a definition file. YAML and JSON
// documents both parse; JSON is a YAML subset so one parser covers both.
func LoadDefinition(path string) (weaveflow.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return weaveflow.Definition{}, fmt.Errorf("read definition: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return weaveflow.Definition{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return def, nil
}

// ParseDefinition validates and decodes a YAML or JSON definition
// document.
func ParseDefinition(data []byte) (weaveflow.Definition, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return weaveflow.Definition{}, fmt.Errorf("parse definition: %w", err)
	}

	if err := validate(doc); err != nil {
		return weaveflow.Definition{}, err
	}

	var def weaveflow.Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return weaveflow.Definition{}, fmt.Errorf("decode definition: %w", err)
	}
	return def, nil
}

// Load reads, validates and compiles a definition file in one step.
func Load(path string) (*weaveflow.Graph, error) {
	def, err := LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	return weaveflow.Compile(def)
}

func validate(doc map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(definitionSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("validate definition: %w", err)
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchema, strings.Join(msgs, "; "))
}
