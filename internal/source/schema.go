package source

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSON Schemas for the two remote document formats. Validation happens
// before decoding so malformed feeds produce one clear error instead of
// a partially populated package list.

const channelSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "repositories": {
      "type": "array",
      "items": {"type": "string"}
    },
    "package_name_map": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "renamed_packages": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    },
    "certs": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {"type": "string"},
        "minItems": 2,
        "maxItems": 2
      }
    }
  },
  "required": ["repositories"]
}`

const repositorySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "packages": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "author": {"type": "string"},
          "homepage": {"type": "string"},
          "signing_key_url": {"type": "string"},
          "platforms": {
            "type": "object",
            "additionalProperties": {
              "type": "array",
              "items": {
                "type": "object",
                "properties": {
                  "version": {"type": "string", "minLength": 1},
                  "url": {"type": "string", "minLength": 1},
                  "host_version": {"type": "string"},
                  "sublime_text": {"type": "string"}
                },
                "required": ["version", "url"]
              }
            }
          }
        },
        "required": ["name", "platforms"]
      }
    }
  },
  "required": ["packages"]
}`

var (
	compiledChannelSchema    = mustCompile("channel.schema.json", channelSchema)
	compiledRepositorySchema = mustCompile("repository.schema.json", repositorySchema)
)

func mustCompile(name, text string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(text)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// validateDocument checks raw JSON against sch and returns the decoded
// generic value for further inspection.
func validateDocument(sch *jsonschema.Schema, data []byte, what, url string) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s document from %s: %w", what, url, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s document from %s: %w", what, url, err)
	}
	return nil
}
