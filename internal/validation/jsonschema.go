// Package validation checks workflow graph documents before compilation.
package validation

import (
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/flowrig/flowrig/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for WorkflowGraph documents.
// Embedded as a constant to avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowrig.dev/schemas/graph.json",
  "type": "object",
  "required": ["id", "nodes", "edges"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "version": { "type": "integer", "minimum": 0 },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["start", "end", "agent", "human-decision", "condition", "parallel", "merge", "loop", "delay"]
        },
        "label": { "type": "string" },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "config": { "type": "object" }
      },
      "additionalProperties": false,
      "allOf": [
        {
          "if": { "properties": { "type": { "const": "agent" } } },
          "then": {
            "properties": {
              "config": {
                "type": "object",
                "required": ["agent_id"],
                "properties": { "agent_id": { "type": "string", "minLength": 1 } }
              }
            },
            "required": ["config"]
          }
        },
        {
          "if": { "properties": { "type": { "const": "human-decision" } } },
          "then": {
            "properties": {
              "config": {
                "type": "object",
                "required": ["question", "options"],
                "properties": {
                  "question": { "type": "string", "minLength": 1 },
                  "timeout_seconds": { "type": "integer", "minimum": 1 },
                  "options": {
                    "type": "array",
                    "minItems": 1,
                    "items": {
                      "type": "object",
                      "required": ["id"],
                      "properties": {
                        "id": { "type": "string", "minLength": 1 },
                        "label": { "type": "string" },
                        "next_node_id": { "type": "string" }
                      },
                      "additionalProperties": false
                    }
                  }
                }
              }
            },
            "required": ["config"]
          }
        },
        {
          "if": { "properties": { "type": { "const": "condition" } } },
          "then": {
            "properties": {
              "config": {
                "type": "object",
                "required": ["conditions"],
                "properties": {
                  "conditions": {
                    "type": "array",
                    "items": {
                      "type": "object",
                      "required": ["type", "next_node_id"],
                      "properties": {
                        "type": {
                          "type": "string",
                          "enum": ["output-contains", "output-matches", "error-occurred", "expression"]
                        },
                        "value": { "type": "string" },
                        "next_node_id": { "type": "string", "minLength": 1 },
                        "label": { "type": "string" }
                      },
                      "additionalProperties": false
                    }
                  }
                }
              }
            },
            "required": ["config"]
          }
        },
        {
          "if": { "properties": { "type": { "const": "loop" } } },
          "then": {
            "properties": {
              "config": {
                "type": "object",
                "properties": {
                  "max_iterations": { "type": "integer", "minimum": 1 }
                }
              }
            }
          }
        },
        {
          "if": { "properties": { "type": { "const": "delay" } } },
          "then": {
            "properties": {
              "config": {
                "type": "object",
                "properties": {
                  "delay_seconds": { "type": "integer", "minimum": 1 }
                }
              }
            }
          }
        }
      ]
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// GraphValidator validates workflow graph JSON documents against the
// embedded JSON Schema (draft 2020-12). Safe for concurrent use.
type GraphValidator struct {
	graphSchema *jsonschema.Schema
}

// NewGraphValidator creates a GraphValidator with the graph schema pre-compiled.
func NewGraphValidator() (*GraphValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://flowrig.dev/schemas/graph.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}

	compiled, err := c.Compile("https://flowrig.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	return &GraphValidator{graphSchema: compiled}, nil
}

// ValidateDocument validates a raw graph JSON document.
// Violations are collected into a ValidationResult; duplicate node IDs are
// checked structurally since JSON Schema cannot express uniqueness over a
// field of array items.
func (v *GraphValidator) ValidateDocument(doc []byte) (*schema.ValidationResult, error) {
	result := &schema.ValidationResult{}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(doc)))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "graph document is not valid JSON").WithCause(err)
	}

	if err := v.graphSchema.Validate(parsed); err != nil {
		for _, violation := range collectViolations(err) {
			result.AddError(violation.path, schema.ErrCodeValidation, violation.message)
		}
		return result, nil
	}

	// Structural checks beyond the schema.
	obj, _ := parsed.(map[string]any)
	nodes, _ := obj["nodes"].([]any)
	seen := make(map[string]struct{}, len(nodes))
	for i, n := range nodes {
		node, _ := n.(map[string]any)
		id, _ := node["id"].(string)
		if _, exists := seen[id]; exists {
			result.AddError(fmt.Sprintf("nodes[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", id))
		}
		seen[id] = struct{}{}
	}

	// Dangling edge endpoints are a latent execution failure, not a hard
	// error: the engine reports "node not found" when it walks onto one.
	edges, _ := obj["edges"].([]any)
	for i, e := range edges {
		edge, _ := e.(map[string]any)
		for _, end := range []string{"source", "target"} {
			if ref, _ := edge[end].(string); ref != "" {
				if _, ok := seen[ref]; !ok {
					result.AddWarning(fmt.Sprintf("edges[%d].%s", i, end), schema.ErrCodeNotFound,
						fmt.Sprintf("edge references unknown node %q", ref))
				}
			}
		}
	}

	return result, nil
}

type violation struct {
	path    string
	message string
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(err error) []violation {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []violation{{path: "/", message: err.Error()}}
	}

	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []violation{{path: loc, message: verr.Error()}}
	}

	var out []violation
	for _, cause := range verr.Causes {
		out = append(out, collectViolations(cause)...)
	}
	return out
}
