// Package schema validates inbound packets before anything is persisted.
// Structural validation uses compiled JSON Schemas; the schema_version field,
// when present, is gated separately with a semver range so version skew gets
// its own error code instead of a generic validation failure.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// acceptedVersions is the range of packet schema versions this build accepts.
var acceptedVersions = mustConstraint("^1")

const intentPacketSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"const": "intent"},
    "schema_version": {"type": "string"},
    "intent_type": {"type": ["string", "null"]},
    "intent_id": {"type": "string"},
    "correlation_id": {"type": "string"},
    "trace_id": {"type": "string"},
    "actor_id": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "fields": {"type": "object"},
    "context": {"type": "object"}
  }
}`

const actionPacketSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["kind"],
  "properties": {
    "kind": {"const": "action"},
    "schema_version": {"type": "string"},
    "action": {"type": "string"},
    "intent_id": {"type": "string"},
    "correlation_id": {"type": "string"},
    "trace_id": {"type": "string"},
    "actor_id": {"type": "string"},
    "payload": {"type": "object"}
  }
}`

const answerPacketSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "choice_id": {"type": "string"},
    "answer_text": {"type": "string"}
  },
  "anyOf": [
    {"required": ["choice_id"]},
    {"required": ["answer_text"]}
  ]
}`

var (
	intentPacket = mustCompile("intent_packet.json", intentPacketSchema)
	actionPacket = mustCompile("action_packet.json", actionPacketSchema)
	answerPacket = mustCompile("answer_packet.json", answerPacketSchema)
)

func mustConstraint(rng string) *semver.Constraints {
	c, err := semver.NewConstraint(rng)
	if err != nil {
		panic(err)
	}
	return c
}

func mustCompile(name, body string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(body)); err != nil {
		panic(err)
	}
	return c.MustCompile(name)
}

// ValidationError reports why a packet was refused at the edge.
type ValidationError struct {
	Code    string
	Message string
	Fields  []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// ValidateIntentPacket checks a raw intent packet: well-formed JSON, accepted
// schema_version if one is declared, and structural shape. The parsed body is
// returned so callers do not decode twice.
func ValidateIntentPacket(raw []byte) (map[string]any, *ValidationError) {
	doc, verr := decode(raw)
	if verr != nil {
		return nil, verr
	}
	if verr := checkVersion(doc); verr != nil {
		return nil, verr
	}
	if verr := validate(intentPacket, doc); verr != nil {
		return nil, verr
	}
	return doc, nil
}

// ValidateActionPacket checks a raw pre-normalised action packet.
func ValidateActionPacket(raw []byte) (map[string]any, *ValidationError) {
	doc, verr := decode(raw)
	if verr != nil {
		return nil, verr
	}
	if verr := checkVersion(doc); verr != nil {
		return nil, verr
	}
	if verr := validate(actionPacket, doc); verr != nil {
		return nil, verr
	}
	return doc, nil
}

// ValidateAnswerPacket checks a clarification answer body. Answers carry no
// schema_version and must name a choice, free text, or both.
func ValidateAnswerPacket(raw []byte) (map[string]any, *ValidationError) {
	doc, verr := decode(raw)
	if verr != nil {
		return nil, verr
	}
	if verr := validate(answerPacket, doc); verr != nil {
		return nil, verr
	}
	return doc, nil
}

func decode(raw []byte) (map[string]any, *ValidationError) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &ValidationError{Code: "bad_json", Message: "body is not valid JSON"}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ValidationError{Code: "schema_validation_failed", Message: "body must be a JSON object"}
	}
	return obj, nil
}

func checkVersion(doc map[string]any) *ValidationError {
	raw, ok := doc["schema_version"]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if ok {
		if v, err := semver.NewVersion(s); err == nil && acceptedVersions.Check(v) {
			return nil
		}
	}
	return &ValidationError{
		Code:    "unsupported_schema_version",
		Message: fmt.Sprintf("schema_version %v is not accepted", raw),
		Fields:  []string{"schema_version"},
	}
}

func validate(s *jsonschema.Schema, doc map[string]any) *ValidationError {
	err := s.Validate(map[string]any(doc))
	if err == nil {
		return nil
	}
	verr := &ValidationError{Code: "schema_validation_failed", Message: "packet failed schema validation"}
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		verr.Fields = leafLocations(ve)
	}
	return verr
}

// leafLocations flattens the nested cause tree into instance pointers, which
// read naturally as field paths in error details.
func leafLocations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{loc}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafLocations(c)...)
	}
	return out
}
