package task

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchema is validated at the wire boundary so every component can
// treat envelope payloads as opaque bytes with a known shape. Field order is
// irrelevant; unknown fields are tolerated for forward compatibility.
const envelopeSchema = `{
  "type": "object",
  "required": ["header", "task"],
  "properties": {
    "header": {
      "type": "object",
      "required": ["conversation_id", "sender", "status", "last_event", "timestamp"],
      "properties": {
        "conversation_id": {"type": "string", "minLength": 1},
        "sender": {"type": "string", "minLength": 1},
        "candidate_agents": {"type": "array", "items": {"type": "string"}},
        "assigned_agent": {"type": "string"},
        "status": {"enum": ["new", "in_progress", "completed", "failed", "escalated", "cancelled"]},
        "confidence": {"type": "number", "minimum": 0, "maximum": 1},
        "effort": {"enum": ["low", "medium", "high"]},
        "strategy": {"enum": ["direct_answer", "chain-of-thought", "chain-of-draft"]},
        "last_event": {"enum": ["plan", "execute", "critique", "refine", "conclude", "complete", "fail", "escalate", "reject", "cancel", "info", "awaiting_tool", "tool_complete"]},
        "history": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["event", "timestamp"],
            "properties": {
              "event": {"type": "string"},
              "actor": {"type": "string"},
              "timestamp": {"type": "string"}
            }
          }
        },
        "timestamp": {"type": "string"}
      }
    },
    "task": {
      "type": "object",
      "required": ["id", "name", "required_capabilities"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "description": {"type": "string"},
        "category": {"type": "string"},
        "required_capabilities": {"type": "array", "items": {"type": "string"}},
        "dependencies": {"type": "array", "items": {"type": "string"}},
        "parallelizable": {"type": "boolean"},
        "estimated_duration": {"type": "number", "minimum": 0},
        "payload": {"type": "object"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("envelope.json", envelopeSchema)

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}

// Decode parses and schema-validates a wire payload. A payload that fails
// validation yields an error and no envelope; callers treat that as a
// malformed message (log, ack, discard).
func Decode(raw []byte) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("validate envelope: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
