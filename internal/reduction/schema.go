package reduction

import "github.com/santhosh-tekuri/jsonschema/v5"

// responseSchema is the wire contract for the reducer's response. A response
// that fails this schema is a contract error and settles as
// FallbackMalformed; it is never inspected for semantic fields first.
//
// is_executable is not required: a reducer that omits it is answering "not
// executable" (unknown defaults closed).
const responseSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "intent_family":          {"type": "string"},
    "intent_type":            {"type": "string"},
    "committed_goal_prop_id": {"type": ["string", "null"]},
    "is_executable":          {"type": "boolean"},
    "block_reason":           {"type": ["string", "null"]},
    "grounding": {
      "type": ["object", "null"],
      "properties": {
        "passed": {"type": "boolean"},
        "reason": {"type": "string"}
      },
      "required": ["passed"]
    }
  },
  "required": ["intent_family", "intent_type"]
}`

var responseSchema = jsonschema.MustCompileString("reducer-response.json", responseSchemaJSON)
