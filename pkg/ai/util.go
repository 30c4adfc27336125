package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// ExtractJSONObject returns the outermost {...} span of s. Chat models
// often wrap JSON in prose or code fences; the surrounding text is dropped.
// If s contains no opening brace it is returned trimmed.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// GenerateSchema creates a JSON Schema from the given Go type, suitable
// for strict structured output.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// UnmarshalFlexible unmarshals AI-generated JSON into out. It tries plain
// JSON, then a double-encoded JSON string, then the object embedded in
// surrounding prose, and finally a repaired version of the input.
//
//	UnmarshalFlexible(`{"name": "test"}`, &result)           // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)     // double-encoded
//	UnmarshalFlexible("Sure! {\"name\": \"test\"}", &result) // prose
//	UnmarshalFlexible(`{name: "test"}`, &result)             // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	if !strings.HasPrefix(input, "{") && !strings.HasPrefix(input, "[") {
		obj := ExtractJSONObject(input)
		if err := json.Unmarshal([]byte(obj), out); err == nil {
			return nil
		}
		input = obj
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}
