package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

// AssertTools returns the assert.equals, assert.contains, and assert.matches
// tools. A failed assertion is a validation error, so retry middleware never
// re-runs it.
func AssertTools() []tool.Tool {
	return []tool.Tool{
		tool.NewFunc("assert.equals", tool.Spec{
			Description: "Assert that two values are deeply equal.",
		}, assertEquals),
		tool.NewFunc("assert.contains", tool.Spec{
			Description: "Assert that a string or array contains a value.",
		}, assertContains),
		tool.NewFunc("assert.matches", tool.Spec{
			Description: "Assert that a string matches a regular expression.",
		}, assertMatches),
	}
}

type assertParams struct {
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Haystack any    `json:"haystack"`
	Needle   any    `json:"needle"`
	Value    string `json:"value"`
	Pattern  string `json:"pattern"`
	Message  string `json:"message"`
}

func decodeAssertParams(raw json.RawMessage) (assertParams, error) {
	var p assertParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, schema.NewErrorf(schema.ErrCodeInvalidParameters,
				"decode parameters: %s", err.Error()).WithCause(err)
		}
	}
	return p, nil
}

func assertEquals(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeAssertParams(raw)
	if err != nil {
		return nil, err
	}

	if reflect.DeepEqual(p.Expected, p.Actual) {
		return map[string]any{"pass": true}, nil
	}
	return nil, failed(p.Message, "values are not equal", map[string]any{
		"expected": p.Expected,
		"actual":   p.Actual,
	})
}

func assertContains(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeAssertParams(raw)
	if err != nil {
		return nil, err
	}

	switch hs := p.Haystack.(type) {
	case string:
		if strings.Contains(hs, fmt.Sprintf("%v", p.Needle)) {
			return map[string]any{"pass": true}, nil
		}
	case []any:
		for _, item := range hs {
			if reflect.DeepEqual(item, p.Needle) {
				return map[string]any{"pass": true}, nil
			}
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"haystack must be a string or array, got %T", p.Haystack)
	}
	return nil, failed(p.Message, "value not found", map[string]any{
		"haystack": p.Haystack,
		"needle":   p.Needle,
	})
}

func assertMatches(_ context.Context, raw json.RawMessage) (any, error) {
	p, err := decodeAssertParams(raw)
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(p.Pattern)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"invalid pattern %q: %s", p.Pattern, err.Error()).WithCause(err)
	}
	if re.MatchString(p.Value) {
		return map[string]any{"pass": true, "match": re.FindString(p.Value)}, nil
	}
	return nil, failed(p.Message, "value does not match pattern", map[string]any{
		"value":   p.Value,
		"pattern": p.Pattern,
	})
}

func failed(message, fallback string, details map[string]any) error {
	if message == "" {
		message = "assertion failed: " + fallback
	}
	return schema.NewError(schema.ErrCodeValidation, message).WithDetails(details)
}
