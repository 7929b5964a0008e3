package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

func newTestSchemaValidator(t *testing.T) *SchemaValidator {
	t.Helper()
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	return v
}

func TestValidateDocument_Valid(t *testing.T) {
	v := newTestSchemaValidator(t)

	doc := []byte(`{
		"name": "pipeline",
		"steps": [
			{"name": "fetch", "type": "tool", "tool": {"name": "http.request", "params": {"url": "https://example.com"}}},
			{"name": "gate", "type": "conditional", "conditional": {
				"predicate": "steps.fetch.status == 200",
				"if_true": {"name": "summarize", "type": "prompt", "prompt": {"template": "ok"}}
			}}
		]
	}`)
	require.NoError(t, v.ValidateDocument(doc))
}

func TestValidateDocument_Invalid(t *testing.T) {
	v := newTestSchemaValidator(t)

	cases := map[string][]byte{
		"empty":        nil,
		"not json":     []byte(`{`),
		"no name":      []byte(`{"steps":[{"name":"a","type":"custom"}]}`),
		"no steps":     []byte(`{"name":"w","steps":[]}`),
		"bad type":     []byte(`{"name":"w","steps":[{"name":"a","type":"teleport"}]}`),
		"unknown key":  []byte(`{"name":"w","steps":[{"name":"a","type":"custom"}],"extra":1}`),
		"bad duration": []byte(`{"name":"w","steps":[{"name":"a","type":"approval","approval":{"message":"ok?","timeout":"5 minutes"}}]}`),
	}
	for name, doc := range cases {
		err := v.ValidateDocument(doc)
		require.Error(t, err, name)
		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe, name)
		assert.Equal(t, schema.ErrCodeValidation, fe.Code, name)
	}
}

func TestValidateParams(t *testing.T) {
	v := newTestSchemaValidator(t)

	paramSchema := []byte(`{
		"type": "object",
		"required": ["url"],
		"properties": {
			"url": {"type": "string"},
			"retries": {"type": "integer", "minimum": 0}
		}
	}`)

	require.NoError(t, v.ValidateParams([]byte(`{"url":"https://example.com","retries":2}`), paramSchema))

	err := v.ValidateParams([]byte(`{"retries":-1}`), paramSchema)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeInvalidParameters, fe.Code)
	assert.NotEmpty(t, fe.Details["violations"])
}

func TestValidateParams_NoSchemaIsNoop(t *testing.T) {
	v := newTestSchemaValidator(t)
	require.NoError(t, v.ValidateParams([]byte(`{"anything":true}`), nil))
}

func TestValidateParams_SchemaCacheReuse(t *testing.T) {
	v := newTestSchemaValidator(t)
	paramSchema := []byte(`{"type":"object"}`)

	require.NoError(t, v.ValidateParams([]byte(`{}`), paramSchema))
	require.NoError(t, v.ValidateParams([]byte(`{"a":1}`), paramSchema))
	assert.Len(t, v.cache, 1)
}
