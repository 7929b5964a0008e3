package expressions

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

type staticSecrets map[string]string

func (s staticSecrets) Resolve(_ context.Context, key string) ([]byte, error) {
	v, ok := s[key]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	return []byte(v), nil
}

func testScope() *Scope {
	return NewScope(
		map[string]any{
			"fetch": map[string]any{"count": float64(5), "items": []any{"a", "b"}},
			"greet": "hello",
		},
		map[string]any{"user": "ada"},
		map[string]any{"name": "pipeline"},
	)
}

func TestResolver_Resolve(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	out, err := r.Resolve(ctx, "user ${{inputs.user}} got ${{steps.fetch.count}} from ${{workflow.name}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "user ada got 5 from pipeline", out)
}

func TestResolver_Resolve_PlainStringPassthrough(t *testing.T) {
	r := NewResolver(nil)

	out, err := r.Resolve(context.Background(), "no references here", testScope())
	require.NoError(t, err)
	assert.Equal(t, "no references here", out)
}

func TestResolver_ResolveValue_KeepsNativeType(t *testing.T) {
	r := NewResolver(nil)
	ctx := context.Background()

	out, err := r.ResolveValue(ctx, "${{steps.fetch.count}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, float64(5), out)

	out, err = r.ResolveValue(ctx, "${{steps.fetch.items}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResolver_ResolveParams(t *testing.T) {
	r := NewResolver(nil)

	raw := json.RawMessage(`{"n":"${{steps.fetch.count}}","who":"hi ${{inputs.user}}","nested":{"first":"${{steps.fetch.items.0}}"}}`)
	out, err := r.ResolveParams(context.Background(), raw, testScope())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.Equal(t, float64(5), decoded["n"])
	assert.Equal(t, "hi ada", decoded["who"])
	assert.Equal(t, "a", decoded["nested"].(map[string]any)["first"])
}

func TestResolver_UnknownStepIsError(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve(context.Background(), "${{steps.missing}}", testScope())
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeInterpolation, fe.Code)
}

func TestResolver_IterOutsideLoopIsError(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve(context.Background(), "${{iter.item}}", testScope())
	require.Error(t, err)
}

func TestResolver_IterVars(t *testing.T) {
	r := NewResolver(nil)
	scope := testScope().WithIter(map[string]any{"id": float64(7)}, 2)

	out, err := r.Resolve(context.Background(), "item ${{iter.index}}: ${{iter.item.id}}", scope)
	require.NoError(t, err)
	assert.Equal(t, "item 2: 7", out)
}

func TestResolver_Secrets(t *testing.T) {
	r := NewResolver(staticSecrets{"API_TOKEN": "tok-123"})

	out, err := r.Resolve(context.Background(), "Bearer ${{secrets.API_TOKEN}}", testScope())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-123", out)

	_, err = r.Resolve(context.Background(), "${{secrets.MISSING}}", testScope())
	require.Error(t, err)
}

func TestResolver_SecretsWithoutSource(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve(context.Background(), "${{secrets.API_TOKEN}}", testScope())
	require.Error(t, err)
}

func TestResolver_UnterminatedReference(t *testing.T) {
	r := NewResolver(nil)

	_, err := r.Resolve(context.Background(), "broken ${{steps.fetch", testScope())
	require.Error(t, err)
}
