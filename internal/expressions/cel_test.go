package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/pkg/schema"
)

func newTestCEL(t *testing.T) *CELEngine {
	t.Helper()
	eng, err := NewCELEngine()
	require.NoError(t, err)
	return eng
}

func TestCELEngine_Predicates(t *testing.T) {
	eng := newTestCEL(t)
	ctx := context.Background()

	data := map[string]any{
		"steps": map[string]any{
			"fetch": map[string]any{"count": 5, "ok": true},
		},
		"inputs": map[string]any{"threshold": 3},
	}

	out, err := eng.Evaluate(ctx, `steps.fetch.count > inputs.threshold`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	ok, err := eng.EvaluateBool(ctx, `steps.fetch.ok && steps.fetch.count == 5`, data)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCELEngine_MissingNamespacesDefaultEmpty(t *testing.T) {
	eng := newTestCEL(t)

	out, err := eng.Evaluate(context.Background(), `size(steps) == 0 && size(iter) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCELEngine_CompileErrorIsValidation(t *testing.T) {
	eng := newTestCEL(t)

	_, err := eng.Evaluate(context.Background(), `steps.fetch >`, nil)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestCELEngine_NonBoolPredicateRejected(t *testing.T) {
	eng := newTestCEL(t)

	_, err := eng.EvaluateBool(context.Background(), `1 + 1`, nil)
	require.Error(t, err)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestCELEngine_EmptyExpression(t *testing.T) {
	eng := newTestCEL(t)

	_, err := eng.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCELEngine_CacheReuse(t *testing.T) {
	eng := newTestCEL(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := eng.Evaluate(ctx, `inputs.n * 2`, map[string]any{
			"inputs": map[string]any{"n": i},
		})
		require.NoError(t, err)
		assert.EqualValues(t, i*2, out)
	}
	assert.Len(t, eng.cache, 1)
}
