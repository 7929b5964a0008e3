package builtin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

func findTool(t *testing.T, tools []tool.Tool, name string) tool.Tool {
	t.Helper()
	for _, tl := range tools {
		if tl.Name() == name {
			return tl
		}
	}
	t.Fatalf("tool %q not in set", name)
	return nil
}

func TestHTTPTool_JSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 7}`))
	}))
	defer srv.Close()

	params, _ := json.Marshal(map[string]any{
		"url":    srv.URL,
		"method": "POST",
		"body":   map[string]any{"name": "report"},
	})
	out, err := NewHTTPTool(nil).Execute(context.Background(), params)
	require.NoError(t, err)

	res := out.(map[string]any)
	assert.Equal(t, http.StatusCreated, res["status"])
	assert.Equal(t, map[string]any{"id": float64(7)}, res["body"])
}

func TestHTTPTool_NonJSONBodyIsString(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("plain text"))
	}))
	defer srv.Close()

	params, _ := json.Marshal(map[string]any{"url": srv.URL})
	out, err := NewHTTPTool(nil).Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "plain text", out.(map[string]any)["body"])
}

func TestJQTool_Transform(t *testing.T) {
	params, _ := json.Marshal(map[string]any{
		"query": ".items | length",
		"input": map[string]any{"items": []any{1, 2, 3}},
	})
	out, err := NewJQTool(nil).Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestCryptoHash(t *testing.T) {
	hash := findTool(t, CryptoTools(), "crypto.hash")

	params, _ := json.Marshal(map[string]any{"data": "hello"})
	out, err := hash.Execute(context.Background(), params)
	require.NoError(t, err)

	res := out.(map[string]any)
	assert.Equal(t, "sha256", res["algorithm"])
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res["hash"])
}

func TestCryptoHash_UnknownAlgorithm(t *testing.T) {
	hash := findTool(t, CryptoTools(), "crypto.hash")

	params, _ := json.Marshal(map[string]any{"data": "hello", "algorithm": "md5"})
	_, err := hash.Execute(context.Background(), params)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeInvalidParameters, fe.Code)
}

func TestCryptoHMAC_RequiresKey(t *testing.T) {
	mac := findTool(t, CryptoTools(), "crypto.hmac")

	params, _ := json.Marshal(map[string]any{"data": "hello"})
	_, err := mac.Execute(context.Background(), params)
	require.Error(t, err)

	params, _ = json.Marshal(map[string]any{"data": "hello", "key": "s3cret"})
	out, err := mac.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Len(t, out.(map[string]any)["hmac"], 64)
}

func TestCryptoUUID(t *testing.T) {
	gen := findTool(t, CryptoTools(), "crypto.uuid")

	a, err := gen.Execute(context.Background(), nil)
	require.NoError(t, err)
	b, err := gen.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.(map[string]any)["uuid"], b.(map[string]any)["uuid"])
}

func TestAssertEquals(t *testing.T) {
	eq := findTool(t, AssertTools(), "assert.equals")

	params, _ := json.Marshal(map[string]any{"expected": 1, "actual": 1})
	out, err := eq.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"pass": true}, out)

	params, _ = json.Marshal(map[string]any{"expected": 1, "actual": 2, "message": "counts differ"})
	_, err = eq.Execute(context.Background(), params)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Equal(t, "counts differ", fe.Message)
	assert.False(t, fe.IsRetryable())
}

func TestAssertContains(t *testing.T) {
	contains := findTool(t, AssertTools(), "assert.contains")

	params, _ := json.Marshal(map[string]any{"haystack": "hello world", "needle": "world"})
	_, err := contains.Execute(context.Background(), params)
	require.NoError(t, err)

	params, _ = json.Marshal(map[string]any{"haystack": []any{"a", "b"}, "needle": "c"})
	_, err = contains.Execute(context.Background(), params)
	require.Error(t, err)

	params, _ = json.Marshal(map[string]any{"haystack": 42, "needle": "x"})
	_, err = contains.Execute(context.Background(), params)
	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeInvalidParameters, fe.Code)
}

func TestAssertMatches(t *testing.T) {
	matches := findTool(t, AssertTools(), "assert.matches")

	params, _ := json.Marshal(map[string]any{"value": "order-123", "pattern": `^order-\d+$`})
	out, err := matches.Execute(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "order-123", out.(map[string]any)["match"])

	params, _ = json.Marshal(map[string]any{"value": "x", "pattern": "("})
	_, err = matches.Execute(context.Background(), params)
	require.Error(t, err)
}
