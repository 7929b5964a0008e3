package builtin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"

	"github.com/google/uuid"

	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/pkg/schema"
)

const hashParamSchema = `{
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {"type": "string"},
    "algorithm": {"type": "string", "enum": ["sha256", "sha384", "sha512"]},
    "key": {"type": "string"}
  },
  "additionalProperties": false
}`

type hashParams struct {
	Data      string `json:"data"`
	Algorithm string `json:"algorithm"`
	Key       string `json:"key"`
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New, nil
	case "sha384":
		return sha512.New384, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInvalidParameters,
			"unsupported hash algorithm %q", algorithm)
	}
}

// CryptoTools returns the crypto.hash, crypto.hmac, and crypto.uuid tools.
func CryptoTools() []tool.Tool {
	hashSpec := tool.Spec{
		Description: "Compute a cryptographic hash of the input data.",
		ParamSchema: json.RawMessage(hashParamSchema),
	}
	hmacSpec := tool.Spec{
		Description: "Compute an HMAC of the input data with the given key.",
		ParamSchema: json.RawMessage(hashParamSchema),
	}

	return []tool.Tool{
		tool.NewFunc("crypto.hash", hashSpec, func(_ context.Context, raw json.RawMessage) (any, error) {
			p, err := decodeHashParams(raw)
			if err != nil {
				return nil, err
			}
			newHash, err := hashFunc(p.Algorithm)
			if err != nil {
				return nil, err
			}
			h := newHash()
			h.Write([]byte(p.Data))
			return map[string]any{
				"hash":      hex.EncodeToString(h.Sum(nil)),
				"algorithm": normalizeAlgorithm(p.Algorithm),
			}, nil
		}),
		tool.NewFunc("crypto.hmac", hmacSpec, func(_ context.Context, raw json.RawMessage) (any, error) {
			p, err := decodeHashParams(raw)
			if err != nil {
				return nil, err
			}
			if p.Key == "" {
				return nil, schema.NewError(schema.ErrCodeInvalidParameters, "crypto.hmac requires a key")
			}
			newHash, err := hashFunc(p.Algorithm)
			if err != nil {
				return nil, err
			}
			mac := hmac.New(newHash, []byte(p.Key))
			mac.Write([]byte(p.Data))
			return map[string]any{
				"hmac":      hex.EncodeToString(mac.Sum(nil)),
				"algorithm": normalizeAlgorithm(p.Algorithm),
			}, nil
		}),
		tool.NewFunc("crypto.uuid", tool.Spec{
			Description: "Generate a v4 UUID.",
		}, func(context.Context, json.RawMessage) (any, error) {
			return map[string]any{"uuid": uuid.NewString()}, nil
		}),
	}
}

func decodeHashParams(raw json.RawMessage) (hashParams, error) {
	var p hashParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return p, schema.NewErrorf(schema.ErrCodeInvalidParameters,
				"decode parameters: %s", err.Error()).WithCause(err)
		}
	}
	return p, nil
}

func normalizeAlgorithm(algorithm string) string {
	if algorithm == "" {
		return "sha256"
	}
	return algorithm
}
