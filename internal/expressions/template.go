package expressions

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/avandres/stepflow/pkg/schema"
)

const (
	refOpen  = "${{"
	refClose = "}}"
)

// SecretSource resolves ${{secrets.KEY}} references at render time. Secret
// values never enter the Scope and are never persisted with step results.
type SecretSource interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
}

// Resolver renders ${{ ... }} references inside prompt templates and tool
// parameters against a Scope. Recognized namespaces:
//
//	steps.<name>[.path]   result of a completed step
//	inputs.<key>[.path]   workflow input parameter
//	workflow.<key>        workflow metadata
//	iter.item / iter.index  loop iteration variables
//	secrets.<KEY>         secret value from the configured SecretSource
//
// A Resolver is stateless apart from its secret source and is safe for
// concurrent use.
type Resolver struct {
	secrets SecretSource
}

// NewResolver creates a Resolver. secrets may be nil, in which case any
// ${{secrets.*}} reference is an interpolation error.
func NewResolver(secrets SecretSource) *Resolver {
	return &Resolver{secrets: secrets}
}

// HasTemplate reports whether s contains at least one ${{ ... }} reference.
func HasTemplate(s string) bool {
	return strings.Contains(s, refOpen)
}

// Resolve renders all references in template and returns the resulting
// string. String values are embedded verbatim; other values are embedded as
// compact JSON. An unresolvable reference is an error, not an empty string.
func (r *Resolver) Resolve(ctx context.Context, template string, scope *Scope) (string, error) {
	if !HasTemplate(template) {
		return template, nil
	}

	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, refOpen)
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:start])
		rest = rest[start+len(refOpen):]

		end := strings.Index(rest, refClose)
		if end < 0 {
			return "", schema.NewErrorf(schema.ErrCodeInterpolation,
				"unterminated reference in template %q", template)
		}
		ref := strings.TrimSpace(rest[:end])
		rest = rest[end+len(refClose):]

		val, err := r.resolveRef(ctx, ref, scope)
		if err != nil {
			return "", err
		}
		b.WriteString(stringify(val))
	}
}

// ResolveValue is like Resolve but preserves the native type when the whole
// template is a single reference: ${{steps.count}} yields the number, not
// its string form. Mixed templates fall back to string rendering.
func (r *Resolver) ResolveValue(ctx context.Context, template string, scope *Scope) (any, error) {
	trimmed := strings.TrimSpace(template)
	if strings.HasPrefix(trimmed, refOpen) && strings.HasSuffix(trimmed, refClose) {
		inner := trimmed[len(refOpen) : len(trimmed)-len(refClose)]
		if !strings.Contains(inner, refOpen) && !strings.Contains(inner, refClose) {
			return r.resolveRef(ctx, strings.TrimSpace(inner), scope)
		}
	}
	return r.Resolve(ctx, template, scope)
}

// ResolveParams renders references inside a raw JSON document, walking all
// nested strings. Whole-string references keep their native JSON type.
func (r *Resolver) ResolveParams(ctx context.Context, raw json.RawMessage, scope *Scope) (json.RawMessage, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"parameters are not valid JSON: %s", err.Error()).WithCause(err)
	}
	resolved, err := r.resolveAny(ctx, decoded, scope)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"cannot re-encode resolved parameters: %s", err.Error()).WithCause(err)
	}
	return out, nil
}

func (r *Resolver) resolveAny(ctx context.Context, v any, scope *Scope) (any, error) {
	switch val := v.(type) {
	case string:
		if !HasTemplate(val) {
			return val, nil
		}
		return r.ResolveValue(ctx, val, scope)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := r.resolveAny(ctx, item, scope)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := r.resolveAny(ctx, item, scope)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (r *Resolver) resolveRef(ctx context.Context, ref string, scope *Scope) (any, error) {
	if ref == "" {
		return nil, schema.NewError(schema.ErrCodeInterpolation, "empty reference")
	}

	ns, path, _ := strings.Cut(ref, ".")
	switch ns {
	case "steps":
		if path == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"steps reference requires a step name, e.g. steps.fetch")
		}
		name, rest, _ := strings.Cut(path, ".")
		if scope == nil || scope.Steps == nil {
			return nil, unknownStepErr(name)
		}
		result, ok := scope.Steps[name]
		if !ok {
			return nil, unknownStepErr(name)
		}
		return traversePath(result, rest, ref)
	case "inputs":
		if scope == nil {
			return nil, unknownRefErr(ref)
		}
		return traversePath(scope.Inputs, path, ref)
	case "workflow":
		if scope == nil {
			return nil, unknownRefErr(ref)
		}
		return traversePath(scope.Workflow, path, ref)
	case "iter":
		if scope == nil || scope.Iter == nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"%q referenced outside a loop iteration", ref)
		}
		key, rest, _ := strings.Cut(path, ".")
		switch key {
		case "item":
			return traversePath(scope.Iter.Item, rest, ref)
		case "index":
			return scope.Iter.Index, nil
		default:
			return nil, unknownRefErr(ref)
		}
	case "secrets":
		if path == "" {
			return nil, schema.NewError(schema.ErrCodeInterpolation,
				"secrets reference requires a key, e.g. secrets.API_TOKEN")
		}
		if r.secrets == nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"no secret source configured for %q", ref)
		}
		val, err := r.secrets.Resolve(ctx, path)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot resolve secret %q: %s", path, err.Error()).WithCause(err)
		}
		return string(val), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
			"unknown namespace %q in reference %q (expected steps, inputs, workflow, iter, or secrets)", ns, ref)
	}
}

// traversePath walks a dot path over nested maps and slices. Numeric
// segments index slices. An empty path returns the value itself.
func traversePath(v any, path, ref string) (any, error) {
	if path == "" {
		return v, nil
	}
	current := v
	for _, seg := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"path segment %q not found in reference %q", seg, ref)
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
					"invalid list index %q in reference %q", seg, ref)
			}
			current = node[idx]
		default:
			return nil, schema.NewErrorf(schema.ErrCodeInterpolation,
				"cannot descend into %T at %q in reference %q", current, seg, ref)
		}
	}
	return current, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

func unknownStepErr(name string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"step %q has no recorded result; only completed steps are referenceable", name)
}

func unknownRefErr(ref string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeInterpolation, "cannot resolve reference %q", ref)
}
