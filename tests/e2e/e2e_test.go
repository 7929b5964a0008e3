package e2e

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avandres/stepflow/internal/engine"
	"github.com/avandres/stepflow/internal/expressions"
	"github.com/avandres/stepflow/internal/state"
	"github.com/avandres/stepflow/internal/streaming"
	"github.com/avandres/stepflow/internal/tool"
	"github.com/avandres/stepflow/internal/tool/builtin"
	"github.com/avandres/stepflow/internal/validation"
	"github.com/avandres/stepflow/pkg/schema"
)

// harness wires the full stack against a durable libSQL store, the way the
// CLI does.
type harness struct {
	deps engine.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "e2e.db")
	repo, err := state.NewLibSQLRepository(context.Background(), "file:"+dbPath)
	require.NoError(t, err)

	store := state.NewStore(repo, state.Config{}, nil)
	t.Cleanup(func() { _ = store.Close() })

	validator, err := validation.NewSchemaValidator()
	require.NoError(t, err)

	jq := expressions.NewGoJQEngine()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(builtin.NewJQTool(jq)))
	for _, tl := range builtin.CryptoTools() {
		require.NoError(t, reg.Register(tl))
	}
	for _, tl := range builtin.AssertTools() {
		require.NoError(t, reg.Register(tl))
	}

	return &harness{deps: engine.Deps{
		Tools: tool.NewExecutor(reg, validator, nil, tool.Config{}, nil),
		Store: store,
		Hub:   streaming.NewMemoryHub(),
		JQ:    jq,
	}}
}

func (h *harness) run(t *testing.T, def *schema.WorkflowDefinition, opts engine.Options) (map[string]any, string, error) {
	t.Helper()
	eng, err := engine.New(def, h.deps, opts)
	require.NoError(t, err)
	final, err := eng.Execute(context.Background(), nil)
	return final, eng.SessionID(), err
}

func TestE2E_PipelineAgainstDurableStore(t *testing.T) {
	h := newHarness(t)

	def := &schema.WorkflowDefinition{
		Name: "ingest",
		Steps: []schema.Step{
			{Name: "seed", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				return map[string]any{"items": []any{"a", "b", "c"}}, nil
			}},
			{Name: "count", Type: schema.StepTool, Tool: &schema.ToolConfig{
				Name:   "jq.transform",
				Params: []byte(`{"query": ".items | length", "input": {"items": "${{ steps.seed.items }}"}}`),
			}},
			{Name: "digest", Type: schema.StepTool, Tool: &schema.ToolConfig{
				Name:   "crypto.hash",
				Params: []byte(`{"data": "${{ workflow.name }}"}`),
			}},
		},
	}

	final, sessionID, err := h.run(t, def, engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, final["count"])

	// The run is durable: a fresh store over the same file sees it.
	st, err := h.deps.Store.LoadState(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusCompleted, st.Status)
	assert.Len(t, st.Steps, 3)
}

func TestE2E_CrashResumeSkipsCompletedSteps(t *testing.T) {
	h := newHarness(t)

	firstRuns := 0
	fail := true
	def := &schema.WorkflowDefinition{
		Name: "resumable",
		Steps: []schema.Step{
			{Name: "expensive", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				firstRuns++
				return "done", nil
			}},
			{Name: "flaky", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				if fail {
					return nil, schema.NewError(schema.ErrCodeStepFailed, "transient outage")
				}
				return "recovered", nil
			}},
		},
	}

	_, sessionID, err := h.run(t, def, engine.Options{})
	require.Error(t, err)
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "flaky", fe.Step)

	fail = false
	final, _, err := h.run(t, def, engine.Options{SessionID: sessionID})
	require.NoError(t, err)

	assert.Equal(t, 1, firstRuns, "completed step must not re-run on resume")
	assert.Equal(t, "recovered", final["flaky"])
}

func TestE2E_ReplayExcludesLaterSteps(t *testing.T) {
	h := newHarness(t)

	def := &schema.WorkflowDefinition{
		Name: "staged",
		Steps: []schema.Step{
			{Name: "first", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				return 1, nil
			}},
			{Name: "second", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				return 2, nil
			}},
		},
	}

	_, sessionID, err := h.run(t, def, engine.Options{})
	require.NoError(t, err)

	st, err := h.deps.Store.Replay(context.Background(), sessionID, "first")
	require.NoError(t, err)

	values := st.ContextValues()
	assert.Contains(t, values, "first")
	assert.NotContains(t, values, "second")
}

func TestE2E_ParallelAndLoop(t *testing.T) {
	h := newHarness(t)

	def := &schema.WorkflowDefinition{
		Name: "fan-out-and-iterate",
		Steps: []schema.Step{
			{Name: "sources", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
				return []any{10, 20}, nil
			}},
			{Name: "group", Type: schema.StepParallel, Parallel: []schema.Step{
				{Name: "left", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
					return "L", nil
				}},
				{Name: "right", Type: schema.StepCustom, Custom: func(context.Context, map[string]any) (any, error) {
					return "R", nil
				}},
			}},
			{Name: "doubled", Type: schema.StepLoop, Loop: &schema.LoopConfig{
				Items: ".steps.sources[]",
				Handler: func(_ context.Context, item any, _ int, _ map[string]any) (any, error) {
					return item.(int) * 2, nil
				},
			}},
		},
	}

	final, _, err := h.run(t, def, engine.Options{})
	require.NoError(t, err)

	assert.Equal(t, "L", final["left"])
	assert.Equal(t, "R", final["right"])
	assert.NotContains(t, final, "group")
	assert.Equal(t, []any{20, 40}, final["doubled"])
}

func TestE2E_AssertToolFailsTheRun(t *testing.T) {
	h := newHarness(t)

	def := &schema.WorkflowDefinition{
		Name: "guarded",
		Steps: []schema.Step{
			{Name: "check", Type: schema.StepTool, Tool: &schema.ToolConfig{
				Name:   "assert.equals",
				Params: []byte(`{"expected": 1, "actual": 2}`),
			}},
		},
	}

	_, sessionID, err := h.run(t, def, engine.Options{})
	require.Error(t, err)

	st, err := h.deps.Store.LoadState(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, schema.WorkflowStatusFailed, st.Status)
}
