package analyzer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeDebugging(t *testing.T) {
	a := New()
	req := a.Analyze(context.Background(), "I'm getting a traceback, why does this crash?", "")
	assert.Equal(t, TaskDebugging, req.TaskType)
	assert.Greater(t, req.MinReasoning, 0)
}

func TestAnalyzeCodeGeneration(t *testing.T) {
	a := New()
	req := a.Analyze(context.Background(), "func main() {\n  fmt.Println(\"hi\")\n}", "")
	assert.Equal(t, TaskCodeGeneration, req.TaskType)
}

func TestAnalyzeOverridePinsTaskType(t *testing.T) {
	a := New()
	req := a.Analyze(context.Background(), "just a normal sentence", TaskVision)
	assert.Equal(t, TaskVision, req.TaskType)
}

func TestAnalyzeCachesByPromptAndOverride(t *testing.T) {
	a := New()
	p := "please write a readme for this project"
	first := a.Analyze(context.Background(), p, "")
	second := a.Analyze(context.Background(), p, "")
	assert.Equal(t, first, second)
	assert.Equal(t, TaskDocumentation, first.TaskType)
}

type stubRouter struct {
	tt  TaskType
	err error
}

func (s stubRouter) Classify(ctx context.Context, prompt string) (TaskType, error) {
	return s.tt, s.err
}

func TestAnalyzeConsultsRouterOnLowConfidence(t *testing.T) {
	a := New(WithRouterClient(stubRouter{tt: TaskReasoning}))
	req := a.Analyze(context.Background(), "tell me about your day", "")
	assert.Equal(t, TaskReasoning, req.TaskType)
}

func TestAnalyzeRouterFailureDegradesGracefully(t *testing.T) {
	a := New(WithRouterClient(stubRouter{err: errors.New("unreachable")}))
	req := a.Analyze(context.Background(), "tell me about your day", "")
	assert.Equal(t, TaskGeneral, req.TaskType)
}

func TestEstimateMinContextScalesWithLength(t *testing.T) {
	short := estimateMinContext("hi")
	long := estimateMinContext(string(make([]byte, 4000)))
	assert.Less(t, short, long)
}

func TestWithCacheSizeRejectsNonPositive(t *testing.T) {
	a := New(WithCacheSize(0))
	require.NotNil(t, a.cache)
}
