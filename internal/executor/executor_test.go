package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austenvale/modelmux/internal/cost"
	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
	"github.com/austenvale/modelmux/internal/registry"
)

type scriptedSender struct {
	responses []domain.APIResponse
	errs      []error
	calls     int
}

func (s *scriptedSender) ID() string { return "stub" }

func (s *scriptedSender) Chat(ctx context.Context, model string, messages []domain.Message, opts domain.Options) (domain.APIResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return domain.APIResponse{}, s.errs[i]
	}
	return s.responses[i], nil
}

func (s *scriptedSender) ClassifyError(err error) *providers.ClassifiedError {
	return &providers.ClassifiedError{Err: err, Class: providers.ErrClassFatal}
}

func (s *scriptedSender) Close() error { return nil }

func testCapability() registry.Capability {
	return registry.Capability{ID: "gpt-4o", Provider: "openai", APIName: "gpt-4o", InputCost: 5, OutputCost: 15}
}

func TestExecuteSingleCallNoToolCalls(t *testing.T) {
	ledger := cost.New()
	sender := &scriptedSender{responses: []domain.APIResponse{
		{Content: "hi there", FinishReason: domain.FinishStop, Usage: domain.Usage{InputTokens: 10, OutputTokens: 5}},
	}}
	e := New(ledger)

	resp, err := e.Execute(context.Background(), testCapability(), sender, []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 1, sender.calls)

	rep := ledger.Report(cost.TimeRange{})
	require.Equal(t, 1, rep.RequestCount)
	assert.Equal(t, 10, rep.TotalInputTok)
	assert.Equal(t, 5, rep.TotalOutputTok)
}

func TestExecuteLoopsOnToolCallsAndRecordsCostOnce(t *testing.T) {
	ledger := cost.New()
	sender := &scriptedSender{responses: []domain.APIResponse{
		{
			FinishReason: domain.FinishToolCalls,
			ToolCalls:    []domain.ToolCall{{ID: "call-1", Name: "lookup", Arguments: `{"q":"weather"}`}},
			Usage:        domain.Usage{InputTokens: 10, OutputTokens: 5},
		},
		{
			Content:      "it is sunny",
			FinishReason: domain.FinishStop,
			Usage:        domain.Usage{InputTokens: 20, OutputTokens: 8},
		},
	}}
	e := New(ledger)
	e.RegisterFunction("lookup", func(ctx context.Context, args string) (string, error) {
		return "sunny", nil
	})

	resp, err := e.Execute(context.Background(), testCapability(), sender, []domain.Message{{Role: domain.RoleUser, Content: "weather?"}}, domain.Options{}, "req-2")
	require.NoError(t, err)
	assert.Equal(t, "it is sunny", resp.Content)
	assert.Equal(t, 2, sender.calls)

	rep := ledger.Report(cost.TimeRange{})
	require.Equal(t, 1, rep.RequestCount, "cost recorded exactly once per outer request")
	assert.Equal(t, 30, rep.TotalInputTok)
	assert.Equal(t, 13, rep.TotalOutputTok)
}

func TestExecuteUnregisteredToolIsHandlerFailure(t *testing.T) {
	ledger := cost.New()
	sender := &scriptedSender{responses: []domain.APIResponse{
		{
			FinishReason: domain.FinishToolCalls,
			ToolCalls:    []domain.ToolCall{{ID: "call-1", Name: "unknown_fn"}},
		},
	}}
	e := New(ledger)

	_, err := e.Execute(context.Background(), testCapability(), sender, []domain.Message{{Role: domain.RoleUser, Content: "x"}}, domain.Options{}, "req-3")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolHandlerFailed)

	rep := ledger.Report(cost.TimeRange{})
	assert.Equal(t, 1, rep.RequestCount)
}

func TestExecuteHandlerErrorSurfacesAsToolHandlerFailed(t *testing.T) {
	ledger := cost.New()
	sender := &scriptedSender{responses: []domain.APIResponse{
		{FinishReason: domain.FinishToolCalls, ToolCalls: []domain.ToolCall{{ID: "call-1", Name: "boom"}}},
	}}
	e := New(ledger)
	e.RegisterFunction("boom", func(ctx context.Context, args string) (string, error) {
		return "", assert.AnError
	})

	_, err := e.Execute(context.Background(), testCapability(), sender, nil, domain.Options{}, "req-4")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolHandlerFailed)
}

func TestExecuteHitsIterationCapAndReturnsLengthFinish(t *testing.T) {
	ledger := cost.New()
	loopingResp := domain.APIResponse{
		FinishReason: domain.FinishToolCalls,
		ToolCalls:    []domain.ToolCall{{ID: "c", Name: "loop"}},
	}
	responses := make([]domain.APIResponse, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, loopingResp)
	}
	sender := &scriptedSender{responses: responses}
	e := New(ledger, WithMaxIterations(3))
	e.RegisterFunction("loop", func(ctx context.Context, args string) (string, error) {
		return "again", nil
	})

	resp, err := e.Execute(context.Background(), testCapability(), sender, nil, domain.Options{}, "req-5")
	require.NoError(t, err)
	assert.Equal(t, domain.FinishLength, resp.FinishReason)
	assert.Equal(t, 3, sender.calls)
}

func TestExecuteTransportFailureRecordsZeroTokenCostRecord(t *testing.T) {
	ledger := cost.New()
	sender := &scriptedSender{
		responses: []domain.APIResponse{{}},
		errs:      []error{assert.AnError},
	}
	e := New(ledger)

	_, err := e.Execute(context.Background(), testCapability(), sender, nil, domain.Options{}, "req-6")
	require.Error(t, err)

	rep := ledger.Report(cost.TimeRange{})
	require.Equal(t, 1, rep.RequestCount)
	assert.Equal(t, 0.0, rep.TotalCostUSD)
}
