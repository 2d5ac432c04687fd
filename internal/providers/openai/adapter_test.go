package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/austenvale/modelmux/internal/domain"
	"github.com/austenvale/modelmux/internal/providers"
)

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	a := New("openai", "sk-test", srv.URL)
	resp, err := a.Chat(context.Background(), "gpt-5", []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 3, resp.Usage.InputTokens)
}

func TestClassifyErrorRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := New("openai", "sk-test", srv.URL)
	_, err := a.Chat(context.Background(), "gpt-5", []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{})
	require.Error(t, err)
	ce := a.ClassifyError(err)
	assert.Equal(t, providers.ErrClassRateLimited, ce.Class)
}

func TestClassifyErrorContextOverflow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded"}}`))
	}))
	defer srv.Close()

	a := New("openai", "sk-test", srv.URL)
	_, err := a.Chat(context.Background(), "gpt-5", []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{})
	require.Error(t, err)
	ce := a.ClassifyError(err)
	assert.Equal(t, providers.ErrClassContextOverflow, ce.Class)
}

func TestIDReturnsConfiguredID(t *testing.T) {
	a := New("openai-eu", "k", "http://unused")
	assert.Equal(t, "openai-eu", a.ID())
}
