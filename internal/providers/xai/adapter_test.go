package xai

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
		assert.Equal(t, "Bearer xai-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"grok says hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":2,"completion_tokens":3}}`))
	}))
	defer srv.Close()

	a := New("xai", "xai-key", srv.URL)
	resp, err := a.Chat(context.Background(), "grok-4", []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{})
	require.NoError(t, err)
	assert.Equal(t, "grok says hi", resp.Content)
}

func TestClassifyErrorTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	a := New("xai", "k", srv.URL)
	_, err := a.Chat(context.Background(), "grok-4", []domain.Message{{Role: domain.RoleUser, Content: "hi"}}, domain.Options{})
	require.Error(t, err)
	ce := a.ClassifyError(err)
	assert.Equal(t, providers.ErrClassTransient, ce.Class)
}
