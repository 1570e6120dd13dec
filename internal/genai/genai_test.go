package genai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiGenerate(t *testing.T) {
	var got geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.RawQuery)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"A short summary."}]}}]}`))
	}))
	defer server.Close()

	client := NewGeminiClient("k-123", "gemini-test", server.URL+"/models/")
	text, err := client.Generate(context.Background(), SummarizePrompt("buy milk"))
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", text)

	require.Len(t, got.Contents, 1)
	assert.Equal(t, "Summarize the following note content concisely:\n\nbuy milk", got.Contents[0].Parts[0].Text)
	assert.Equal(t, 500, got.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, 40, got.GenerationConfig.TopK)
}

func TestGeminiEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	text, err := NewGeminiClient("k", "m", server.URL).Generate(context.Background(), "p")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGeminiTransportErrorOmitsAPIKey(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	_, err := NewGeminiClient("SECRET-KEY-123", "", baseURL).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-KEY-123")
}

func TestGeminiErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	}))
	defer server.Close()

	_, err := NewGeminiClient("bad", "m", server.URL).Generate(context.Background(), "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestOpenAIGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-test", body["model"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"It is about milk."},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("sk-test", "gpt-test", server.URL+"/v1")
	text, err := client.Generate(context.Background(), AskPrompt("buy milk", "what?"))
	require.NoError(t, err)
	assert.Equal(t, "It is about milk.", text)
}

func TestNewSelectsProvider(t *testing.T) {
	gen, err := New(Config{Provider: "gemini"}, nil)
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrUnavailable)

	gen, err = New(Config{Provider: "openai", OpenAIAPIKey: "sk"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, gen)

	gen, err = New(Config{GeminiAPIKey: "k"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &GeminiClient{}, gen)

	_, err = New(Config{Provider: "llama"}, nil)
	assert.Error(t, err)
}

func TestAskPrompt(t *testing.T) {
	assert.Equal(t,
		"Given the following note content: \"\"\"buy milk\"\"\"\n\nAnswer the following question about it: \"what?\"",
		AskPrompt("buy milk", "what?"))
}
