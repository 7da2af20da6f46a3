package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"uniassist/internal/errkind"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewGeminiClient(GeminiConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "gemini-2.5-flash",
	}, nil)
}

func completionBody(text string, tokens int) string {
	return fmt.Sprintf(`{
		"candidates": [{"content": {"parts": [{"text": %q}]}}],
		"usageMetadata": {"totalTokenCount": %d}
	}`, text, tokens)
}

func TestGeminiGenerate(t *testing.T) {
	var captured geminiRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "gemini-2.5-flash:generateContent")
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		fmt.Fprint(w, completionBody("Học phí kỳ này là 12 triệu.", 42))
	})

	resp, err := client.Generate(context.Background(), Request{
		System: "Bạn là trợ lý sinh viên.",
		Prompt: "Học phí bao nhiêu?",
	})
	require.NoError(t, err)
	require.Equal(t, "Học phí kỳ này là 12 triệu.", resp.Text)
	require.Equal(t, 42, resp.TokensUsed)
	require.NotNil(t, captured.SystemInstruction)
	require.Equal(t, "Học phí bao nhiêu?", captured.Contents[0].Parts[0].Text)
}

func TestGeminiGenerateJSONMode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType)
		fmt.Fprint(w, completionBody(`{"action": 1}`, 10))
	})
	resp, err := client.Generate(context.Background(), Request{Prompt: "triage", JSONOutput: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"action": 1}`, resp.Text)
}

func TestGeminiGenerateImagePart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Contents[0].Parts, 2)
		require.NotNil(t, req.Contents[0].Parts[1].InlineData)
		require.Equal(t, "image/png", req.Contents[0].Parts[1].InlineData.MimeType)
		fmt.Fprint(w, completionBody("Ảnh chụp thời khóa biểu.", 5))
	})
	_, err := client.Generate(context.Background(), Request{
		Prompt: "Ảnh này là gì?",
		Image:  &Image{Data: []byte{1, 2, 3}, MimeType: "image/png"},
	})
	require.NoError(t, err)
}

func TestGeminiGenerateRetriesThrottling(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionBody("ok", 1))
	})
	resp, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Text)
	require.Equal(t, 2, attempts)
}

func TestGeminiGenerateServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "bad field"}}`)
	})
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.True(t, errkind.Is(err, errkind.DependencyUnavailable))
}

func TestGeminiGenerateStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "streamGenerateContent")
		w.Header().Set("Content-Type", "text/event-stream")
		// SSE data payloads are single lines.
		for _, text := range []string{"Chào ", "bạn", "!"} {
			fmt.Fprintf(w, "data: %s\n\n",
				fmt.Sprintf(`{"candidates": [{"content": {"parts": [{"text": %q}]}}]}`, text))
		}
	})

	tokens, errs := client.GenerateStream(context.Background(), Request{Prompt: "chào"})
	var sb strings.Builder
	for token := range tokens {
		sb.WriteString(token)
	}
	require.NoError(t, <-errs)
	require.Equal(t, "Chào bạn!", sb.String())
}

func TestGeminiMissingAPIKey(t *testing.T) {
	client := NewGeminiClient(GeminiConfig{}, nil)
	_, err := client.Generate(context.Background(), Request{Prompt: "hi"})
	require.True(t, errkind.Is(err, errkind.DependencyUnavailable))
}
