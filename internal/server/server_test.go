package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
	"uniassist/internal/llm"
	"uniassist/internal/orchestrator"
	"uniassist/internal/tools"
)

type fakeDocs map[string]*docstore.Document

func (f fakeDocs) GetDocument(_ context.Context, id string) (*docstore.Document, error) {
	if doc, ok := f[id]; ok {
		return doc, nil
	}
	return nil, errkind.Errorf(errkind.NotFound, "document %q not found", id)
}

type fakePresigner struct{}

func (fakePresigner) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://files.test/" + key + "?sig=1", nil
}

func newServer(t *testing.T) (*Server, fakeDocs) {
	t.Helper()
	qa := &llm.Fake{Responses: []string{"Chào bạn, mình là trợ lý sinh viên."}}
	reg := tools.NewRegistry(2*time.Second, nil)
	reg.MustRegister(tools.NewAnswerDirectlyTool(qa))
	reg.MustRegister(tools.NewClarifyTool())

	docs := fakeDocs{}
	orch := orchestrator.New(orchestrator.Deps{
		Registry:  reg,
		Documents: docs,
		Objects:   fakePresigner{},
	}, orchestrator.Config{QAModel: "qa-test"}, nil)

	return New(orch, docs, fakePresigner{}, nil, time.Hour, nil), docs
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, r)
	return w
}

func TestQueryEndpoint(t *testing.T) {
	s, _ := newServer(t)

	w := doRequest(t, s, http.MethodPost, "/query", `{"query":"Xin chào"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp struct {
		Content  string `json:"content"`
		Intent   string `json:"intent"`
		Metadata struct {
			ModelUsed string `json:"model_used"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "Chào bạn, mình là trợ lý sinh viên.", resp.Content)
	require.Equal(t, "general_answer", resp.Intent)
	require.Equal(t, "qa-test", resp.Metadata.ModelUsed)
}

func TestQueryRejectsMalformedBody(t *testing.T) {
	s, _ := newServer(t)

	for _, body := range []string{"{", `{"quer":"typo"}`, `{"query":"x","similarity_threshold":2}`} {
		w := doRequest(t, s, http.MethodPost, "/query", body)
		require.Equal(t, http.StatusBadRequest, w.Code, body)

		var errResp struct {
			ErrorKind string `json:"error_kind"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
		require.Equal(t, "invalid_input", errResp.ErrorKind)
	}
}

func TestQueryEmptyQueryMapsToBadRequest(t *testing.T) {
	s, _ := newServer(t)

	w := doRequest(t, s, http.MethodPost, "/query", `{"query":"   "}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Metadata struct {
			ErrorKind string `json:"error_kind"`
		} `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "invalid_input", resp.Metadata.ErrorKind)
}

func TestStreamEndpointEmitsSSE(t *testing.T) {
	s, _ := newServer(t)

	w := doRequest(t, s, http.MethodPost, "/query/stream", `{"query":"Xin chào"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	require.Contains(t, body, "event: content")
	require.Contains(t, body, "event: done")
	require.Less(t, strings.Index(body, "event: content"), strings.Index(body, "event: done"))
}

func artifactFixture() *docstore.Document {
	return &docstore.Document{
		ID:    "doc-1",
		Title: "Quy chế đào tạo",
		Artifacts: []docstore.Artifact{
			{StorageKey: "data/doc-1/0-quy-che.pdf", FileName: "quy-che.pdf", MimeType: "application/pdf", SizeBytes: 2048},
			{StorageKey: "data/doc-1/1-quy-che.docx", FileName: "quy-che.docx", MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", SizeBytes: 4096},
		},
		PrimaryArtifactIndex: 0,
	}
}

func TestDownloadArtifact(t *testing.T) {
	s, docs := newServer(t)
	docs["doc-1"] = artifactFixture()

	w := doRequest(t, s, http.MethodGet, "/files/doc-1/download/doc-1_artifact_0", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		DownloadURL string `json:"download_url"`
		FileName    string `json:"file_name"`
		MimeType    string `json:"mime_type"`
		SizeBytes   int64  `json:"size_bytes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.DownloadURL, "data/doc-1/0-quy-che.pdf")
	require.Equal(t, "quy-che.pdf", resp.FileName)
	require.Equal(t, int64(2048), resp.SizeBytes)
}

func TestDownloadRejectsMismatchedArtifactID(t *testing.T) {
	s, docs := newServer(t)
	docs["doc-1"] = artifactFixture()

	for _, path := range []string{
		"/files/doc-1/download/doc-2_artifact_0", // wrong document
		"/files/doc-1/download/doc-1_artifact_9", // index out of range
		"/files/doc-1/download/nonsense",         // unparseable id
		"/files/doc-9/download/doc-9_artifact_0", // unknown document
	} {
		w := doRequest(t, s, http.MethodGet, path, "")
		require.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestPreviewArtifact(t *testing.T) {
	s, docs := newServer(t)
	docs["doc-1"] = artifactFixture()

	w := doRequest(t, s, http.MethodGet, "/files/doc-1/preview/doc-1_artifact_0", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		PreviewURL string `json:"preview_url"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp.PreviewURL, "quy-che.pdf")

	// docx has no inline preview
	w = doRequest(t, s, http.MethodGet, "/files/doc-1/preview/doc-1_artifact_1", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newServer(t)
	s.probes = []Probe{
		{Name: "docstore", Check: func(context.Context) error { return nil }},
	}
	w := doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)

	s.probes = append(s.probes, Probe{
		Name: "redis",
		Check: func(context.Context) error {
			return errkind.Errorf(errkind.DependencyUnavailable, "connection refused")
		},
	})
	w = doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), `"status":"degraded"`)
}
