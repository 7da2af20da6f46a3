package orchestrator

import (
	"fmt"
	"time"

	"uniassist/internal/errkind"
	"uniassist/internal/intent"
	"uniassist/internal/llm"
	"uniassist/internal/tools"
)

// Request is one smart-query invocation.
type Request struct {
	Query          string
	SessionID      string
	UserID         string
	Collection     string
	EnableRAG      bool
	TopK           int
	Threshold      float64
	IncludeSources bool
	Temperature    float64
	MaxTokens      int
	Image          *llm.Image
}

// Source types surfaced to the client.
const (
	SourceDocument        = "document"
	SourceWebSearch       = "web_search"
	SourceDirectKnowledge = "direct_knowledge"
)

// Source is one provenance entry for the answer.
type Source struct {
	SourceType     string  `json:"source_type"`
	DocumentID     string  `json:"document_id,omitempty"`
	Title          string  `json:"title,omitempty"`
	URL            string  `json:"url,omitempty"`
	ChunkText      string  `json:"chunk_text,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ArtifactReference is a downloadable file surfaced with the answer.
// ArtifactID is opaque to clients but deterministic per document.
type ArtifactReference struct {
	ArtifactID   string   `json:"artifact_id"`
	DocumentID   string   `json:"document_id"`
	FileName     string   `json:"file_name"`
	ArtifactType string   `json:"artifact_type"`
	DownloadURL  string   `json:"download_url"`
	PreviewURL   string   `json:"preview_url,omitempty"`
	SizeBytes    int64    `json:"size_bytes"`
	SizeDisplay  string   `json:"size_display"`
	IsFillable   bool     `json:"is_fillable"`
	FillFields   []string `json:"fill_fields,omitempty"`
}

// ArtifactID renders the opaque reference id for one artifact slot.
func ArtifactID(documentID string, index int) string {
	return fmt.Sprintf("%s_artifact_%d", documentID, index)
}

// VectorReference summarizes what retrieval saw for this request.
type VectorReference struct {
	TopScore          float64  `json:"top_score"`
	AvgScore          float64  `json:"avg_score"`
	ChunkCount        int      `json:"chunk_count"`
	HasHighConfidence bool     `json:"has_high_confidence"`
	Threshold         float64  `json:"threshold"`
	SampleChunks      []string `json:"sample_chunks,omitempty"`
}

// Metadata carries per-response bookkeeping.
type Metadata struct {
	ModelUsed        string       `json:"model_used"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	TokensUsed       int          `json:"tokens_used"`
	SourcesCount     int          `json:"sources_count"`
	ArtifactsCount   int          `json:"artifacts_count"`
	HasFillableForm  bool         `json:"has_fillable_form"`
	ErrorKind        errkind.Kind `json:"error_kind,omitempty"`
}

// Response is the structured answer for one request.
type Response struct {
	Content   string              `json:"content"`
	Intent    intent.Intent       `json:"intent"`
	Artifacts []ArtifactReference `json:"artifacts"`
	Sources   []Source            `json:"sources"`
	Metadata  Metadata            `json:"metadata"`
	CreatedAt time.Time           `json:"created_at"`

	// Execution trace, persisted to the orchestration log.
	ToolCalls   []*tools.Call   `json:"-"`
	PrimaryTool tools.Type      `json:"-"`
	VectorRef   VectorReference `json:"-"`
}

// Streaming event kinds, in emission order.
const (
	EventSources   = "sources"
	EventArtifacts = "artifacts"
	EventContent   = "content"
	EventDone      = "done"
	EventError     = "error"
)

// Event is one streaming frame.
type Event struct {
	Kind      string              `json:"kind"`
	Content   string              `json:"content,omitempty"`
	Sources   []Source            `json:"sources,omitempty"`
	Artifacts []ArtifactReference `json:"artifacts,omitempty"`
	Metadata  *Metadata           `json:"metadata,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// SizeDisplay renders a byte count for humans.
func SizeDisplay(bytes int64) string {
	switch {
	case bytes >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(bytes)/(1<<10))
	case bytes > 0:
		return fmt.Sprintf("%d B", bytes)
	default:
		return "0 B"
	}
}
