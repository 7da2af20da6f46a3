package resolver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"uniassist/internal/llm"
	"uniassist/internal/rag"
)

type fakeRetriever struct {
	results []rag.Result
	err     error
	queries []string
}

func (f *fakeRetriever) Search(_ context.Context, query string, _ rag.SearchConfig) ([]rag.Result, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func TestResolveNoCandidatesIsNew(t *testing.T) {
	retriever := &fakeRetriever{}
	qa := &llm.Fake{Responses: []string{"Thông báo về lịch nghỉ Tết 2026."}}
	r := New(retriever, qa, &llm.Fake{}, 0, nil)

	res, err := r.Resolve(context.Background(), Input{
		Title:      "Lịch nghỉ Tết",
		Content:    "Trường thông báo lịch nghỉ Tết Nguyên đán...",
		Collection: "thong_bao",
	})
	require.NoError(t, err)
	require.Equal(t, ActionNew, res.Action)
	require.Equal(t, "Thông báo về lịch nghỉ Tết 2026.", res.Summary)
	require.Empty(t, res.Candidates)

	// Candidate search embeds title + summary, not raw content.
	require.Len(t, retriever.queries, 1)
	require.Contains(t, retriever.queries[0], "Tiêu đề: Lịch nghỉ Tết")
	require.Contains(t, retriever.queries[0], "Tóm tắt: Thông báo về lịch nghỉ Tết 2026.")
}

func TestResolveUpdateVerdict(t *testing.T) {
	retriever := &fakeRetriever{results: []rag.Result{
		{SourceID: "doc-1", Title: "Lịch nghỉ Tết 2025", Content: "Nội dung cũ", Score: 0.91},
		{SourceID: "doc-2", Title: "Học phí", Content: "Khác", Score: 0.4},
	}}
	qa := &llm.Fake{Responses: []string{"Tóm tắt mới."}}
	reasoning := &llm.Fake{Responses: []string{
		`{"action": 2, "reason": "bản cập nhật của lịch nghỉ Tết", "updated_id": "doc-1"}`,
	}}
	r := New(retriever, qa, reasoning, 5, nil)

	res, err := r.Resolve(context.Background(), Input{Title: "Lịch nghỉ Tết 2026", Content: "..."})
	require.NoError(t, err)
	require.Equal(t, ActionUpdate, res.Action)
	require.Equal(t, "doc-1", res.UpdatedID)
	require.Len(t, res.Candidates, 2)
	require.Equal(t, "doc-1", res.Candidates[0].DocumentID)

	// The triage prompt numbers candidates with ids and scores.
	prompt := reasoning.Calls[0].Prompt
	require.Contains(t, prompt, "1. id=doc-1")
	require.Contains(t, prompt, "2. id=doc-2")
}

func TestResolveUnrelatedVerdict(t *testing.T) {
	retriever := &fakeRetriever{results: []rag.Result{
		{SourceID: "doc-1", Title: "Học phí", Score: 0.3},
	}}
	reasoning := &llm.Fake{Responses: []string{
		`{"action": 0, "reason": "tin tức thể thao, không liên quan đến trường"}`,
	}}
	r := New(retriever, &llm.Fake{Responses: []string{"s"}}, reasoning, 5, nil)

	res, err := r.Resolve(context.Background(), Input{Title: "Kết quả bóng đá", Content: "..."})
	require.NoError(t, err)
	require.Equal(t, ActionUnrelated, res.Action)
	require.Empty(t, res.UpdatedID)
}

func TestResolveMalformedVerdictDefaultsToNew(t *testing.T) {
	retriever := &fakeRetriever{results: []rag.Result{
		{SourceID: "doc-1", Title: "A", Score: 0.8},
	}}
	for _, verdict := range []string{
		"không rõ",
		`{"reason": "thiếu action"}`,
		`{"action": 7, "reason": "ngoài miền"}`,
		`{"action": 2, "reason": "update nhưng trỏ sai", "updated_id": "doc-unknown"}`,
	} {
		reasoning := &llm.Fake{Responses: []string{verdict}}
		r := New(retriever, &llm.Fake{Responses: []string{"s"}}, reasoning, 5, nil)
		res, err := r.Resolve(context.Background(), Input{Title: "T", Content: "C"})
		require.NoError(t, err, verdict)
		require.Equal(t, ActionNew, res.Action, verdict)
		require.Empty(t, res.UpdatedID, verdict)
	}
}

func TestSummarizeFallsBackToContentPrefix(t *testing.T) {
	qa := &llm.Fake{GenerateFunc: func(llm.Request) (string, error) {
		return "", errors.New("model down")
	}}
	r := New(&fakeRetriever{}, qa, &llm.Fake{}, 5, nil)

	long := strings.Repeat("nội dung dài ", 100)
	res, err := r.Resolve(context.Background(), Input{Title: "T", Content: long})
	require.NoError(t, err)
	require.Equal(t, 500, len([]rune(res.Summary)))
	require.True(t, strings.HasPrefix(long, res.Summary))
}

func TestCandidatesDedupeBySource(t *testing.T) {
	results := []rag.Result{
		{SourceID: "doc-1", Title: "A", Score: 0.9},
		{SourceID: "doc-1", Title: "A", Score: 0.8},
		{SourceID: "doc-2", Title: "B", Score: 0.7, Metadata: map[string]any{"source_url": "https://example.edu/b"}},
	}
	candidates := toCandidates(results, 5)
	require.Len(t, candidates, 2)
	require.Equal(t, "https://example.edu/b", candidates[1].SourceURL)
}
