package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"uniassist/internal/llm"
	"uniassist/internal/rag"
)

// Action is the triage verdict for freshly crawled content.
type Action int

const (
	ActionUnrelated Action = 0
	ActionNew       Action = 1
	ActionUpdate    Action = 2
)

func (a Action) String() string {
	switch a {
	case ActionUnrelated:
		return "unrelated"
	case ActionUpdate:
		return "update"
	default:
		return "new"
	}
}

const (
	defaultMaxCandidates = 5
	summaryFallbackChars = 500
)

// Candidate is one existing document considered as an update target.
type Candidate struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Title      string  `json:"title"`
	SourceURL  string  `json:"source_url,omitempty"`
	Summary    string  `json:"summary,omitempty"`
}

// Resolution is the triage outcome for one crawled page.
type Resolution struct {
	Action     Action      `json:"action"`
	Reason     string      `json:"reason"`
	UpdatedID  string      `json:"updated_id,omitempty"`
	Summary    string      `json:"summary"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// Input is the crawled payload the resolver triages.
type Input struct {
	Title      string
	Content    string
	Collection string
	SourceURL  string
	Category   string
}

// Retriever is the similarity-search port.
type Retriever interface {
	Search(ctx context.Context, query string, cfg rag.SearchConfig) ([]rag.Result, error)
}

// Resolver decides whether crawled content is new, updates an existing
// document, or is unrelated to the knowledge base.
type Resolver struct {
	retriever     Retriever
	qa            llm.Client
	reasoning     llm.Client
	maxCandidates int
	log           *zap.Logger
}

// New wires a resolver. maxCandidates <= 0 defaults to 5.
func New(retriever Retriever, qa, reasoning llm.Client, maxCandidates int, log *zap.Logger) *Resolver {
	if maxCandidates <= 0 {
		maxCandidates = defaultMaxCandidates
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		retriever:     retriever,
		qa:            qa,
		reasoning:     reasoning,
		maxCandidates: maxCandidates,
		log:           log,
	}
}

// Resolve summarizes the content, searches for similar documents and
// asks the reasoning model for a verdict. Malformed model output
// defaults to "new" so crawled content is never silently dropped.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Resolution, error) {
	summary := r.summarize(ctx, in)

	query := fmt.Sprintf("Tiêu đề: %s\nTóm tắt: %s", in.Title, summary)
	results, err := r.retriever.Search(ctx, query, rag.SearchConfig{
		Collection:  in.Collection,
		TopK:        r.maxCandidates,
		Deduplicate: true,
	})
	if err != nil {
		return nil, err
	}
	candidates := toCandidates(results, r.maxCandidates)

	if len(candidates) == 0 {
		return &Resolution{
			Action:  ActionNew,
			Reason:  "không có tài liệu tương tự trong cơ sở tri thức",
			Summary: summary,
		}, nil
	}

	res := r.triage(ctx, in, summary, candidates)
	res.Summary = summary
	res.Candidates = candidates
	return res, nil
}

// summarize asks the QA model for a short Vietnamese summary, falling
// back to a content prefix when the model is unavailable.
func (r *Resolver) summarize(ctx context.Context, in Input) string {
	prompt := fmt.Sprintf("Tóm tắt nội dung sau trong tối đa 80 từ tiếng Việt:\n\nTiêu đề: %s\n\n%s",
		in.Title, in.Content)
	resp, err := r.qa.Generate(ctx, llm.Request{Prompt: prompt})
	if err == nil && strings.TrimSpace(resp.Text) != "" {
		return strings.TrimSpace(resp.Text)
	}
	if err != nil {
		r.log.Warn("summarization failed, using content prefix",
			zap.String("title", in.Title), zap.Error(err))
	}

	content := strings.TrimSpace(in.Content)
	runes := []rune(content)
	if len(runes) > summaryFallbackChars {
		return string(runes[:summaryFallbackChars])
	}
	return content
}

// triageVerdict is the JSON the reasoning prompt asks for.
type triageVerdict struct {
	Action    *int   `json:"action"`
	Reason    string `json:"reason"`
	UpdatedID string `json:"updated_id"`
}

const triageSystemPrompt = "Bạn phân loại nội dung mới thu thập cho cơ sở tri thức của trường đại học. " +
	"Trả lời bằng JSON đúng định dạng yêu cầu."

func (r *Resolver) triage(ctx context.Context, in Input, summary string, candidates []Candidate) *Resolution {
	var b strings.Builder
	fmt.Fprintf(&b, "Nội dung mới:\nTiêu đề: %s\nNguồn: %s\nTóm tắt: %s\n\nTài liệu hiện có gần nhất:\n",
		in.Title, in.SourceURL, summary)
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. id=%s (độ tương đồng %.2f) — %s", i+1, c.DocumentID, c.Score, c.Title)
		if c.Summary != "" {
			fmt.Fprintf(&b, ": %s", c.Summary)
		}
		b.WriteString("\n")
	}
	b.WriteString("\nPhân loại nội dung mới và trả về JSON " +
		`{"action": 0|1|2, "reason": "...", "updated_id": "..."} trong đó ` +
		"0 = không liên quan đến trường, 1 = tài liệu mới, 2 = bản cập nhật của một tài liệu hiện có " +
		`(khi đó "updated_id" là id của tài liệu đó).`)

	fallback := &Resolution{Action: ActionNew, Reason: "không phân loại được, coi là tài liệu mới"}

	resp, err := r.reasoning.Generate(ctx, llm.Request{
		System:     triageSystemPrompt,
		Prompt:     b.String(),
		JSONOutput: true,
	})
	if err != nil {
		r.log.Warn("triage model call failed", zap.String("title", in.Title), zap.Error(err))
		return fallback
	}

	raw := llm.ExtractJSONObject(resp.Text)
	if raw == "" {
		return fallback
	}
	var verdict triageVerdict
	if json.Unmarshal([]byte(raw), &verdict) != nil || verdict.Action == nil {
		return fallback
	}
	action := Action(*verdict.Action)
	if action != ActionUnrelated && action != ActionNew && action != ActionUpdate {
		return fallback
	}

	res := &Resolution{Action: action, Reason: verdict.Reason}
	if action == ActionUpdate {
		if !knownCandidate(candidates, verdict.UpdatedID) {
			// An update pointing at nothing we showed the model is not
			// actionable; treat it as new content.
			return fallback
		}
		res.UpdatedID = verdict.UpdatedID
	}
	return res
}

func toCandidates(results []rag.Result, max int) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, r := range results {
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		c := Candidate{
			DocumentID: r.SourceID,
			Score:      r.Score,
			Title:      r.Title,
			Summary:    snippet(r.Content, 160),
		}
		if u, ok := r.Metadata["source_url"].(string); ok {
			c.SourceURL = u
		}
		out = append(out, c)
		if len(out) == max {
			break
		}
	}
	return out
}

func knownCandidate(candidates []Candidate, id string) bool {
	if id == "" {
		return false
	}
	for _, c := range candidates {
		if c.DocumentID == id {
			return true
		}
	}
	return false
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
