// Package orchestrator routes each user query through conversation
// windowing, intent classification, retrieval, tool selection, and
// answer synthesis. Execute never returns an error: every failure mode
// degrades into a user-facing Vietnamese response with the error kind
// recorded in the metadata.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"uniassist/internal/docstore"
	"uniassist/internal/errkind"
	"uniassist/internal/intent"
	"uniassist/internal/profile"
	"uniassist/internal/rag"
	"uniassist/internal/tools"
)

// FallbackMessage is the answer of last resort when no tool succeeds.
const FallbackMessage = "Xin lỗi, hiện không thể trả lời câu hỏi này."

const emptyQueryMessage = "Bạn vui lòng nhập câu hỏi nhé."

// Retriever is the retrieval port.
type Retriever interface {
	BuildContext(ctx context.Context, query string, cfg rag.SearchConfig) (*rag.Context, error)
}

// Conversation is the dialogue-history port.
type Conversation interface {
	Window(ctx context.Context, sessionID string) string
	Record(ctx context.Context, sessionID, userMsg, assistantMsg string)
}

// Documents resolves retrieved source ids into full documents.
type Documents interface {
	GetDocument(ctx context.Context, id string) (*docstore.Document, error)
}

// Presigner issues time-bounded download URLs for artifact blobs.
type Presigner interface {
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// SearchRecorder persists retrieval logs.
type SearchRecorder interface {
	Record(ctx context.Context, entry *docstore.SearchLog)
}

// AuditRecorder persists per-request orchestration records.
type AuditRecorder interface {
	RecordOrchestration(ctx context.Context, query, sessionID, userID, primaryTool string, success bool, errMsg, detailJSON string) error
}

// MemoryExtractor mines completed exchanges for profile facts.
type MemoryExtractor interface {
	ExtractMemories(ctx context.Context, userID, userMessage, assistantMessage, recentContext string, allowInference bool) (*profile.ExtractionResult, error)
}

// Config tunes routing thresholds and artifact presigning.
type Config struct {
	QAModel          string
	PresignTTL       time.Duration
	DefaultTopK      int
	MaxTopK          int
	HighConfidence   float64
	WebFallbackBelow float64
	FormMatchScore   float64
	WebDomain        string
}

func (c *Config) fill() {
	if c.PresignTTL <= 0 {
		c.PresignTTL = time.Hour
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 5
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 20
	}
	if c.HighConfidence <= 0 {
		c.HighConfidence = 0.7
	}
	if c.WebFallbackBelow <= 0 {
		c.WebFallbackBelow = 0.5
	}
	if c.FormMatchScore <= 0 {
		c.FormMatchScore = 0.85
	}
}

// Deps bundles the orchestrator's collaborators. Registry is required;
// every other port degrades gracefully when nil.
type Deps struct {
	Registry     *tools.Registry
	Retriever    Retriever
	Conversation Conversation
	Documents    Documents
	Objects      Presigner
	SearchLog    SearchRecorder
	Audit        AuditRecorder
	Memories     MemoryExtractor
}

// Orchestrator answers queries by dispatching registered tools.
type Orchestrator struct {
	registry  *tools.Registry
	retriever Retriever
	conv      Conversation
	docs      Documents
	objects   Presigner
	search    SearchRecorder
	audit     AuditRecorder
	memories  MemoryExtractor
	cfg       Config
	log       *zap.Logger
	wg        sync.WaitGroup
}

// New wires an orchestrator.
func New(deps Deps, cfg Config, log *zap.Logger) *Orchestrator {
	cfg.fill()
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		registry:  deps.Registry,
		retriever: deps.Retriever,
		conv:      deps.Conversation,
		docs:      deps.Documents,
		objects:   deps.Objects,
		search:    deps.SearchLog,
		audit:     deps.Audit,
		memories:  deps.Memories,
		cfg:       cfg,
		log:       log,
	}
}

// Wait blocks until all background logging started by completed requests
// has finished. For shutdown and tests.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) normalize(req *Request) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Collection == "" {
		req.Collection = "default"
	}
	if req.TopK <= 0 {
		req.TopK = o.cfg.DefaultTopK
	}
	if req.TopK > o.cfg.MaxTopK {
		req.TopK = o.cfg.MaxTopK
	}
}

// Execute answers one request. The returned response is always non-nil;
// failures carry their kind in the metadata instead of an error return.
func (o *Orchestrator) Execute(ctx context.Context, req Request) *Response {
	started := time.Now()
	o.normalize(&req)

	if req.Query == "" && req.Image == nil {
		resp := o.failure(errkind.InvalidInput, emptyQueryMessage, started)
		o.afterResponse(req, resp, nil, 0, "")
		return resp
	}

	var convContext string
	if o.conv != nil {
		convContext = o.conv.Window(ctx, req.SessionID)
	}

	cls := intent.Classify(req.Query, intent.Signals{HasImage: req.Image != nil, Context: convContext})

	// Retrieval feeds both routing and the answer itself. The image tool
	// retrieves over the vision output instead, so it skips this pass.
	var (
		rc              *rag.Context
		searchLatencyMs int64
	)
	if req.EnableRAG && o.retriever != nil && cls.Intent != intent.ImageQuery {
		t0 := time.Now()
		built, err := o.retriever.BuildContext(ctx, req.Query, rag.SearchConfig{
			Collection:  req.Collection,
			TopK:        req.TopK,
			Threshold:   req.Threshold,
			Deduplicate: true,
			SearchType:  rag.SearchSimilarity,
		})
		searchLatencyMs = time.Since(t0).Milliseconds()
		if err != nil {
			o.log.Warn("retrieval failed, continuing without context",
				zap.String("query", req.Query), zap.Error(err))
		} else {
			rc = built
		}
	}

	p := o.decide(ctx, req, cls, convContext, rc)

	// The tool call and artifact presigning are independent.
	var (
		call      *tools.Call
		artifacts []ArtifactReference
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		call = o.registry.Execute(gctx, p.tool, p.args)
		return nil
	})
	g.Go(func() error {
		artifacts = o.collectArtifacts(gctx, p, cls.WantsFillableForm)
		return nil
	})
	_ = g.Wait()

	if !call.Succeeded() {
		resp := o.failure(call.ErrorKind, FallbackMessage, started)
		resp.PrimaryTool = p.tool
		resp.ToolCalls = []*tools.Call{call}
		resp.VectorRef = vectorRef(rc, req.Threshold)
		o.recordTurn(ctx, req, resp)
		o.afterResponse(req, resp, rc, searchLatencyMs, convContext)
		return resp
	}

	content, sources := synthesize(p.tool, call.Result)
	if len(sources) == 0 && p.tool == tools.TypeFillForm && rc != nil && len(rc.Results) > 0 {
		// The filled form is the answer, but the matched documents are
		// still the provenance.
		sources = documentSources(sourceMaps(rc.Results))
	}
	resp := &Response{
		Content:     content,
		Intent:      cls.Intent,
		Artifacts:   artifacts,
		Sources:     sources,
		CreatedAt:   time.Now(),
		ToolCalls:   []*tools.Call{call},
		PrimaryTool: p.tool,
		VectorRef:   vectorRef(rc, req.Threshold),
	}
	resp.Metadata = Metadata{
		ModelUsed:        o.cfg.QAModel,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		TokensUsed:       intFrom(call.Result["tokens"]),
		SourcesCount:     len(sources),
		ArtifactsCount:   len(artifacts),
		HasFillableForm:  p.tool == tools.TypeFillForm || anyFillable(artifacts),
	}
	if !req.IncludeSources {
		resp.Sources = nil
	}

	o.recordTurn(ctx, req, resp)
	o.afterResponse(req, resp, rc, searchLatencyMs, convContext)
	return resp
}

// plan is one routing decision: the tool to run and the documents whose
// artifacts should ride along with the answer.
type plan struct {
	tool     tools.Type
	args     tools.Args
	formDoc  *docstore.Document
	fileDocs []*docstore.Document
}

// decide picks the primary tool. Rows are evaluated in order; the first
// match wins.
func (o *Orchestrator) decide(ctx context.Context, req Request, cls intent.Classification, convContext string, rc *rag.Context) plan {
	if req.Image != nil {
		return plan{tool: tools.TypeAnalyzeImage, args: tools.Args{
			"image_bytes":  req.Image.Data,
			"image_format": req.Image.MimeType,
			"question":     req.Query,
			"collection":   req.Collection,
		}}
	}

	var topScore float64
	if rc != nil {
		topScore = rc.TopScore
	}

	// A strong hit on a form-typed document counts as a form request even
	// without form phrasing in the query.
	var formDoc *docstore.Document
	if rc != nil && len(rc.Results) > 0 && topScore >= o.cfg.FormMatchScore {
		if doc := o.loadDocument(ctx, rc.Results[0].SourceID); doc != nil && isFormDocument(doc) {
			formDoc = doc
		}
	}

	if cls.Intent == intent.FormRequest || formDoc != nil {
		// Form phrasing matched: the best-ranked form template rides along
		// even when its score is below the form-match bar.
		if formDoc == nil && rc != nil {
			seen := make(map[string]bool)
			for _, res := range rc.Results {
				if res.SourceID == "" || seen[res.SourceID] {
					continue
				}
				seen[res.SourceID] = true
				if doc := o.loadDocument(ctx, res.SourceID); doc != nil && isFormDocument(doc) {
					formDoc = doc
					break
				}
			}
		}
		formType := InferFormType(req.Query)
		if formType == "" && formDoc != nil {
			formType, _ = formDoc.Metadata["form_type"].(string)
		}
		if formType == "" {
			return plan{
				tool:    tools.TypeClarifyQuestion,
				args:    tools.Args{"clarification_type": "form_type"},
				formDoc: formDoc,
			}
		}
		return plan{
			tool: tools.TypeFillForm,
			args: tools.Args{
				"form_type": formType,
				"user_id":   req.UserID,
			},
			formDoc: formDoc,
		}
	}

	if cls.Intent == intent.FileRequest && rc != nil {
		if docs := o.documentsWithArtifacts(ctx, rc); len(docs) > 0 {
			return plan{
				tool:     tools.TypeUseRAGContext,
				args:     ragArgs(req, convContext, rc, confidenceFor(topScore)),
				fileDocs: docs,
			}
		}
	}

	if cls.Intent == intent.ClarificationNeeded {
		return plan{tool: tools.TypeClarifyQuestion, args: tools.Args{
			"clarification_type": "ambiguous_topic",
			"topic":              topicOf(req.Query),
		}}
	}

	switch {
	case topScore >= o.cfg.HighConfidence:
		return plan{tool: tools.TypeUseRAGContext, args: ragArgs(req, convContext, rc, "high")}
	case topScore > 0 && topScore < o.cfg.WebFallbackBelow:
		args := tools.Args{"query": req.Query}
		if o.cfg.WebDomain != "" {
			args["domain_filter"] = o.cfg.WebDomain
		}
		return plan{tool: tools.TypeSearchWeb, args: args}
	case topScore == 0 && cls.Intent == intent.GeneralAnswer:
		args := tools.Args{"query": req.Query}
		if convContext != "" {
			args["conversation_context"] = convContext
		}
		return plan{tool: tools.TypeAnswerDirectly, args: args}
	default:
		return plan{tool: tools.TypeUseRAGContext, args: ragArgs(req, convContext, rc, "low")}
	}
}

func ragArgs(req Request, convContext string, rc *rag.Context, confidence string) tools.Args {
	args := tools.Args{
		"query":      req.Query,
		"collection": req.Collection,
		"top_k":      req.TopK,
		"threshold":  req.Threshold,
		"confidence": confidence,
	}
	if convContext != "" {
		args["conversation_context"] = convContext
	}
	if rc != nil && rc.Text != "" {
		args["context_text"] = rc.Text
		args["sources"] = sourceMaps(rc.Results)
	}
	return args
}

func confidenceFor(topScore float64) string {
	switch {
	case topScore >= 0.7:
		return "high"
	case topScore >= 0.5:
		return "medium"
	default:
		return "low"
	}
}

func sourceMaps(results []rag.Result) []map[string]any {
	out := make([]map[string]any, 0, len(results))
	for _, r := range results {
		out = append(out, map[string]any{
			"document_id": r.SourceID,
			"chunk_id":    r.ChunkID,
			"title":       r.Title,
			"chunk_text":  r.Content,
			"score":       r.Score,
		})
	}
	return out
}

func (o *Orchestrator) loadDocument(ctx context.Context, id string) *docstore.Document {
	if o.docs == nil || id == "" {
		return nil
	}
	doc, err := o.docs.GetDocument(ctx, id)
	if err != nil {
		if !errkind.Is(err, errkind.NotFound) {
			o.log.Warn("failed to load document", zap.String("document_id", id), zap.Error(err))
		}
		return nil
	}
	return doc
}

// documentsWithArtifacts resolves retrieved sources into documents that
// actually have files attached, best score first.
func (o *Orchestrator) documentsWithArtifacts(ctx context.Context, rc *rag.Context) []*docstore.Document {
	const maxDocs = 3
	var out []*docstore.Document
	seen := make(map[string]bool)
	for _, r := range rc.Results {
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		if doc := o.loadDocument(ctx, r.SourceID); doc != nil && len(doc.Artifacts) > 0 {
			out = append(out, doc)
			if len(out) >= maxDocs {
				break
			}
		}
	}
	return out
}

func isFormDocument(doc *docstore.Document) bool {
	if dt, _ := doc.Metadata["document_type"].(string); dt == "form" {
		return true
	}
	for _, a := range doc.Artifacts {
		if a.ArtifactType == "form" || a.IsFillable {
			return true
		}
	}
	return false
}

var formTypeKeywords = []struct {
	phrases  []string
	formType string
}{
	{[]string{"nghỉ học", "xin nghỉ"}, "leave_request"},
	{[]string{"cấp lại thẻ", "mất thẻ", "thẻ sinh viên"}, "card_replacement"},
	{[]string{"chứng nhận", "xác nhận sinh viên"}, "certificate_request"},
	{[]string{"phúc khảo"}, "exam_review"},
	{[]string{"đơn đề nghị"}, "general_request"},
}

// InferFormType maps query phrasing to a known form template name, empty
// when nothing matches.
func InferFormType(query string) string {
	q := strings.ToLower(query)
	for _, entry := range formTypeKeywords {
		for _, p := range entry.phrases {
			if strings.Contains(q, p) {
				return entry.formType
			}
		}
	}
	return ""
}

// topicOf pulls the subject out of a vague "hỏi về X" opener.
func topicOf(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = strings.TrimRight(q, "?!. ")
	if i := strings.LastIndex(q, " về "); i >= 0 {
		return strings.TrimSpace(q[i+len(" về "):])
	}
	return ""
}

const webPreamble = "Mình chưa tìm thấy thông tin này trong tài liệu của trường, dưới đây là kết quả tìm kiếm trên web:"

// synthesize turns a tool result into the response content and sources.
func synthesize(tool tools.Type, result map[string]any) (string, []Source) {
	args := tools.Args(result)
	switch tool {
	case tools.TypeUseRAGContext:
		return args.String("answer"), documentSources(result["sources"])
	case tools.TypeSearchWeb:
		content := args.String("summary")
		if content != "" {
			content = webPreamble + "\n\n" + content
		}
		return content, webSources(result["results"])
	case tools.TypeAnswerDirectly:
		return args.String("answer"), []Source{{SourceType: SourceDirectKnowledge}}
	case tools.TypeFillForm:
		return formContent(args), nil
	case tools.TypeClarifyQuestion:
		question := args.String("clarification_question")
		if opts := args.StringSlice("options"); len(opts) > 0 {
			question += "\n- " + strings.Join(opts, "\n- ")
		}
		return question, nil
	case tools.TypeAnalyzeImage:
		content := args.String("response")
		if content == "" {
			content = args.String("description")
		}
		return content, documentSources(result["related_documents"])
	}
	return "", nil
}

func formContent(args tools.Args) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Mình đã chuẩn bị sẵn **%s** cho bạn:\n\n%s",
		args.String("form_title"), args.String("form_markdown"))
	if missing := args.StringSlice("missing_fields"); len(missing) > 0 {
		fmt.Fprintf(&sb, "\n\nBạn điền giúp mình các mục còn trống: %s.", strings.Join(missing, ", "))
	}
	return sb.String()
}

func documentSources(v any) []Source {
	maps, _ := v.([]map[string]any)
	out := make([]Source, 0, len(maps))
	for _, m := range maps {
		s := Source{SourceType: SourceDocument, RelevanceScore: floatFrom(m["score"])}
		s.DocumentID, _ = m["document_id"].(string)
		s.Title, _ = m["title"].(string)
		s.ChunkText, _ = m["chunk_text"].(string)
		out = append(out, s)
	}
	return out
}

func webSources(v any) []Source {
	maps, _ := v.([]map[string]any)
	out := make([]Source, 0, len(maps))
	for _, m := range maps {
		s := Source{SourceType: SourceWebSearch}
		s.Title, _ = m["title"].(string)
		s.URL, _ = m["url"].(string)
		s.ChunkText, _ = m["snippet"].(string)
		out = append(out, s)
	}
	return out
}

func vectorRef(rc *rag.Context, threshold float64) VectorReference {
	ref := VectorReference{Threshold: threshold}
	if rc == nil {
		return ref
	}
	ref.TopScore = rc.TopScore
	ref.AvgScore = rc.AvgScore
	ref.ChunkCount = len(rc.Results)
	ref.HasHighConfidence = rc.TopScore >= 0.7
	for _, r := range rc.Results {
		if len(ref.SampleChunks) >= 2 {
			break
		}
		ref.SampleChunks = append(ref.SampleChunks, clampRunes(r.Content, 160))
	}
	return ref
}

func clampRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (o *Orchestrator) failure(kind errkind.Kind, content string, started time.Time) *Response {
	return &Response{
		Content:   content,
		Intent:    intent.GeneralAnswer,
		CreatedAt: time.Now(),
		Metadata: Metadata{
			ModelUsed:        o.cfg.QAModel,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			ErrorKind:        kind,
		},
	}
}

// recordTurn appends the exchange to session history before returning,
// so a follow-up question in the same session sees this turn.
func (o *Orchestrator) recordTurn(ctx context.Context, req Request, resp *Response) {
	if o.conv == nil || req.SessionID == "" || req.Query == "" || resp.Content == "" {
		return
	}
	o.conv.Record(ctx, req.SessionID, req.Query, resp.Content)
}

// afterResponse runs the logging side effects in the background. They
// must never delay or fail the response.
func (o *Orchestrator) afterResponse(req Request, resp *Response, rc *rag.Context, searchLatencyMs int64, convContext string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if o.search != nil && rc != nil {
			hits := make([]docstore.SearchHit, 0, len(rc.Results))
			for _, r := range rc.Results {
				hits = append(hits, docstore.SearchHit{
					DocumentID: r.SourceID,
					ChunkID:    r.ChunkID,
					Title:      r.Title,
					Score:      r.Score,
				})
			}
			o.search.Record(ctx, &docstore.SearchLog{
				Query:           req.Query,
				UserID:          req.UserID,
				SessionID:       req.SessionID,
				Results:         hits,
				TopScore:        rc.TopScore,
				ResultCount:     len(rc.Results),
				UsedWebFallback: resp.PrimaryTool == tools.TypeSearchWeb,
				Collection:      req.Collection,
				SearchLatencyMs: searchLatencyMs,
			})
		}

		if o.audit != nil && req.Query != "" {
			var errMsg string
			for _, c := range resp.ToolCalls {
				if c.Error != "" {
					errMsg = c.Error
				}
			}
			detail, _ := json.Marshal(map[string]any{
				"intent":     resp.Intent,
				"top_score":  resp.VectorRef.TopScore,
				"sources":    resp.Metadata.SourcesCount,
				"artifacts":  resp.Metadata.ArtifactsCount,
				"elapsed_ms": resp.Metadata.ProcessingTimeMs,
			})
			success := resp.Metadata.ErrorKind == ""
			if err := o.audit.RecordOrchestration(ctx, req.Query, req.SessionID, req.UserID,
				string(resp.PrimaryTool), success, errMsg, string(detail)); err != nil {
				o.log.Warn("failed to record orchestration", zap.Error(err))
			}
		}

		if o.memories != nil && req.UserID != "" && resp.Metadata.ErrorKind == "" {
			if _, err := o.memories.ExtractMemories(ctx, req.UserID, req.Query, resp.Content, convContext, true); err != nil {
				o.log.Debug("memory extraction skipped", zap.String("user_id", req.UserID), zap.Error(err))
			}
		}
	}()
}

func anyFillable(artifacts []ArtifactReference) bool {
	for _, a := range artifacts {
		if a.IsFillable {
			return true
		}
	}
	return false
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func floatFrom(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
