package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"uniassist/internal/errkind"
	"uniassist/internal/llm"
	"uniassist/internal/rag"
	"uniassist/internal/websearch"
)

type fakeRetriever struct {
	ctx *rag.Context
	err error
}

func (f *fakeRetriever) BuildContext(_ context.Context, query string, _ rag.SearchConfig) (*rag.Context, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.ctx == nil {
		return &rag.Context{Query: query}, nil
	}
	return f.ctx, nil
}

type fakeSearcher struct {
	hits []websearch.Result
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, query string, max int) ([]websearch.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > max {
		return f.hits[:max], nil
	}
	return f.hits, nil
}

type fakeProfiles struct {
	fields map[string]string
	err    error
}

func (f *fakeProfiles) FormFields(_ context.Context, _ string) (map[string]string, error) {
	return f.fields, f.err
}

func TestRegistryExecuteRecordsTiming(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	r.MustRegister(&Tool{
		Type: TypeAnswerDirectly,
		Execute: func(context.Context, Args) (map[string]any, error) {
			time.Sleep(5 * time.Millisecond)
			return map[string]any{"answer": "ok"}, nil
		},
	})

	call := r.Execute(context.Background(), TypeAnswerDirectly, Args{})
	require.True(t, call.Succeeded())
	require.Equal(t, "ok", call.Result["answer"])
	require.GreaterOrEqual(t, call.ExecutionTimeMs, int64(5))
}

func TestRegistryExecuteTimeout(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, nil)
	r.MustRegister(&Tool{
		Type: TypeSearchWeb,
		Execute: func(ctx context.Context, _ Args) (map[string]any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	call := r.Execute(context.Background(), TypeSearchWeb, Args{})
	require.Equal(t, StatusFailed, call.Status)
	require.Equal(t, errkind.Timeout, call.ErrorKind)
}

func TestRegistryUnknownToolAndValidation(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	call := r.Execute(context.Background(), TypeFillForm, Args{})
	require.Equal(t, StatusFailed, call.Status)
	require.Equal(t, errkind.NotFound, call.ErrorKind)

	r.MustRegister(NewFillFormTool(&fakeProfiles{}))
	call = r.Execute(context.Background(), TypeFillForm, Args{"form_type": "no_such_form"})
	require.Equal(t, StatusFailed, call.Status)
	require.Equal(t, errkind.InvalidInput, call.ErrorKind)
}

func TestRegistryDuplicateRegistration(t *testing.T) {
	r := NewRegistry(time.Second, nil)
	tool := NewClarifyTool()
	require.NoError(t, r.Register(tool))
	require.True(t, errkind.Is(r.Register(tool), errkind.Conflict))
}

func TestFormTemplateRender(t *testing.T) {
	template, err := FormTemplateFor("leave_request")
	require.NoError(t, err)
	require.Contains(t, template.Fields(), "name")
	require.Contains(t, template.Fields(), "student_id")

	markdown, preFilled, missing := template.Render(map[string]string{
		"name":       "Nguyễn Văn An",
		"student_id": "SV123456",
		"reason":     "{reason}", // literal placeholder must not count
	})
	require.Contains(t, markdown, "Nguyễn Văn An")
	require.Contains(t, markdown, "SV123456")
	require.Contains(t, markdown, "{reason}")
	require.Contains(t, preFilled, "name")
	require.Contains(t, preFilled, "student_id")
	require.Contains(t, missing, "reason")
	require.Contains(t, missing, "dob")
}

func TestFillFormToolMergesProfileAndExtras(t *testing.T) {
	tool := NewFillFormTool(&fakeProfiles{fields: map[string]string{
		"name":       "Trần Thị Bình",
		"student_id": "SV654321",
		"class":      "K66-CNTT",
	}})

	result, err := tool.Execute(context.Background(), Args{
		"form_type": "card_replacement",
		"user_id":   "sv654321",
		"additional_info": map[string]any{
			"reason": "Bị mất thẻ",
		},
	})
	require.NoError(t, err)
	require.Contains(t, result["form_markdown"], "Trần Thị Bình")
	require.Contains(t, result["form_markdown"], "Bị mất thẻ")
	require.Contains(t, result["pre_filled_fields"], "reason")
	require.Contains(t, result["missing_fields"], "dob")
}

func TestFillFormToolSurvivesProfileFailure(t *testing.T) {
	tool := NewFillFormTool(&fakeProfiles{err: errors.New("store down")})
	result, err := tool.Execute(context.Background(), Args{
		"form_type": "general_request",
		"user_id":   "sv1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, result["missing_fields"])
	require.Empty(t, result["pre_filled_fields"])
}

func TestUseRAGContextToolAnswersFromSources(t *testing.T) {
	retriever := &fakeRetriever{ctx: &rag.Context{
		Text: "[1] Nguồn: Học phí\nHọc phí kỳ này là 12 triệu đồng.",
		Results: []rag.Result{
			{SourceID: "d1", ChunkID: "d1_chunk_0", Title: "Học phí", Content: "Học phí kỳ này là 12 triệu đồng.", Score: 0.9},
		},
		TopScore: 0.9,
	}}
	qa := &llm.Fake{Responses: []string{"Học phí kỳ này là 12 triệu đồng [1]."}}
	tool := NewUseRAGContextTool(retriever, qa)

	result, err := tool.Execute(context.Background(), Args{"query": "học phí bao nhiêu"})
	require.NoError(t, err)
	require.Contains(t, result["answer"], "12 triệu")
	sources := result["sources"].([]map[string]any)
	require.Len(t, sources, 1)
	require.Equal(t, "d1", sources[0]["document_id"])

	// The prompt must carry the source block.
	require.Contains(t, qa.Calls[0].Prompt, "Học phí kỳ này là 12 triệu đồng.")
}

func TestUseRAGContextToolEmptyContext(t *testing.T) {
	tool := NewUseRAGContextTool(&fakeRetriever{}, &llm.Fake{})
	result, err := tool.Execute(context.Background(), Args{"query": "câu hỏi lạ"})
	require.NoError(t, err)
	require.Equal(t, "low", result["confidence"])
	require.Contains(t, result["answer"], "chưa tìm thấy")
}

func TestSearchWebToolDomainFilterAndSummary(t *testing.T) {
	searcher := &fakeSearcher{hits: []websearch.Result{
		{Title: "Tuyển dụng Google", Snippet: "Google tuyển kỹ sư AI.", URL: "https://careers.google.com"},
	}}
	qa := &llm.Fake{Responses: []string{"Google đang tuyển kỹ sư AI."}}
	tool := NewSearchWebTool(searcher, qa)

	result, err := tool.Execute(context.Background(), Args{
		"query":         "Google tuyển dụng",
		"domain_filter": "careers.google.com",
	})
	require.NoError(t, err)
	require.Equal(t, "Google tuyển dụng site:careers.google.com", result["query"])
	require.Equal(t, "Google đang tuyển kỹ sư AI.", result["summary"])
	require.Len(t, result["results"], 1)
}

func TestSearchWebToolDegradesWithoutLLM(t *testing.T) {
	searcher := &fakeSearcher{hits: []websearch.Result{
		{Title: "A", Snippet: "snippet a", URL: "http://a"},
	}}
	qa := &llm.Fake{GenerateFunc: func(llm.Request) (string, error) {
		return "", errors.New("llm down")
	}}
	tool := NewSearchWebTool(searcher, qa)

	result, err := tool.Execute(context.Background(), Args{"query": "q"})
	require.NoError(t, err)
	// Degraded answer is the concatenated snippets.
	require.Contains(t, result["summary"], "snippet a")
}

func TestAnswerDirectlyToolPreAnswer(t *testing.T) {
	tool := NewAnswerDirectlyTool(&llm.Fake{})
	result, err := tool.Execute(context.Background(), Args{
		"pre_answer": "Đã có sẵn câu trả lời.",
		"reason":     "cached",
	})
	require.NoError(t, err)
	require.Equal(t, "Đã có sẵn câu trả lời.", result["answer"])
}

func TestClarifyToolTemplates(t *testing.T) {
	tool := NewClarifyTool()

	result, err := tool.Execute(context.Background(), Args{"clarification_type": "form_type"})
	require.NoError(t, err)
	require.Contains(t, result["clarification_question"], "mẫu đơn")
	require.Contains(t, result["clarification_question"], "leave_request")

	result, err = tool.Execute(context.Background(), Args{
		"clarification_type": "ambiguous_topic",
		"topic":              "điểm",
		"examples":           []string{"điểm thi", "điểm rèn luyện"},
	})
	require.NoError(t, err)
	require.Contains(t, result["clarification_question"], "điểm")
	require.Contains(t, result["clarification_question"], "điểm rèn luyện")

	result, err = tool.Execute(context.Background(), Args{
		"clarification_prompt": "Bạn muốn hỏi về học kỳ nào?",
		"suggestions":          []string{"kỳ 1", "kỳ 2"},
	})
	require.NoError(t, err)
	require.Equal(t, "Bạn muốn hỏi về học kỳ nào?", result["clarification_question"])
	require.Equal(t, []string{"kỳ 1", "kỳ 2"}, result["options"])
}

func TestAnalyzeImageToolParsesVisionJSON(t *testing.T) {
	vision := &llm.Fake{Responses: []string{
		`Kết quả: {"description": "Thời khóa biểu học kỳ 1", "extracted_text": "Thứ 2: Giải tích", "detected_objects": ["bảng", "chữ"]}`,
	}}
	qa := &llm.Fake{Responses: []string{"Đây là thời khóa biểu của trường."}}
	retriever := &fakeRetriever{ctx: &rag.Context{
		Text:    "[1] Nguồn: Lịch học\nLịch học kỳ 1 bắt đầu từ tháng 9.",
		Results: []rag.Result{{SourceID: "d2", Title: "Lịch học", Score: 0.8}},
	}}
	tool := NewAnalyzeImageTool(vision, qa, retriever)

	result, err := tool.Execute(context.Background(), Args{
		"image_bytes":  []byte{1, 2, 3},
		"image_format": "image/jpeg",
		"question":     "Đây là gì?",
	})
	require.NoError(t, err)
	require.Equal(t, "Thời khóa biểu học kỳ 1", result["description"])
	require.Equal(t, "Thứ 2: Giải tích", result["extracted_text"])
	require.Equal(t, "Đây là thời khóa biểu của trường.", result["response"])
	require.NotEmpty(t, result["related_documents"])

	// Vision call carried the image inline.
	require.NotNil(t, vision.Calls[0].Image)
	require.Equal(t, "image/jpeg", vision.Calls[0].Image.MimeType)
}
