package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"uniassist/internal/errkind"
	"uniassist/internal/llm"
	"uniassist/internal/rag"
	"uniassist/internal/websearch"
)

// ContextBuilder is the retrieval port handlers recurse into.
type ContextBuilder interface {
	BuildContext(ctx context.Context, query string, cfg rag.SearchConfig) (*rag.Context, error)
}

// ProfileFields resolves a user's known form-fillable fields.
type ProfileFields interface {
	FormFields(ctx context.Context, userID string) (map[string]string, error)
}

const answerSystemPrompt = "Bạn là trợ lý sinh viên của trường đại học. " +
	"Trả lời ngắn gọn, lịch sự, bằng tiếng Việt."

const ragSystemPrompt = answerSystemPrompt +
	" Chỉ trả lời dựa trên các nguồn được cung cấp; nếu nguồn không đủ thông tin, hãy nói rõ."

// NewUseRAGContextTool answers strictly from retrieved sources. The
// orchestrator may pass a prebuilt context block; otherwise the tool
// retrieves one itself from the query.
func NewUseRAGContextTool(retriever ContextBuilder, qa llm.Client) *Tool {
	return &Tool{
		Type:        TypeUseRAGContext,
		Description: "Trả lời câu hỏi dựa trên tài liệu đã truy xuất",
		Validate: func(args Args) error {
			if args.String("query") == "" && args.String("context_text") == "" {
				return errkind.Errorf(errkind.InvalidInput, "use_rag_context requires query or context_text")
			}
			return nil
		},
		Execute: func(ctx context.Context, args Args) (map[string]any, error) {
			query := args.String("query")
			contextText := args.String("context_text")
			sources, _ := args["sources"].([]map[string]any)
			confidence := args.String("confidence")
			if confidence == "" {
				confidence = "medium"
			}

			if contextText == "" {
				rc, err := retriever.BuildContext(ctx, query, rag.SearchConfig{
					Collection:  args.String("collection"),
					TopK:        intArg(args, "top_k", 5),
					Threshold:   args.Float("threshold"),
					Deduplicate: true,
				})
				if err != nil {
					return nil, err
				}
				contextText = rc.Text
				sources = resultMaps(rc.Results)
			}

			if contextText == "" {
				return map[string]any{
					"answer":     "Xin lỗi, mình chưa tìm thấy tài liệu phù hợp với câu hỏi này trong cơ sở tri thức.",
					"sources":    []map[string]any{},
					"confidence": "low",
				}, nil
			}

			prompt := fmt.Sprintf("Nguồn tham khảo:\n%s\n", contextText)
			if conv := args.String("conversation_context"); conv != "" {
				prompt += fmt.Sprintf("\nHội thoại trước đó:\n%s\n", conv)
			}
			prompt += fmt.Sprintf("\nCâu hỏi: %s\n\nTrả lời dựa trên các nguồn ở trên, trích dẫn số nguồn dạng [1], [2] khi phù hợp.", query)

			resp, err := qa.Generate(ctx, llm.Request{System: ragSystemPrompt, Prompt: prompt})
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"answer":     resp.Text,
				"sources":    sources,
				"confidence": confidence,
				"tokens":     resp.TokensUsed,
			}, nil
		},
	}
}

// NewSearchWebTool queries the web search port and summarizes the hits.
// When summarization fails the concatenated snippets serve as a degraded
// answer instead of failing the tool.
func NewSearchWebTool(searcher websearch.Searcher, qa llm.Client) *Tool {
	return &Tool{
		Type:        TypeSearchWeb,
		Description: "Tìm kiếm thông tin trên web",
		Validate: func(args Args) error {
			if args.String("query") == "" {
				return errkind.Errorf(errkind.InvalidInput, "search_web requires a query")
			}
			return nil
		},
		Execute: func(ctx context.Context, args Args) (map[string]any, error) {
			query := args.String("query")
			if domain := args.String("domain_filter"); domain != "" {
				query += " site:" + domain
			}

			hits, err := searcher.Search(ctx, query, 5)
			if err != nil {
				return nil, err
			}

			results := make([]map[string]any, 0, len(hits))
			var snippets strings.Builder
			for i, h := range hits {
				results = append(results, map[string]any{
					"title":   h.Title,
					"snippet": h.Snippet,
					"url":     h.URL,
				})
				fmt.Fprintf(&snippets, "[%d] %s\n%s\n(%s)\n\n", i+1, h.Title, h.Snippet, h.URL)
			}

			summary := strings.TrimSpace(snippets.String())
			if len(hits) > 0 {
				prompt := fmt.Sprintf("Tóm tắt ngắn gọn các kết quả tìm kiếm sau để trả lời câu hỏi %q:\n\n%s", args.String("query"), summary)
				if resp, err := qa.Generate(ctx, llm.Request{System: answerSystemPrompt, Prompt: prompt}); err == nil {
					summary = resp.Text
				}
			}

			return map[string]any{
				"results": results,
				"summary": summary,
				"query":   query,
			}, nil
		},
	}
}

// NewAnswerDirectlyTool answers from model knowledge without retrieval.
func NewAnswerDirectlyTool(qa llm.Client) *Tool {
	return &Tool{
		Type:        TypeAnswerDirectly,
		Description: "Trả lời trực tiếp không cần truy xuất tài liệu",
		Validate: func(args Args) error {
			if args.String("pre_answer") == "" && args.String("query") == "" {
				return errkind.Errorf(errkind.InvalidInput, "answer_directly requires pre_answer or query")
			}
			return nil
		},
		Execute: func(ctx context.Context, args Args) (map[string]any, error) {
			if pre := args.String("pre_answer"); pre != "" {
				return map[string]any{"answer": pre, "reasoning": args.String("reason")}, nil
			}

			prompt := args.String("query")
			if conv := args.String("conversation_context"); conv != "" {
				prompt = fmt.Sprintf("Hội thoại trước đó:\n%s\n\nCâu hỏi: %s", conv, prompt)
			}
			resp, err := qa.Generate(ctx, llm.Request{System: answerSystemPrompt, Prompt: prompt})
			if err != nil {
				return nil, err
			}
			return map[string]any{"answer": resp.Text, "reasoning": args.String("reason")}, nil
		},
	}
}

// NewFillFormTool renders a named Markdown template with profile fields
// and caller-provided extras.
func NewFillFormTool(profiles ProfileFields) *Tool {
	return &Tool{
		Type:        TypeFillForm,
		Description: "Điền sẵn biểu mẫu từ hồ sơ sinh viên",
		Validate: func(args Args) error {
			if args.String("form_type") == "" {
				return errkind.Errorf(errkind.InvalidInput, "fill_form requires form_type")
			}
			if _, err := FormTemplateFor(args.String("form_type")); err != nil {
				return errkind.E(errkind.InvalidInput, "fill_form", err)
			}
			return nil
		},
		Execute: func(ctx context.Context, args Args) (map[string]any, error) {
			template, err := FormTemplateFor(args.String("form_type"))
			if err != nil {
				return nil, errkind.E(errkind.InvalidInput, "fill_form", err)
			}

			values := make(map[string]string)
			if userID := args.String("user_id"); userID != "" && profiles != nil {
				fields, err := profiles.FormFields(ctx, userID)
				if err == nil {
					for k, v := range fields {
						values[k] = v
					}
				}
				// A missing profile only means fewer pre-filled fields.
			}
			if extra, ok := args["additional_info"].(map[string]any); ok {
				for k, v := range extra {
					if s, ok := v.(string); ok && s != "" {
						values[k] = s
					}
				}
			}

			markdown, preFilled, missing := template.Render(values)
			return map[string]any{
				"form_markdown":     markdown,
				"form_type":         template.Type,
				"form_title":        template.Title,
				"pre_filled_fields": preFilled,
				"missing_fields":    missing,
			}, nil
		},
	}
}

// Clarification question templates by type.
var clarificationTemplates = map[string]string{
	"ambiguous_topic":   "Bạn muốn hỏi về khía cạnh nào của %s? Ví dụ: %s",
	"missing_context":   "Bạn có thể cho mình biết thêm %s để trả lời chính xác hơn không?",
	"multiple_meanings": "Câu hỏi của bạn có thể hiểu theo nhiều cách. Bạn muốn hỏi về: %s?",
	"form_type":         "Bạn cần loại mẫu đơn nào? Các mẫu hiện có: %s",
	"time_period":       "Bạn muốn hỏi về khoảng thời gian nào (%s)?",
	"general":           "Bạn có thể mô tả rõ hơn câu hỏi của mình được không?",
}

// NewClarifyTool emits a clarification question instead of an answer.
func NewClarifyTool() *Tool {
	return &Tool{
		Type:        TypeClarifyQuestion,
		Description: "Hỏi lại khi câu hỏi chưa rõ ràng",
		Execute: func(_ context.Context, args Args) (map[string]any, error) {
			// A caller-supplied prompt passes through verbatim.
			if prompt := args.String("clarification_prompt"); prompt != "" {
				return map[string]any{
					"clarification_question": prompt,
					"clarification_type":     "general",
					"options":                args.StringSlice("suggestions"),
				}, nil
			}

			ctype := args.String("clarification_type")
			if _, ok := clarificationTemplates[ctype]; !ok {
				ctype = "general"
			}
			options := args.StringSlice("options")

			var question string
			switch ctype {
			case "ambiguous_topic":
				examples := strings.Join(args.StringSlice("examples"), ", ")
				if examples == "" {
					examples = "học phí, điểm số, lịch học"
				}
				question = fmt.Sprintf(clarificationTemplates[ctype], orDefault(args.String("topic"), "chủ đề này"), examples)
			case "missing_context":
				question = fmt.Sprintf(clarificationTemplates[ctype], orDefault(args.String("missing_info"), "thêm thông tin"))
			case "multiple_meanings":
				question = fmt.Sprintf(clarificationTemplates[ctype], strings.Join(options, " hay "))
			case "form_type":
				question = fmt.Sprintf(clarificationTemplates[ctype], strings.Join(FormTypes(), ", "))
			case "time_period":
				question = fmt.Sprintf(clarificationTemplates[ctype], orDefault(args.String("topic"), "học kỳ này hay năm học"))
			default:
				question = clarificationTemplates["general"]
			}

			return map[string]any{
				"clarification_question": question,
				"clarification_type":     ctype,
				"options":                options,
			}, nil
		},
	}
}

// visionAnalysis is the structured output the vision prompt asks for.
type visionAnalysis struct {
	Description     string   `json:"description"`
	ExtractedText   string   `json:"extracted_text"`
	DetectedObjects []string `json:"detected_objects"`
}

// NewAnalyzeImageTool runs the vision model over an attached image and
// then answers the user's question with retrieval over the description.
func NewAnalyzeImageTool(vision, qa llm.Client, retriever ContextBuilder) *Tool {
	return &Tool{
		Type:        TypeAnalyzeImage,
		Description: "Phân tích ảnh đính kèm và trả lời câu hỏi liên quan",
		Validate: func(args Args) error {
			if data, ok := args["image_bytes"].([]byte); !ok || len(data) == 0 {
				return errkind.Errorf(errkind.InvalidInput, "analyze_image requires image_bytes")
			}
			return nil
		},
		Execute: func(ctx context.Context, args Args) (map[string]any, error) {
			data, _ := args["image_bytes"].([]byte)
			format := orDefault(args.String("image_format"), "image/png")
			question := args.String("question")

			visionPrompt := "Phân tích ảnh này và trả về JSON với các trường: " +
				`"description" (mô tả ngắn bằng tiếng Việt), "extracted_text" (văn bản đọc được trong ảnh), ` +
				`"detected_objects" (danh sách đối tượng chính).`
			if question != "" {
				visionPrompt += " Câu hỏi của người dùng: " + question
			}

			resp, err := vision.Generate(ctx, llm.Request{
				Prompt:     visionPrompt,
				Image:      &llm.Image{Data: data, MimeType: format},
				JSONOutput: true,
			})
			if err != nil {
				return nil, err
			}

			analysis := visionAnalysis{Description: resp.Text}
			if raw := llm.ExtractJSONObject(resp.Text); raw != "" {
				var parsed visionAnalysis
				if json.Unmarshal([]byte(raw), &parsed) == nil && parsed.Description != "" {
					analysis = parsed
				}
			}

			result := map[string]any{
				"description":       analysis.Description,
				"extracted_text":    analysis.ExtractedText,
				"detected_objects":  analysis.DetectedObjects,
				"related_documents": []map[string]any{},
			}

			// Retrieval over the vision output ties the image back to the
			// knowledge base.
			ragQuery := strings.TrimSpace(analysis.Description + " " + question)
			rc, err := retriever.BuildContext(ctx, ragQuery, rag.SearchConfig{
				Collection:  args.String("collection"),
				TopK:        3,
				Deduplicate: true,
			})
			if err != nil || rc.Text == "" {
				result["response"] = analysis.Description
				return result, nil
			}

			prompt := fmt.Sprintf("Nguồn tham khảo:\n%s\n\nMô tả ảnh: %s\n\nCâu hỏi: %s",
				rc.Text, analysis.Description, orDefault(question, "Ảnh này liên quan gì đến thông tin của trường?"))
			answer, err := qa.Generate(ctx, llm.Request{System: ragSystemPrompt, Prompt: prompt})
			if err != nil {
				result["response"] = analysis.Description
				return result, nil
			}
			result["response"] = answer.Text
			result["related_documents"] = resultMaps(rc.Results)
			return result, nil
		},
	}
}

func resultMaps(results []rag.Result) []map[string]any {
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

func intArg(args Args, key string, fallback int) int {
	if v := args.Float(key); v > 0 {
		return int(v)
	}
	return fallback
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
