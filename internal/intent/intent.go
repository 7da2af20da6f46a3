// Package intent classifies user queries into the coarse labels that
// drive orchestration. Classification is lexicon-based; Vietnamese terms
// dominate because that is the language of the knowledge base.
package intent

import "strings"

// Intent labels.
type Intent string

const (
	GeneralAnswer       Intent = "general_answer"
	FileRequest         Intent = "file_request"
	FormRequest         Intent = "form_request"
	ProcedureGuide      Intent = "procedure_guide"
	ContactInfo         Intent = "contact_info"
	Navigation          Intent = "navigation"
	ImageQuery          Intent = "image_query"
	ClarificationNeeded Intent = "clarification_needed"
)

// Signals carries per-request context into classification.
type Signals struct {
	HasImage bool
	Context  string
}

// Classification is the classifier output. Matched lists the phrases
// that fired, in lexicon order, for explainability.
type Classification struct {
	Intent            Intent
	WantsFillableForm bool
	Matched           []string
}

var formPhrases = []string{
	"mẫu đơn", "đơn xin", "biểu mẫu", "mẫu giấy", "xin mẫu", "form đăng ký",
}

var filePhrases = []string{
	"tải về", "tải file", "tải tài liệu", "download", "xin file",
	"gửi file", "cho mình file", "cho xin tài liệu", "link tải",
}

var procedurePhrases = []string{
	"cách", "hướng dẫn", "quy trình", "thủ tục", "làm thế nào", "làm sao",
	"các bước",
}

var contactPhrases = []string{
	"liên hệ", "số điện thoại", "hotline", "email của", "gặp ai",
	"phòng nào phụ trách", "ai phụ trách",
}

var navigationPhrases = []string{
	"ở đâu", "vị trí", "địa chỉ", "chỗ nào", "tầng mấy", "đường nào",
}

var fillPhrases = []string{
	"điền sẵn", "điền giúp", "điền hộ", "điền thông tin", "điền", "fill",
}

// vaguePhrases mark an underspecified "I want to ask about X" opener.
var vaguePhrases = []string{
	"muốn hỏi về", "cho mình hỏi về", "cho em hỏi về", "thắc mắc về", "hỏi về",
}

// Classify maps a query plus signals to an intent label. An attached
// image always wins; otherwise the first matching category in priority
// order (form > file > procedure > contact > navigation) decides, except
// when a short query matches several categories equally, which asks for
// clarification instead.
func Classify(query string, sig Signals) Classification {
	q := strings.ToLower(strings.TrimSpace(query))
	out := Classification{Intent: GeneralAnswer}

	out.WantsFillableForm = matchAny(q, fillPhrases, &out.Matched)

	if sig.HasImage {
		out.Intent = ImageQuery
		return out
	}

	type category struct {
		intent  Intent
		phrases []string
	}
	categories := []category{
		{FormRequest, formPhrases},
		{FileRequest, filePhrases},
		{ProcedureGuide, procedurePhrases},
		{ContactInfo, contactPhrases},
		{Navigation, navigationPhrases},
	}

	var first Intent
	hits := make(map[Intent]int)
	for _, cat := range categories {
		n := countMatches(q, cat.phrases, &out.Matched)
		if n == 0 {
			continue
		}
		hits[cat.intent] = n
		if first == "" {
			first = cat.intent
		}
	}

	words := len(strings.Fields(q))

	switch {
	case len(hits) == 0:
		if words <= 8 && matchAny(q, vaguePhrases, &out.Matched) {
			out.Intent = ClarificationNeeded
		} else if out.WantsFillableForm {
			// A bare fill verb without a named form is a form request.
			out.Intent = FormRequest
		}
	case hits[FormRequest] > 0:
		// Form phrases trump everything else they co-occur with.
		out.Intent = FormRequest
	case hits[FileRequest] > 0:
		out.Intent = FileRequest
	case len(hits) >= 2 && words <= 8 && allEqual(hits):
		out.Intent = ClarificationNeeded
	default:
		out.Intent = first
	}

	if out.WantsFillableForm && out.Intent == FileRequest {
		out.Intent = FormRequest
	}
	return out
}

func matchAny(q string, phrases []string, matched *[]string) bool {
	return countMatches(q, phrases, matched) > 0
}

func countMatches(q string, phrases []string, matched *[]string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(q, p) {
			*matched = append(*matched, p)
			n++
		}
	}
	return n
}

func allEqual(hits map[Intent]int) bool {
	var want int
	for _, n := range hits {
		if want == 0 {
			want = n
		} else if n != want {
			return false
		}
	}
	return true
}
