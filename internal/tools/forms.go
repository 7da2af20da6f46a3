package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FormTemplate is a named Markdown form with {placeholder} tokens.
type FormTemplate struct {
	Type     string
	Title    string
	Markdown string
}

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Fields lists the template's placeholder names in order of appearance.
func (t FormTemplate) Fields() []string {
	seen := make(map[string]bool)
	var fields []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(t.Markdown, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			fields = append(fields, m[1])
		}
	}
	return fields
}

// Render substitutes placeholders from values. A field counts as
// pre-filled only when its replacement is non-empty and is not the
// literal placeholder token; all other fields stay as tokens and are
// reported missing.
func (t FormTemplate) Render(values map[string]string) (markdown string, preFilled, missing []string) {
	markdown = placeholderPattern.ReplaceAllStringFunc(t.Markdown, func(token string) string {
		field := strings.Trim(token, "{}")
		value := strings.TrimSpace(values[field])
		if value == "" || value == token {
			return token
		}
		return value
	})

	filled := make(map[string]bool)
	for _, field := range t.Fields() {
		value := strings.TrimSpace(values[field])
		if value != "" && value != "{"+field+"}" {
			filled[field] = true
		}
	}
	for _, field := range t.Fields() {
		if filled[field] {
			preFilled = append(preFilled, field)
		} else {
			missing = append(missing, field)
		}
	}
	return markdown, preFilled, missing
}

// formTemplates holds the named Markdown forms the fill_form tool serves.
var formTemplates = map[string]FormTemplate{
	"leave_request": {
		Type:  "leave_request",
		Title: "Đơn xin nghỉ học",
		Markdown: `# ĐƠN XIN NGHỈ HỌC

**Kính gửi:** Ban Giám hiệu và Phòng Đào tạo

Em tên là: **{name}**
Mã số sinh viên: **{student_id}**
Ngày sinh: {dob}
Lớp: {class} — Ngành: {major}

Em làm đơn này kính xin được nghỉ học từ ngày {start_date} đến ngày {end_date}.

**Lý do:** {reason}

Em xin cam đoan sẽ hoàn thành đầy đủ các nội dung học tập còn thiếu sau thời gian nghỉ.

*Ngày ... tháng ... năm ...*

**Người làm đơn**

{name}`,
	},
	"card_replacement": {
		Type:  "card_replacement",
		Title: "Đơn xin cấp lại thẻ sinh viên",
		Markdown: `# ĐƠN XIN CẤP LẠI THẺ SINH VIÊN

**Kính gửi:** Phòng Công tác Sinh viên

Em tên là: **{name}**
Mã số sinh viên: **{student_id}**
Ngày sinh: {dob}
Lớp: {class}

Em làm đơn này kính xin được cấp lại thẻ sinh viên.

**Lý do:** {reason}

Em xin chân thành cảm ơn.

*Ngày ... tháng ... năm ...*

**Người làm đơn**

{name}`,
	},
	"certificate_request": {
		Type:  "certificate_request",
		Title: "Đơn xin cấp giấy chứng nhận sinh viên",
		Markdown: `# ĐƠN XIN CẤP GIẤY CHỨNG NHẬN SINH VIÊN

**Kính gửi:** Phòng Đào tạo

Em tên là: **{name}**
Mã số sinh viên: **{student_id}**
Ngày sinh: {dob}
Lớp: {class} — Ngành: {major}

Em làm đơn này kính xin được cấp giấy chứng nhận sinh viên.

**Mục đích sử dụng:** {purpose}

Em xin chân thành cảm ơn.

*Ngày ... tháng ... năm ...*

**Người làm đơn**

{name}`,
	},
	"exam_review": {
		Type:  "exam_review",
		Title: "Đơn xin phúc khảo bài thi",
		Markdown: `# ĐƠN XIN PHÚC KHẢO BÀI THI

**Kính gửi:** Phòng Khảo thí và Đảm bảo Chất lượng

Em tên là: **{name}**
Mã số sinh viên: **{student_id}**
Lớp: {class}

Em làm đơn này kính xin phúc khảo bài thi môn **{subject}**, thi ngày {exam_date}.

**Lý do:** {reason}

Em xin chấp hành kết quả phúc khảo của nhà trường.

*Ngày ... tháng ... năm ...*

**Người làm đơn**

{name}`,
	},
	"general_request": {
		Type:  "general_request",
		Title: "Đơn đề nghị",
		Markdown: `# ĐƠN ĐỀ NGHỊ

**Kính gửi:** {recipient}

Em tên là: **{name}**
Mã số sinh viên: **{student_id}**
Lớp: {class}

**Nội dung đề nghị:**

{content}

Em xin chân thành cảm ơn.

*Ngày ... tháng ... năm ...*

**Người làm đơn**

{name}`,
	},
}

// FormTemplateFor resolves a template by type name.
func FormTemplateFor(formType string) (FormTemplate, error) {
	if t, ok := formTemplates[formType]; ok {
		return t, nil
	}
	known := make([]string, 0, len(formTemplates))
	for name := range formTemplates {
		known = append(known, name)
	}
	sort.Strings(known)
	return FormTemplate{}, fmt.Errorf("unknown form type %q (known: %s)", formType, strings.Join(known, ", "))
}

// FormTypes lists the available template names, sorted.
func FormTypes() []string {
	out := make([]string, 0, len(formTemplates))
	for name := range formTemplates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
