package intent

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		signals  Signals
		want     Intent
		wantFill bool
	}{
		{
			name:  "form request",
			query: "Cho mình xin mẫu đơn nghỉ học",
			want:  FormRequest,
		},
		{
			name:     "form request with fill verb",
			query:    "Điền sẵn giúp mình đơn xin cấp lại thẻ sinh viên",
			want:     FormRequest,
			wantFill: true,
		},
		{
			name:  "file request",
			query: "Cho mình tải về tài liệu quy chế đào tạo",
			want:  FileRequest,
		},
		{
			name:  "form wins over file phrases",
			query: "Tải về mẫu đơn xin nghỉ học giúp mình",
			want:  FormRequest,
		},
		{
			name:  "procedure guide",
			query: "Hướng dẫn thủ tục xin bảng điểm như thế nào",
			want:  ProcedureGuide,
		},
		{
			name:  "contact info",
			query: "Số điện thoại phòng đào tạo là gì",
			want:  ContactInfo,
		},
		{
			name:  "navigation",
			query: "Phòng công tác sinh viên ở đâu",
			want:  Navigation,
		},
		{
			name:    "image attachment forces image query",
			query:   "Cho mình xin mẫu đơn nghỉ học",
			signals: Signals{HasImage: true},
			want:    ImageQuery,
		},
		{
			name:  "vague query asks for clarification",
			query: "Mình muốn hỏi về điểm",
			want:  ClarificationNeeded,
		},
		{
			name:  "ambiguous short query asks for clarification",
			query: "Cách liên hệ ở đâu",
			want:  ClarificationNeeded,
		},
		{
			name:  "general knowledge",
			query: "Google đang tuyển kỹ sư gì năm 2025?",
			want:  GeneralAnswer,
		},
		{
			name:     "bare fill verb is a form request",
			query:    "Điền giúp mình thông tin cá nhân",
			want:     FormRequest,
			wantFill: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.query, tc.signals)
			if got.Intent != tc.want {
				t.Errorf("Classify(%q) = %s, want %s (matched %v)", tc.query, got.Intent, tc.want, got.Matched)
			}
			if got.WantsFillableForm != tc.wantFill {
				t.Errorf("Classify(%q) fill = %v, want %v", tc.query, got.WantsFillableForm, tc.wantFill)
			}
		})
	}
}

func TestClassifyCaseInsensitive(t *testing.T) {
	got := Classify("CHO MÌNH XIN MẪU ĐƠN NGHỈ HỌC", Signals{})
	if got.Intent != FormRequest {
		t.Errorf("uppercase query misclassified: %s", got.Intent)
	}
}
