package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"uniassist/internal/errkind"
	"uniassist/internal/llm"
)

// Confidence thresholds for applying extracted memories.
const (
	minConfidence         = 0.70
	minInferredConfidence = 0.80
	overwriteConfidence   = 0.85
)

// extractedValue is one candidate fact from the extraction model.
type extractedValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Inferred   bool    `json:"inferred"`
}

type extractedInterest struct {
	Topic      string  `json:"topic"`
	Confidence float64 `json:"confidence"`
	Inferred   bool    `json:"inferred"`
}

type extraction struct {
	Identity    map[string]extractedValue `json:"identity"`
	Academic    map[string]extractedValue `json:"academic"`
	Preferences map[string]extractedValue `json:"preferences"`
	Interests   []extractedInterest       `json:"interests"`
	Personality struct {
		Summary *extractedValue  `json:"summary"`
		Traits  []extractedValue `json:"traits"`
	} `json:"personality"`
}

// ExtractionResult reports which fields a dialogue turn changed.
type ExtractionResult struct {
	Applied  []string `json:"applied"`
	Rejected []string `json:"rejected"`
}

const extractionSystemPrompt = "Bạn trích xuất thông tin về sinh viên từ hội thoại. " +
	"Chỉ ghi nhận điều được nói rõ hoặc suy luận chắc chắn; không bịa thêm."

const extractionPromptFormat = `Từ đoạn hội thoại dưới đây, trích xuất thông tin về sinh viên dưới dạng JSON:

{
  "identity": {"name"|"student_id"|"email"|"phone"|"gender"|"dob"|"address": {"value": "...", "confidence": 0.0-1.0, "evidence": "câu gốc", "inferred": false}},
  "academic": {"level"|"major"|"faculty"|"class": {...}},
  "preferences": {"language"|"detail_level": {...}},
  "interests": [{"topic": "...", "confidence": 0.0-1.0, "inferred": false}],
  "personality": {"summary": {...}, "traits": [{...}]}
}

"level" nhận một trong: freshman, sophomore, junior, senior, graduate, alumni.
"detail_level" nhận một trong: brief, medium, detailed. Bỏ qua trường không có thông tin.
Đặt "inferred": true khi thông tin được suy luận thay vì nói rõ.%s

Hội thoại gần đây:
%s

Sinh viên: %s
Trợ lý: %s`

// ExtractMemories asks the reasoning model for profile facts in a
// dialogue turn and applies the ones that clear the confidence bars.
// The profile is saved with optimistic-lock retries.
func (s *Service) ExtractMemories(ctx context.Context, userID, userMessage, assistantMessage, recentContext string, allowInference bool) (*ExtractionResult, error) {
	if s.reasoning == nil {
		return nil, errkind.Errorf(errkind.DependencyUnavailable, "no reasoning model configured")
	}

	inferenceNote := ""
	if !allowInference {
		inferenceNote = "\nChỉ trích xuất thông tin được nói rõ; bỏ qua mọi suy luận."
	}
	prompt := fmt.Sprintf(extractionPromptFormat, inferenceNote, recentContext, userMessage, assistantMessage)

	resp, err := s.reasoning.Generate(ctx, llm.Request{
		System:     extractionSystemPrompt,
		Prompt:     prompt,
		JSONOutput: true,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSONObject(resp.Text)
	if raw == "" {
		return &ExtractionResult{}, nil
	}
	var ex extraction
	if err := json.Unmarshal([]byte(raw), &ex); err != nil {
		s.log.Debug("extraction output not parseable", zap.String("user_id", userID), zap.Error(err))
		return &ExtractionResult{}, nil
	}

	var lastErr error
	for attempt := 0; attempt < saveRetries; attempt++ {
		p, version, err := s.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}
		result := s.apply(p, &ex, allowInference)
		if len(result.Applied) == 0 {
			return result, nil
		}
		if err := s.save(ctx, p, version); err == nil {
			s.log.Info("profile memories applied",
				zap.String("user_id", userID),
				zap.Strings("fields", result.Applied))
			return result, nil
		} else if !errkind.Is(err, errkind.Conflict) {
			return nil, err
		} else {
			lastErr = err
		}
	}
	return nil, lastErr
}

// apply mutates the profile with every extracted value that clears the
// thresholds and validates. Returns what was applied and what was not.
func (s *Service) apply(p *StudentProfile, ex *extraction, allowInference bool) *ExtractionResult {
	result := &ExtractionResult{}
	now := s.now()

	setters := map[string]*string{
		"name":         &p.Name,
		"student_id":   &p.StudentID,
		"email":        &p.Email,
		"phone":        &p.Phone,
		"gender":       &p.Gender,
		"dob":          &p.DOB,
		"address":      &p.Address,
		"level":        &p.Level,
		"major":        &p.Major,
		"faculty":      &p.Faculty,
		"class":        &p.Class,
		"language":     &p.Language,
		"detail_level": &p.DetailLevel,
	}

	applyField := func(field string, v extractedValue) {
		target, known := setters[field]
		if !known {
			result.Rejected = append(result.Rejected, field)
			return
		}
		value := strings.TrimSpace(v.Value)
		if value == "" || !s.accepts(v, allowInference) {
			result.Rejected = append(result.Rejected, field)
			return
		}
		switch field {
		case "gender", "detail_level", "language", "level":
			value = strings.ToLower(value)
		}
		if err := ValidateField(field, value); err != nil {
			result.Rejected = append(result.Rejected, field)
			return
		}
		if *target != "" && *target != value &&
			(v.Confidence < overwriteConfidence || v.Confidence < p.FieldConfidence[field]) {
			result.Rejected = append(result.Rejected, field)
			return
		}
		if *target == value {
			// Same fact restated; only the confidence record moves.
			s.recordConfidence(p, field, v.Confidence)
			return
		}
		*target = value
		s.recordConfidence(p, field, v.Confidence)
		result.Applied = append(result.Applied, field)
	}

	for _, group := range []map[string]extractedValue{ex.Identity, ex.Academic, ex.Preferences} {
		fields := make([]string, 0, len(group))
		for field := range group {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			applyField(field, group[field])
		}
	}

	for _, in := range ex.Interests {
		if in.Topic == "" || in.Confidence < minConfidence || (in.Inferred && !allowInference) {
			continue
		}
		p.BumpInterest(in.Topic, "memory_extraction", 0.3*in.Confidence, now)
		result.Applied = append(result.Applied, "interest:"+strings.ToLower(strings.TrimSpace(in.Topic)))
	}
	if len(p.Interests) > maxInterests {
		sort.SliceStable(p.Interests, func(i, j int) bool {
			return p.Interests[i].Score > p.Interests[j].Score
		})
		p.Interests = p.Interests[:maxInterests]
	}

	if v := ex.Personality.Summary; v != nil && s.accepts(*v, allowInference) && strings.TrimSpace(v.Value) != "" {
		if p.PersonalitySummary == "" || p.PersonalitySummary == v.Value || v.Confidence >= overwriteConfidence {
			if p.PersonalitySummary != v.Value {
				p.PersonalitySummary = strings.TrimSpace(v.Value)
				result.Applied = append(result.Applied, "personality_summary")
			}
		} else {
			result.Rejected = append(result.Rejected, "personality_summary")
		}
	}
	for _, trait := range ex.Personality.Traits {
		value := strings.TrimSpace(trait.Value)
		if value == "" || !s.accepts(trait, allowInference) {
			continue
		}
		if containsFold(p.PersonalityTraits, value) {
			continue
		}
		p.PersonalityTraits = append(p.PersonalityTraits, value)
		result.Applied = append(result.Applied, "trait:"+value)
	}
	if len(p.PersonalityTraits) > maxTraits {
		p.PersonalityTraits = p.PersonalityTraits[len(p.PersonalityTraits)-maxTraits:]
	}

	return result
}

// accepts applies the stated/inferred confidence thresholds.
func (s *Service) accepts(v extractedValue, allowInference bool) bool {
	if v.Inferred {
		return allowInference && v.Confidence >= minInferredConfidence
	}
	return v.Confidence >= minConfidence
}

func (s *Service) recordConfidence(p *StudentProfile, field string, confidence float64) {
	if p.FieldConfidence == nil {
		p.FieldConfidence = make(map[string]float64)
	}
	p.FieldConfidence[field] = confidence
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
