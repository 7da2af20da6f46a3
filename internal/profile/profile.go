package profile

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Academic level vocabulary.
const (
	LevelFreshman  = "freshman"
	LevelSophomore = "sophomore"
	LevelJunior    = "junior"
	LevelSenior    = "senior"
	LevelGraduate  = "graduate"
	LevelAlumni    = "alumni"
)

// Interaction types tracked per user.
const (
	InteractionQuestion     = "question"
	InteractionFileDownload = "file_download"
	InteractionFormFill     = "form_fill"
	InteractionTopicClick   = "topic_click"
)

const (
	maxTraits       = 6
	maxInterests    = 5
	maxHistory      = 50
	interestFloor   = 0.05
	defaultHalfLife = 30 * 24 * time.Hour
)

// Interest is one weighted topic a student has shown interest in.
type Interest struct {
	Topic            string    `json:"topic"`
	Score            float64   `json:"score"`
	InteractionCount int       `json:"interaction_count"`
	LastAccessed     time.Time `json:"last_accessed"`
	Source           string    `json:"source"`
}

// Interaction is one recorded student event.
type Interaction struct {
	Type     string            `json:"type"`
	Topic    string            `json:"topic,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	At       time.Time         `json:"at"`
}

// StudentProfile is the persisted per-user record. It serializes as one
// JSON blob; optimistic-lock versioning lives in the store, not here.
type StudentProfile struct {
	UserID string `json:"user_id"`

	Name      string `json:"name,omitempty"`
	StudentID string `json:"student_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Gender    string `json:"gender,omitempty"`
	DOB       string `json:"dob,omitempty"`
	Address   string `json:"address,omitempty"`

	Level   string `json:"level,omitempty"`
	Major   string `json:"major,omitempty"`
	Faculty string `json:"faculty,omitempty"`
	Class   string `json:"class,omitempty"`
	Year    int    `json:"year,omitempty"`

	Language    string `json:"language,omitempty"`
	DetailLevel string `json:"detail_level,omitempty"`

	PersonalitySummary string   `json:"personality_summary,omitempty"`
	PersonalityTraits  []string `json:"personality_traits,omitempty"`

	Interests []Interest     `json:"topics_of_interest,omitempty"`
	History   []Interaction  `json:"interaction_history,omitempty"`
	Counters  map[string]int `json:"counters,omitempty"`

	// Confidence of the last memory-extraction write, per field name.
	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecayInterests applies exponential half-life decay to every interest
// score, prunes entries below the floor and sorts the rest by score
// descending. Called on every read so stale interests fade out.
func (p *StudentProfile) DecayInterests(now time.Time, halfLife time.Duration) {
	if halfLife <= 0 {
		halfLife = defaultHalfLife
	}
	kept := p.Interests[:0]
	for _, in := range p.Interests {
		if !in.LastAccessed.IsZero() {
			elapsed := now.Sub(in.LastAccessed)
			if elapsed > 0 {
				in.Score *= math.Pow(2, -elapsed.Hours()/halfLife.Hours())
			}
		}
		if in.Score >= interestFloor {
			kept = append(kept, in)
		}
	}
	p.Interests = kept
	sort.SliceStable(p.Interests, func(i, j int) bool {
		return p.Interests[i].Score > p.Interests[j].Score
	})
}

// BumpInterest raises a topic's score, creating the entry on first
// sight. Scores saturate at 1.0.
func (p *StudentProfile) BumpInterest(topic, source string, delta float64, now time.Time) {
	topic = strings.TrimSpace(strings.ToLower(topic))
	if topic == "" {
		return
	}
	for i := range p.Interests {
		if p.Interests[i].Topic == topic {
			p.Interests[i].Score = math.Min(1.0, p.Interests[i].Score+delta)
			p.Interests[i].InteractionCount++
			p.Interests[i].LastAccessed = now
			return
		}
	}
	p.Interests = append(p.Interests, Interest{
		Topic:            topic,
		Score:            math.Min(1.0, delta),
		InteractionCount: 1,
		LastAccessed:     now,
		Source:           source,
	})
}

// AppendInteraction records an event in the bounded history buffer,
// evicting the oldest entries past the cap.
func (p *StudentProfile) AppendInteraction(in Interaction) {
	p.History = append(p.History, in)
	if len(p.History) > maxHistory {
		p.History = p.History[len(p.History)-maxHistory:]
	}
	if p.Counters == nil {
		p.Counters = make(map[string]int)
	}
	p.Counters[in.Type]++
}

// FormValues maps known identity fields onto form placeholder names.
// Empty fields are omitted so templates keep their tokens.
func (p *StudentProfile) FormValues() map[string]string {
	values := make(map[string]string)
	put := func(key, value string) {
		if value != "" {
			values[key] = value
		}
	}
	put("name", p.Name)
	put("student_id", p.StudentID)
	put("dob", p.DOB)
	put("class", p.Class)
	put("major", p.Major)
	put("email", p.Email)
	put("phone", p.Phone)
	return values
}

var (
	studentIDPattern = regexp.MustCompile(`^[A-Za-z]{0,4}[0-9]{5,10}$`)
	emailPattern     = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern     = regexp.MustCompile(`^(\+84|0)[0-9]{9,10}$`)
)

var genderValues = map[string]bool{
	"nam": true, "nữ": true, "khác": true,
	"male": true, "female": true, "other": true,
}

var detailLevels = map[string]bool{"brief": true, "medium": true, "detailed": true}

var languages = map[string]bool{"vi": true, "en": true}

var academicLevels = map[string]bool{
	LevelFreshman: true, LevelSophomore: true, LevelJunior: true,
	LevelSenior: true, LevelGraduate: true, LevelAlumni: true,
}

// ValidateField checks a formatted field value before a memory-extracted
// update may land. Unknown field names are accepted as free text.
func ValidateField(field, value string) error {
	switch field {
	case "student_id":
		if !studentIDPattern.MatchString(value) {
			return fmt.Errorf("invalid student_id %q", value)
		}
	case "email":
		if !emailPattern.MatchString(value) {
			return fmt.Errorf("invalid email %q", value)
		}
	case "phone":
		if !phonePattern.MatchString(strings.ReplaceAll(value, " ", "")) {
			return fmt.Errorf("invalid phone %q", value)
		}
	case "gender":
		if !genderValues[strings.ToLower(value)] {
			return fmt.Errorf("invalid gender %q", value)
		}
	case "detail_level":
		if !detailLevels[strings.ToLower(value)] {
			return fmt.Errorf("invalid detail_level %q", value)
		}
	case "language":
		if !languages[strings.ToLower(value)] {
			return fmt.Errorf("invalid language %q", value)
		}
	case "level":
		if !academicLevels[strings.ToLower(value)] {
			return fmt.Errorf("invalid level %q", value)
		}
	}
	return nil
}

// PersonalizedContext carries profile-derived hints for prompt building.
type PersonalizedContext struct {
	Greeting               string   `json:"greeting"`
	DetailLevel            string   `json:"detail_level"`
	TopicHints             []string `json:"topic_hints"`
	PromptAdditions        string   `json:"prompt_additions"`
	SuggestedRelatedTopics []string `json:"suggested_related_topics"`
}

var levelInstructions = map[string]string{
	LevelFreshman:  "Người hỏi là sinh viên năm nhất, hãy giải thích các khái niệm cơ bản của trường.",
	LevelSophomore: "Người hỏi là sinh viên năm hai, đã quen với các quy trình cơ bản.",
	LevelJunior:    "Người hỏi là sinh viên năm ba, có thể trả lời ngắn gọn hơn.",
	LevelSenior:    "Người hỏi là sinh viên năm cuối, ưu tiên thông tin về tốt nghiệp và thủ tục ra trường.",
	LevelGraduate:  "Người hỏi là học viên sau đại học.",
	LevelAlumni:    "Người hỏi là cựu sinh viên, ưu tiên thông tin dành cho cựu sinh viên.",
}

var detailInstructions = map[string]string{
	"brief":    "Trả lời ngắn gọn, đi thẳng vào ý chính.",
	"medium":   "Trả lời vừa đủ chi tiết.",
	"detailed": "Trả lời chi tiết, kèm các bước cụ thể nếu có.",
}

var relatedTopics = map[string][]string{
	"học phí":    {"học bổng", "miễn giảm học phí"},
	"học bổng":   {"học phí", "điểm rèn luyện"},
	"lịch thi":   {"phúc khảo", "lịch học"},
	"ký túc xá":  {"thủ tục nhập học", "học phí"},
	"tốt nghiệp": {"chứng chỉ", "bằng tốt nghiệp"},
	"thực tập":   {"việc làm", "khóa luận"},
}

// Personalize derives prompt-injection hints from the current profile
// state. Interests must already be decayed and sorted.
func (p *StudentProfile) Personalize() PersonalizedContext {
	pc := PersonalizedContext{
		Greeting:    "Chào bạn!",
		DetailLevel: "medium",
	}
	if p.Name != "" {
		pc.Greeting = fmt.Sprintf("Chào %s!", p.Name)
	}
	if detailLevels[p.DetailLevel] {
		pc.DetailLevel = p.DetailLevel
	}

	seen := make(map[string]bool)
	for i, in := range p.Interests {
		if i >= maxInterests {
			break
		}
		pc.TopicHints = append(pc.TopicHints, in.Topic)
		for _, related := range relatedTopics[in.Topic] {
			if !seen[related] {
				seen[related] = true
				pc.SuggestedRelatedTopics = append(pc.SuggestedRelatedTopics, related)
			}
		}
	}

	var additions []string
	if instr, ok := levelInstructions[p.Level]; ok {
		additions = append(additions, instr)
	}
	additions = append(additions, detailInstructions[pc.DetailLevel])
	if p.Major != "" {
		additions = append(additions, fmt.Sprintf("Người hỏi học ngành %s.", p.Major))
	}
	if p.PersonalitySummary != "" {
		additions = append(additions, fmt.Sprintf("Tính cách: %s.", strings.TrimSuffix(p.PersonalitySummary, ".")))
	}
	pc.PromptAdditions = strings.Join(additions, " ")
	return pc
}
