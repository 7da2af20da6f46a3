package chunker

import (
	"strings"
	"testing"
)

func config(strategy Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	return cfg
}

func checkInvariants(t *testing.T, chunks []Chunk, cfg Config) {
	t.Helper()
	lastStart := -1
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if c.Total != len(chunks) {
			t.Fatalf("chunk %d total=%d, want %d", i, c.Total, len(chunks))
		}
		if len(c.Content) < cfg.MinChunkSize {
			t.Fatalf("chunk %d shorter than min size: %d", i, len(c.Content))
		}
		if c.StartChar <= lastStart {
			t.Fatalf("chunk %d start %d not after previous start %d", i, c.StartChar, lastStart)
		}
		lastStart = c.StartChar
		if c.EndChar-c.StartChar != len(c.Content) {
			t.Fatalf("chunk %d offsets span %d chars but content is %d", i, c.EndChar-c.StartChar, len(c.Content))
		}
	}
}

func TestFixedWindows(t *testing.T) {
	text := strings.Repeat("abcdefghij", 200) // 2000 chars
	cfg := config(StrategyFixed)
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	checkInvariants(t, chunks, cfg)
	for i := 1; i < len(chunks); i++ {
		step := chunks[i].StartChar - chunks[i-1].StartChar
		if step != cfg.ChunkSize-cfg.ChunkOverlap {
			t.Fatalf("window %d advanced by %d, want %d", i, step, cfg.ChunkSize-cfg.ChunkOverlap)
		}
	}
}

func TestFixedRoundTrip(t *testing.T) {
	text := strings.Repeat("x", 1500)
	cfg := config(StrategyFixed)
	cfg.MinChunkSize = 0
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Strip the overlap each chunk shares with its predecessor and rebuild.
	var sb strings.Builder
	prevEnd := 0
	for _, c := range chunks {
		start := c.StartChar
		if start < prevEnd {
			start = prevEnd
		}
		sb.WriteString(text[start:c.EndChar])
		prevEnd = c.EndChar
	}
	if sb.String() != text {
		t.Fatalf("round trip mismatch: got %d chars, want %d", sb.Len(), len(text))
	}
}

func TestSentencePacking(t *testing.T) {
	text := "Sinh viên nộp đơn tại phòng đào tạo. Thời hạn xử lý là năm ngày! Có cần lệ phí không? Không."
	cfg := config(StrategySentence)
	cfg.MinChunkSize = 1
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("short text should pack into one chunk, got %d", len(chunks))
	}
	checkInvariants(t, chunks, cfg)
}

func TestSentenceNeverSplits(t *testing.T) {
	// Each sentence is ~120 chars; with a 200-char budget, no chunk may
	// contain a partial sentence.
	sentence := strings.Repeat("từ ", 39) + "hết."
	text := strings.Repeat(sentence+" ", 10)
	cfg := config(StrategySentence)
	cfg.ChunkSize = 200
	cfg.ChunkOverlap = 0
	cfg.MinChunkSize = 1
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range chunks {
		if !strings.HasSuffix(c.Content, "hết.") {
			t.Fatalf("chunk %d ends mid-sentence: %q", i, c.Content[len(c.Content)-20:])
		}
	}
}

func TestMarkdownSections(t *testing.T) {
	text := "# Học vụ\nNội dung phần một.\n## Nghỉ học\nQuy trình xin nghỉ học tạm thời.\n## Thôi học\nQuy trình thôi học.\n"
	cfg := config(StrategyMarkdown)
	cfg.MinChunkSize = 1
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("want 3 sections, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Content, "## Nghỉ học") {
		t.Fatalf("header not prepended: %q", chunks[1].Content)
	}
}

func TestMarkdownOversizedSectionResplit(t *testing.T) {
	body := strings.Repeat("nội dung quy chế đào tạo ", 100)
	text := "# Quy chế\n" + body
	cfg := config(StrategyMarkdown)
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatalf("oversized section should re-split, got %d chunks", len(chunks))
	}
	for i, c := range chunks {
		if !strings.HasPrefix(c.Content, "# Quy chế") {
			t.Fatalf("chunk %d missing section header", i)
		}
	}
}

func TestRecursivePrefersParagraphs(t *testing.T) {
	para := strings.Repeat("câu văn ngắn. ", 20) // ~280 chars
	text := para + "\n\n" + para + "\n\n" + para
	cfg := config(StrategyRecursive)
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, chunks, cfg)
	for i, c := range chunks {
		if len(c.Content) > cfg.ChunkSize+cfg.ChunkOverlap {
			t.Fatalf("chunk %d exceeds budget: %d chars", i, len(c.Content))
		}
	}
}

func TestRecursiveLongUnbrokenText(t *testing.T) {
	text := strings.Repeat("a", 3000) // no separators at all
	cfg := config(StrategyRecursive)
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) < 2 {
		t.Fatal("unbroken text should fall through to fixed splitting")
	}
	checkInvariants(t, chunks, cfg)
}

func TestEmptyAndWhitespaceInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := Split(text, DefaultConfig())
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 0 {
			t.Fatalf("whitespace input produced %d chunks", len(chunks))
		}
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkSize = 50
	if _, err := Split("hello", cfg); err == nil {
		t.Fatal("expected error for undersized chunk_size")
	}
	cfg = DefaultConfig()
	cfg.ChunkOverlap = cfg.ChunkSize
	if _, err := Split("hello", cfg); err == nil {
		t.Fatal("expected error for overlap >= size")
	}
}
