// Package chunker splits document text into overlapping, semantically
// bounded pieces. Chunks are the unit of embedding and retrieval; offsets
// always refer to the original text so callers can map results back.
package chunker

import (
	"fmt"
	"strings"
)

// Strategy selects the splitting algorithm.
type Strategy string

const (
	StrategyFixed     Strategy = "fixed"
	StrategySentence  Strategy = "sentence"
	StrategyMarkdown  Strategy = "markdown"
	StrategyRecursive Strategy = "recursive"
)

// Config controls chunking behavior.
type Config struct {
	ChunkSize    int // characters, [100,4000]
	ChunkOverlap int // characters, must be < ChunkSize
	Strategy     Strategy
	MinChunkSize int      // chunks shorter than this (after trimming) are dropped
	Separators   []string // recursive strategy separator cascade
}

// DefaultConfig returns the standard chunking configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    512,
		ChunkOverlap: 50,
		Strategy:     StrategyRecursive,
		MinChunkSize: 20,
		Separators:   []string{"\n\n", "\n", ". ", " ", ""},
	}
}

// Chunk is one contiguous piece of the source text.
type Chunk struct {
	Content   string
	Index     int // 0-based, contiguous per source
	Total     int
	StartChar int // offset into the original text
	EndChar   int
}

// Split chunks text according to cfg. The returned chunks have contiguous
// zero-based indexes and strictly increasing start offsets.
func Split(text string, cfg Config) ([]Chunk, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var raw []Chunk
	switch cfg.Strategy {
	case StrategyFixed, "":
		raw = splitFixed(text, 0, cfg.ChunkSize, cfg.ChunkOverlap)
	case StrategySentence:
		raw = splitSentence(text, cfg)
	case StrategyMarkdown:
		raw = splitMarkdown(text, cfg)
	case StrategyRecursive:
		seps := cfg.Separators
		if len(seps) == 0 {
			seps = DefaultConfig().Separators
		}
		raw = splitRecursive(text, 0, cfg, seps)
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", cfg.Strategy)
	}

	return finalize(raw, cfg.MinChunkSize), nil
}

func validate(cfg Config) error {
	if cfg.ChunkSize < 100 || cfg.ChunkSize > 4000 {
		return fmt.Errorf("chunk size %d outside [100,4000]", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0,%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return nil
}

// finalize trims whitespace, drops under-sized chunks, and renumbers.
func finalize(raw []Chunk, minSize int) []Chunk {
	out := make([]Chunk, 0, len(raw))
	for _, c := range raw {
		trimmed := strings.TrimSpace(c.Content)
		if trimmed == "" {
			continue
		}
		if minSize > 0 && len(trimmed) < minSize {
			continue
		}
		// Adjust offsets for the leading whitespace that was trimmed.
		lead := strings.Index(c.Content, trimmed)
		if lead > 0 {
			c.StartChar += lead
		}
		c.Content = trimmed
		c.EndChar = c.StartChar + len(trimmed)
		out = append(out, c)
	}
	for i := range out {
		out[i].Index = i
		out[i].Total = len(out)
	}
	return out
}

// splitFixed slides a window of size advancing by size-overlap.
func splitFixed(text string, base, size, overlap int) []Chunk {
	var chunks []Chunk
	step := size - overlap
	if step <= 0 {
		step = size
	}
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, Chunk{
			Content:   text[start:end],
			StartChar: base + start,
			EndChar:   base + end,
		})
		if end == len(text) {
			break
		}
	}
	return chunks
}

// splitSentence packs whole sentences greedily up to ChunkSize. A sentence
// ends at '.', '!' or '?' followed by whitespace. Sentences are never split,
// even when a single sentence exceeds the chunk size.
func splitSentence(text string, cfg Config) []Chunk {
	type span struct{ start, end int }
	var sentences []span
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' {
			if i+1 >= len(text) || text[i+1] == ' ' || text[i+1] == '\n' || text[i+1] == '\t' || text[i+1] == '\r' {
				sentences = append(sentences, span{start, i + 1})
				start = i + 1
			}
		}
	}
	if start < len(text) {
		sentences = append(sentences, span{start, len(text)})
	}

	var chunks []Chunk
	curStart, curEnd := -1, -1
	flush := func() {
		if curStart >= 0 && curEnd > curStart {
			chunks = append(chunks, Chunk{
				Content:   text[curStart:curEnd],
				StartChar: curStart,
				EndChar:   curEnd,
			})
		}
		curStart, curEnd = -1, -1
	}
	for _, s := range sentences {
		if curStart < 0 {
			curStart, curEnd = s.start, s.end
			continue
		}
		if s.end-curStart > cfg.ChunkSize {
			flush()
			curStart, curEnd = s.start, s.end
			continue
		}
		curEnd = s.end
	}
	flush()
	return chunks
}

// splitMarkdown splits at ATX headers (levels 1-6). Each section becomes a
// chunk with its header prepended; oversized sections are re-split fixed.
func splitMarkdown(text string, cfg Config) []Chunk {
	lines := strings.SplitAfter(text, "\n")

	type section struct {
		header string
		start  int // offset of body (or header when present)
		body   strings.Builder
	}
	var sections []*section
	cur := &section{start: 0}
	sections = append(sections, cur)
	offset := 0
	for _, line := range lines {
		if isMarkdownHeader(line) {
			cur = &section{header: strings.TrimSpace(line), start: offset}
			sections = append(sections, cur)
		} else {
			cur.body.WriteString(line)
		}
		offset += len(line)
	}

	var chunks []Chunk
	for _, sec := range sections {
		body := sec.body.String()
		content := body
		if sec.header != "" {
			content = sec.header + "\n" + body
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		if len(content) <= cfg.ChunkSize {
			chunks = append(chunks, Chunk{
				Content:   content,
				StartChar: sec.start,
				EndChar:   sec.start + len(content),
			})
			continue
		}
		// Oversized section: fixed re-split, header prepended to each piece.
		for _, sub := range splitFixed(body, sec.start, cfg.ChunkSize, cfg.ChunkOverlap) {
			if sec.header != "" {
				sub.Content = sec.header + "\n" + sub.Content
			}
			chunks = append(chunks, sub)
		}
	}
	return chunks
}

func isMarkdownHeader(line string) bool {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	return level >= 1 && level <= 6 && level < len(trimmed) && trimmed[level] == ' '
}

// splitRecursive tries separators in order; pieces still exceeding the
// chunk size recurse with the next separator. The empty-string separator
// terminates the cascade with a fixed split.
func splitRecursive(text string, base int, cfg Config, seps []string) []Chunk {
	if len(text) <= cfg.ChunkSize {
		return []Chunk{{Content: text, StartChar: base, EndChar: base + len(text)}}
	}
	if len(seps) == 0 || seps[0] == "" {
		return splitFixed(text, base, cfg.ChunkSize, cfg.ChunkOverlap)
	}

	sep := seps[0]
	parts := strings.Split(text, sep)
	if len(parts) == 1 {
		return splitRecursive(text, base, cfg, seps[1:])
	}

	var chunks []Chunk
	offset := 0
	// Greedily merge small parts so we don't emit confetti.
	curStart, curLen := -1, 0
	flush := func(end int) {
		if curStart >= 0 && curLen > 0 {
			chunks = append(chunks, Chunk{
				Content:   text[curStart:end],
				StartChar: base + curStart,
				EndChar:   base + end,
			})
		}
		curStart, curLen = -1, 0
	}
	for i, part := range parts {
		partStart := offset
		partEnd := offset + len(part)
		if len(part) > cfg.ChunkSize {
			flush(partStart)
			chunks = append(chunks, splitRecursive(part, base+partStart, cfg, seps[1:])...)
		} else {
			if curStart < 0 {
				curStart = partStart
			}
			if partEnd-curStart > cfg.ChunkSize {
				flush(partStart)
				curStart = partStart
			}
			curLen = partEnd - curStart
		}
		offset = partEnd
		if i < len(parts)-1 {
			offset += len(sep)
		}
	}
	flush(len(text))
	return applyOverlap(text, base, chunks, cfg.ChunkOverlap)
}

// applyOverlap extends each chunk backwards into its predecessor by up to
// overlap characters, matching the fixed strategy's overlap semantics.
func applyOverlap(text string, base int, chunks []Chunk, overlap int) []Chunk {
	if overlap <= 0 {
		return chunks
	}
	for i := 1; i < len(chunks); i++ {
		start := chunks[i].StartChar - overlap
		if start < base {
			start = base
		}
		// Keep start offsets strictly increasing.
		if start <= chunks[i-1].StartChar {
			start = chunks[i-1].StartChar + 1
		}
		if start > chunks[i].StartChar {
			start = chunks[i].StartChar
		}
		chunks[i].Content = text[start-base : chunks[i].EndChar-base]
		chunks[i].StartChar = start
	}
	return chunks
}
