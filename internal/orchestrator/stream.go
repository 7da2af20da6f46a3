package orchestrator

import "context"

const streamChunkRunes = 60

// ExecuteStream answers one request as an event stream. The frame order
// is fixed: sources, then artifacts, then content chunks, then a
// terminal done frame carrying the metadata. A failed request emits a
// single error frame instead. The channel closes after the terminal
// frame or when the context ends.
func (o *Orchestrator) ExecuteStream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		resp := o.Execute(ctx, req)

		emit := func(e Event) bool {
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if resp.Metadata.ErrorKind != "" {
			meta := resp.Metadata
			emit(Event{Kind: EventError, Error: resp.Content, Metadata: &meta})
			return
		}

		if len(resp.Sources) > 0 {
			if !emit(Event{Kind: EventSources, Sources: resp.Sources}) {
				return
			}
		}
		if len(resp.Artifacts) > 0 {
			if !emit(Event{Kind: EventArtifacts, Artifacts: resp.Artifacts}) {
				return
			}
		}
		for _, chunk := range chunkContent(resp.Content, streamChunkRunes) {
			if !emit(Event{Kind: EventContent, Content: chunk}) {
				return
			}
		}
		meta := resp.Metadata
		emit(Event{Kind: EventDone, Metadata: &meta})
	}()
	return out
}

// chunkContent splits text into rune-bounded pieces, preferring to cut
// at whitespace. Concatenating the pieces reproduces the input exactly.
func chunkContent(s string, size int) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var out []string
	for start := 0; start < len(runes); {
		end := start + size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		cut := end
		for cut > start && runes[cut] != ' ' && runes[cut] != '\n' {
			cut--
		}
		if cut == start {
			cut = end
		}
		out = append(out, string(runes[start:cut]))
		start = cut
	}
	return out
}
