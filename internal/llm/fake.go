package llm

import (
	"context"
	"sync"
)

// Fake is a scripted client for tests. When GenerateFunc is set it decides
// every call; otherwise Responses are returned in order, repeating the
// last one when exhausted.
type Fake struct {
	GenerateFunc func(req Request) (string, error)
	Responses    []string
	ModelName    string

	mu    sync.Mutex
	next  int
	Calls []Request
}

func (f *Fake) Generate(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	f.mu.Unlock()

	if f.GenerateFunc != nil {
		text, err := f.GenerateFunc(req)
		if err != nil {
			return nil, err
		}
		return &Response{Text: text}, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Responses) == 0 {
		return &Response{Text: ""}, nil
	}
	i := f.next
	if i >= len(f.Responses) {
		i = len(f.Responses) - 1
	}
	f.next++
	return &Response{Text: f.Responses[i]}, nil
}

func (f *Fake) GenerateStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	tokens := make(chan string, 4)
	errs := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer close(errs)
		resp, err := f.Generate(ctx, req)
		if err != nil {
			errs <- err
			return
		}
		// Emit in two chunks so stream consumers see multiple tokens.
		text := resp.Text
		if len(text) > 2 {
			tokens <- text[:len(text)/2]
			tokens <- text[len(text)/2:]
		} else if text != "" {
			tokens <- text
		}
	}()
	return tokens, errs
}

func (f *Fake) Model() string {
	if f.ModelName != "" {
		return f.ModelName
	}
	return "fake-model"
}
