// Package llm defines the language-model port and its Gemini
// implementation. The orchestrator holds one client per role: a fast QA
// model for answering and summarizing, a reasoning model for triage
// decisions, and a vision-capable model for image analysis.
package llm

import "context"

// Image is an inline attachment for vision requests.
type Image struct {
	Data     []byte
	MimeType string
}

// Request is one generation call. Temperature < 0 and MaxTokens = 0 use
// the client defaults. JSONOutput asks the model for a bare JSON object.
type Request struct {
	System      string
	Prompt      string
	Image       *Image
	Temperature float64
	MaxTokens   int
	JSONOutput  bool
}

// Response is the model's completion plus usage accounting.
type Response struct {
	Text       string
	TokensUsed int
}

// Client is the generation port.
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	GenerateStream(ctx context.Context, req Request) (<-chan string, <-chan error)
	Model() string
}

// Suite bundles the role-specific clients the orchestrator composes.
// Vision may equal QA when the QA model is multimodal.
type Suite struct {
	QA        Client
	Reasoning Client
	Vision    Client
}
