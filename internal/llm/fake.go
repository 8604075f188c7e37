package llm

import "context"

// FakeProvider returns scripted responses in order, letting engine tests
// drive a multi-turn tool-calling loop deterministically.
type FakeProvider struct {
	responses []CompletionResponse
	calls     int
	requests  []CompletionRequest
}

// NewFakeProvider builds a FakeProvider that replays responses in order,
// repeating the last one if Complete is called more times than scripted.
func NewFakeProvider(responses ...CompletionResponse) *FakeProvider {
	return &FakeProvider{responses: responses}
}

// Name implements Provider.
func (p *FakeProvider) Name() string { return "fake" }

// Calls returns the number of times Complete has been invoked.
func (p *FakeProvider) Calls() int { return p.calls }

// LastRequest returns the most recent CompletionRequest passed to Complete,
// for asserting on what the caller built (e.g. system prompt injections).
func (p *FakeProvider) LastRequest() CompletionRequest {
	if len(p.requests) == 0 {
		return CompletionRequest{}
	}
	return p.requests[len(p.requests)-1]
}

// Complete implements Provider.
func (p *FakeProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.requests = append(p.requests, req)
	idx := p.calls
	if idx >= len(p.responses) {
		idx = len(p.responses) - 1
	}
	p.calls++
	resp := p.responses[idx]
	return &resp, nil
}
