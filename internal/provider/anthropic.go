// Package provider identifies model providers and builds their clients.
package provider

import (
	"github.com/anthropics/anthropic-sdk-go"
)

// Provider ids persisted in session records. Sessions store the id verbatim
// and restore it verbatim; the orchestration layer decides what to do with
// a session whose provider has no configured client.
const (
	Claude = "claude"
	OpenAI = "openai"
	Gemini = "gemini"
	Codex  = "codex"
)

// NewAnthropicClient returns a client using API key from the env.
func NewAnthropicClient() *anthropic.Client {
	c := anthropic.NewClient()
	return &c
}

const DefaultModel = anthropic.ModelClaude3_7SonnetLatest
const APIVersion = "2023-06-01"
