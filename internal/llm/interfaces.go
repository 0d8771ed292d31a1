// Package llm provides the model integration for mention extraction,
// candidate scoring, and edge entailment. It includes strict JSON-only
// prompt templates and response parsers that work with Anthropic, OpenAI,
// and Ollama models.
package llm

import "context"

// TextGenerator is the interface for LLM text completion.
// All extraction and scoring prompts use single-string completion style.
type TextGenerator interface {
	Complete(ctx context.Context, prompt string) (string, error)
	GetModel() string
}

// EmbeddingGenerator is the interface for generating vector embeddings
// of entity profiles. Optional; resolution works without it.
type EmbeddingGenerator interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	GetModel() string
}
