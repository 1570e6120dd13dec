// Package genai wraps the text-generation services used to summarize and
// answer questions about notes.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"notesync/api/internal/logging"
)

// ErrUnavailable means no provider is configured.
var ErrUnavailable = errors.New("text generation is not configured")

// Generator turns a prompt into text. An empty string with a nil error means
// the provider answered without any text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerationParams mirror the sampling settings sent to the provider.
type GenerationParams struct {
	Temperature     float32
	TopP            float32
	TopK            int
	MaxOutputTokens int
}

func DefaultParams() GenerationParams {
	return GenerationParams{Temperature: 0.7, TopP: 0.95, TopK: 40, MaxOutputTokens: 500}
}

type Config struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string
}

// New picks a provider from cfg. Without credentials it returns a
// generator that always fails with ErrUnavailable.
func New(cfg Config, logger *slog.Logger) (Generator, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "gemini":
		if cfg.GeminiAPIKey == "" {
			logger.Warn("GEMINI_API_KEY not set, text generation disabled")
			return Disabled{}, nil
		}
		logger.Info("initializing gemini client", "model", cfg.GeminiModel)
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiBaseURL), nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, text generation disabled")
			return Disabled{}, nil
		}
		logger.Info("initializing openai client", "model", cfg.OpenAIModel)
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, ""), nil
	case "none", "disabled":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

type Disabled struct{}

func (Disabled) Generate(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

func SummarizePrompt(content string) string {
	return "Summarize the following note content concisely:\n\n" + content
}

func AskPrompt(content, question string) string {
	return fmt.Sprintf("Given the following note content: \"\"\"%s\"\"\"\n\nAnswer the following question about it: \"%s\"", content, question)
}
