package asr

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for the OpenAI-compatible whisper backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: OpenAI's public endpoint
	Model   string // default: "whisper-1"
}

// OpenAIRecognizer proxies transcription to an OpenAI-compatible whisper
// endpoint and maps its verbose segments into millisecond sentence spans.
type OpenAIRecognizer struct {
	client *openai.Client
	model  string
}

// NewOpenAIRecognizer creates an OpenAIRecognizer with defaults applied.
func NewOpenAIRecognizer(cfg OpenAIConfig) *OpenAIRecognizer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAIRecognizer{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

func (o *OpenAIRecognizer) Name() string { return "openai-whisper" }

func (o *OpenAIRecognizer) Transcribe(ctx context.Context, path string, hotword string) (*Result, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: path,
		Prompt:   hotword,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription: %w", err)
	}

	res := &Result{Text: resp.Text, Language: resp.Language}
	for _, seg := range resp.Segments {
		res.Sentences = append(res.Sentences, Sentence{
			StartMS: int(seg.Start * 1000),
			EndMS:   int(seg.End * 1000),
			Text:    seg.Text,
		})
	}
	return res, nil
}
