package asr

import "context"

// Sentence is one punctuated span of recognized speech with millisecond
// timing, as produced by the recognition pipeline.
type Sentence struct {
	StartMS int    `json:"start"`
	EndMS   int    `json:"end"`
	Text    string `json:"text"`
}

// Result is the typed contract at the recognizer boundary. Downstream
// formatting operates on this instead of ad hoc key lookups.
type Result struct {
	Text      string     `json:"text"`
	Sentences []Sentence `json:"sentence_info,omitempty"`
	Language  string     `json:"language,omitempty"`
}

// Recognizer is the interface for speech-to-text backends. The pipeline
// behind it (VAD, recognition, punctuation, speaker models) is an opaque,
// possibly slow, possibly failing external collaborator.
type Recognizer interface {
	Transcribe(ctx context.Context, path string, hotword string) (*Result, error)
	Name() string
}
