// Package format shapes a recognition result into the response encodings of
// the OpenAI transcription API: json, verbose_json, text, srt and vtt.
package format

import (
	"fmt"
	"strings"

	"github.com/speechd/asr-gateway/internal/asr"
)

// Segment is one verbose_json segment with start/end in float seconds.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// SimpleResult is the default json encoding.
type SimpleResult struct {
	Text string `json:"text"`
}

// VerboseResult is the verbose_json encoding.
type VerboseResult struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}

// Timestamp renders milliseconds as HH:MM:SS,mmm (the SRT form, zero-padded).
func Timestamp(ms int) string {
	totalSeconds := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		totalSeconds/3600, (totalSeconds%3600)/60, totalSeconds%60, ms%1000)
}

func vttTimestamp(ms int) string {
	return strings.Replace(Timestamp(ms), ",", ".", 1)
}

func Simple(res *asr.Result) SimpleResult {
	return SimpleResult{Text: res.Text}
}

func Verbose(res *asr.Result) VerboseResult {
	lang := res.Language
	if lang == "" {
		lang = "zh"
	}
	segments := make([]Segment, 0, len(res.Sentences))
	for _, sent := range res.Sentences {
		segments = append(segments, Segment{
			ID:    len(segments),
			Start: float64(sent.StartMS) / 1000.0,
			End:   float64(sent.EndMS) / 1000.0,
			Text:  strings.TrimSpace(sent.Text),
		})
	}
	return VerboseResult{Text: res.Text, Segments: segments, Language: lang}
}

func Text(res *asr.Result) string {
	return res.Text
}

// SRT renders the sentences as SubRip cues with 1-based sequential indices.
func SRT(res *asr.Result) string {
	var cues []string
	for i, sent := range res.Sentences {
		cues = append(cues, fmt.Sprintf("%d\n%s --> %s\n%s\n",
			i+1, Timestamp(sent.StartMS), Timestamp(sent.EndMS), strings.TrimSpace(sent.Text)))
	}
	return strings.Join(cues, "\n")
}

// VTT renders the sentences as WebVTT, starting with the literal WEBVTT header.
func VTT(res *asr.Result) string {
	cues := []string{"WEBVTT\n"}
	for _, sent := range res.Sentences {
		cues = append(cues, fmt.Sprintf("%s --> %s\n%s\n",
			vttTimestamp(sent.StartMS), vttTimestamp(sent.EndMS), strings.TrimSpace(sent.Text)))
	}
	return strings.Join(cues, "\n")
}
