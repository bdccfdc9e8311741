package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// FunASRConfig holds configuration for the FunASR runtime backend.
type FunASRConfig struct {
	BaseURL string // default: "http://localhost:10095"
	Timeout time.Duration
}

// FunASRRecognizer talks to an external FunASR runtime server that runs the
// full VAD → recognition → punctuation pipeline and returns sentence-level
// timings.
type FunASRRecognizer struct {
	cfg        FunASRConfig
	httpClient *http.Client
}

// NewFunASRRecognizer creates a FunASRRecognizer with defaults applied.
func NewFunASRRecognizer(cfg FunASRConfig) *FunASRRecognizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:10095"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	return &FunASRRecognizer{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (f *FunASRRecognizer) Name() string { return "funasr" }

// Transcribe uploads the audio file to the runtime and decodes its result.
func (f *FunASRRecognizer) Transcribe(ctx context.Context, path string, hotword string) (*Result, error) {
	audio, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer audio.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("audio", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err = io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	if hotword != "" {
		_ = mw.WriteField("hotword", hotword)
	}
	if err = mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", f.cfg.BaseURL+"/api/v1/asr", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognition failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	var apiResp struct {
		Text         string `json:"text"`
		Language     string `json:"language"`
		SentenceInfo []struct {
			Start int    `json:"start"`
			End   int    `json:"end"`
			Text  string `json:"text"`
		} `json:"sentence_info"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	res := &Result{Text: apiResp.Text, Language: apiResp.Language}
	for _, s := range apiResp.SentenceInfo {
		res.Sentences = append(res.Sentences, Sentence{StartMS: s.Start, EndMS: s.End, Text: s.Text})
	}
	return res, nil
}
