package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/speechd/asr-gateway/internal/asr"
	"github.com/speechd/asr-gateway/internal/asr/format"
	"github.com/speechd/asr-gateway/internal/fetch"
	"github.com/speechd/asr-gateway/internal/queue"
	"github.com/speechd/asr-gateway/internal/transcribe"
	"github.com/speechd/asr-gateway/internal/upload"
)

const multipartMemoryLimit = 32 << 20 // larger bodies spill to disk

var responseFormats = map[string]bool{
	"json":         true,
	"verbose_json": true,
	"text":         true,
	"srt":          true,
	"vtt":          true,
}

type AudioHandler struct {
	gw         *transcribe.Gateway
	asm        *upload.Assembler
	fetcher    *fetch.Fetcher
	queue      *queue.Client // optional; enables the stale-session sweep
	sessionTTL time.Duration
}

func NewAudioHandler(gw *transcribe.Gateway, asm *upload.Assembler, fetcher *fetch.Fetcher, qc *queue.Client, sessionTTL time.Duration) *AudioHandler {
	return &AudioHandler{
		gw:         gw,
		asm:        asm,
		fetcher:    fetcher,
		queue:      qc,
		sessionTTL: sessionTTL,
	}
}

// Transcribe handles POST /v1/audio/transcriptions: a whole audio file in one
// multipart request, response shaped per response_format.
func (h *AudioHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "file required")
		return
	}
	defer file.Close()

	// The model field is accepted for OpenAI compatibility; the server
	// instance runs a single pipeline.
	if r.FormValue("model") == "" {
		writeError(w, http.StatusBadRequest, "validation", "model required")
		return
	}

	respFormat := r.FormValue("response_format")
	if respFormat == "" {
		respFormat = "json"
	}
	if !responseFormats[respFormat] {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("unsupported response_format %q", respFormat))
		return
	}
	prompt := r.FormValue("prompt")

	tmpPath, err := saveUpload(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "processing", err.Error())
		return
	}
	defer os.Remove(tmpPath)

	res, err := h.gw.Transcribe(r.Context(), transcribe.Request{
		Path:     tmpPath,
		Hotword:  prompt,
		Endpoint: "/v1/audio/transcriptions",
		Format:   respFormat,
	})
	if err != nil {
		writeTranscriptionError(w, err)
		return
	}

	writeFormatted(w, res, respFormat)
}

// UploadChunk handles POST /v1/audio/chunk. The preferred encoding is the
// raw body plus upload-* headers; a multipart form with the same fields is
// accepted as a fallback for clients that cannot set custom headers.
func (h *AudioHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	var (
		key, filename string
		indexStr      string
		totalStr      string
		data          io.Reader
		mpFile        multipart.File
	)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
			writeError(w, http.StatusBadRequest, "validation", "invalid multipart form")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation", "file required")
			return
		}
		mpFile = file
		defer mpFile.Close()

		key = r.FormValue("fileMd5")
		indexStr = r.FormValue("chunkIndex")
		totalStr = r.FormValue("totalChunks")
		filename = r.FormValue("filename")
		if filename == "" {
			filename = header.Filename
		}
		data = file
	} else {
		key = r.Header.Get("upload-file-md5")
		indexStr = r.Header.Get("upload-chunk-index")
		totalStr = r.Header.Get("upload-total-chunks")
		filename = r.Header.Get("upload-filename")
		data = r.Body
	}

	if key == "" {
		writeError(w, http.StatusBadRequest, "validation", "file MD5 required")
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "validation", "chunk index must be a non-negative integer")
		return
	}
	total := -1
	if totalStr != "" {
		total, err = strconv.Atoi(totalStr)
		if err != nil || total <= 0 {
			writeError(w, http.StatusBadRequest, "validation", "total chunks must be a positive integer")
			return
		}
	}

	res, err := h.asm.AcceptChunk(key, index, total, filename, data)
	if err != nil {
		status, kind := uploadErrStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}

	if res.SessionCreated && h.queue != nil {
		payload := queue.SessionSweepPayload{ContentKey: key}
		if err := h.queue.EnqueueSessionSweep(payload, h.sessionTTL); err != nil {
			slog.Warn("failed to schedule session sweep", "content_key", key, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"chunk_index": res.ChunkIndex,
		"filename":    filename,
		"bytes":       res.BytesWritten,
	})
}

type mergeRequest struct {
	FileMd5  string `json:"fileMd5"`
	Filename string `json:"filename"`
	Cleanup  *bool  `json:"cleanup"`
}

// Merge handles POST /v1/audio/merge: reassemble the session's chunks,
// transcribe the artifact and return the verbose JSON result. Cleanup
// defaults to true and never fails the request once the transcription is in
// hand.
func (h *AudioHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.FileMd5 == "" {
		writeError(w, http.StatusBadRequest, "validation", "fileMd5 required")
		return
	}
	cleanup := true
	if req.Cleanup != nil {
		cleanup = *req.Cleanup
	}

	merged, err := h.asm.Merge(req.FileMd5, req.Filename)
	if err != nil {
		status, kind := uploadErrStatus(err)
		writeError(w, status, kind, err.Error())
		return
	}
	slog.Info("merged upload session", "content_key", req.FileMd5, "chunks", merged.Chunks, "bytes", merged.Bytes)

	res, terr := h.gw.Transcribe(r.Context(), transcribe.Request{
		Path:     merged.Path,
		CacheKey: req.FileMd5,
		Endpoint: "/v1/audio/merge",
		Format:   "verbose_json",
	})

	if cleanup {
		if cerr := h.asm.Cleanup(req.FileMd5); cerr != nil {
			slog.Warn("post-merge cleanup incomplete", "content_key", req.FileMd5, "error", cerr)
		}
	}

	if terr != nil {
		writeTranscriptionError(w, terr)
		return
	}
	writeJSON(w, http.StatusOK, format.Verbose(res))
}

type fromURLRequest struct {
	URL            string            `json:"url"`
	Filename       string            `json:"filename"`
	ResponseFormat string            `json:"response_format"`
	Prompt         string            `json:"prompt"`
	Headers        map[string]string `json:"headers"`
}

// FromURL handles POST /v1/audio/from_url: download a remote resource into
// local staging, transcribe it and respond per response_format. The local
// copy lives exactly as long as this request.
func (h *AudioHandler) FromURL(w http.ResponseWriter, r *http.Request) {
	var req fromURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "validation", "url required")
		return
	}
	respFormat := req.ResponseFormat
	if respFormat == "" {
		respFormat = "json"
	}
	if !responseFormats[respFormat] {
		writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("unsupported response_format %q", respFormat))
		return
	}

	localPath, err := h.fetcher.Fetch(r.Context(), req.URL, req.Headers, req.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "fetch_error", err.Error())
		return
	}
	defer os.Remove(localPath)

	res, err := h.gw.Transcribe(r.Context(), transcribe.Request{
		Path:     localPath,
		Hotword:  req.Prompt,
		Endpoint: "/v1/audio/from_url",
		Format:   respFormat,
	})
	if err != nil {
		writeTranscriptionError(w, err)
		return
	}

	writeFormatted(w, res, respFormat)
}

func writeFormatted(w http.ResponseWriter, res *asr.Result, respFormat string) {
	switch respFormat {
	case "verbose_json":
		writeJSON(w, http.StatusOK, format.Verbose(res))
	case "text":
		writePlainText(w, format.Text(res))
	case "srt":
		writePlainText(w, format.SRT(res))
	case "vtt":
		writePlainText(w, format.VTT(res))
	default:
		writeJSON(w, http.StatusOK, format.Simple(res))
	}
}

func writeTranscriptionError(w http.ResponseWriter, err error) {
	kind := "recognition_failure"
	if errors.Is(err, transcribe.ErrRecognitionTimeout) {
		kind = "recognition_timeout"
	}
	writeError(w, http.StatusInternalServerError, kind,
		fmt.Sprintf("An error occurred during transcription: %s", err))
}

func uploadErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrInvalidKey):
		return http.StatusBadRequest, "invalid_key"
	case errors.Is(err, upload.ErrInvalidIndex):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, upload.ErrSessionNotFound):
		return http.StatusBadRequest, "session_not_found"
	case errors.Is(err, upload.ErrNoChunks):
		return http.StatusBadRequest, "no_chunks"
	case errors.Is(err, upload.ErrIncompleteUpload):
		return http.StatusBadRequest, "incomplete_upload"
	case errors.Is(err, upload.ErrInconsistentTotal):
		return http.StatusBadRequest, "inconsistent_total"
	default:
		return http.StatusInternalServerError, "processing"
	}
}

// saveUpload spools a multipart part to its own temp file so the recognizer
// can read it by path.
func saveUpload(src io.Reader, name string) (string, error) {
	name = filepath.Base(name)
	if name == "" || name == "." {
		name = "audio"
	}
	dst := filepath.Join(os.TempDir(), uuid.NewString()+"_"+name)
	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("save upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return dst, nil
}
