package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/speechd/asr-gateway/internal/asr"
	"github.com/speechd/asr-gateway/internal/config"
)

const testAPIKey = "test-secret"

// echoRecognizer stands in for the external pipeline: the transcription is
// the file's own bytes, so tests can assert on reassembly byte-exactness.
type echoRecognizer struct {
	calls int
}

func (e *echoRecognizer) Name() string { return "echo" }

func (e *echoRecognizer) Transcribe(ctx context.Context, path, hotword string) (*asr.Result, error) {
	e.calls++
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &asr.Result{
		Text:      string(data),
		Sentences: []asr.Sentence{{StartMS: 0, EndMS: 1500, Text: string(data)}},
	}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *echoRecognizer, string) {
	t.Helper()
	stagingRoot := t.TempDir()
	cfg := &config.Config{
		Auth:   config.AuthConfig{APIKey: testAPIKey},
		Upload: config.UploadConfig{StagingRoot: stagingRoot, SessionTTL: time.Hour},
		ASR:    config.ASRConfig{Timeout: 5 * time.Second, CacheTTL: time.Minute},
	}
	rec := &echoRecognizer{}
	srv := httptest.NewServer(NewRouter(nil, nil, cfg, rec).Setup())
	t.Cleanup(srv.Close)
	return srv, rec, stagingRoot
}

func doJSON(t *testing.T, srv *httptest.Server, path string, body interface{}, token string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest("POST", srv.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func uploadChunkRaw(t *testing.T, srv *httptest.Server, key string, index int, total, filename, payload string) *http.Response {
	t.Helper()
	req, err := http.NewRequest("POST", srv.URL+"/v1/audio/chunk", strings.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	req.Header.Set("upload-file-md5", key)
	req.Header.Set("upload-chunk-index", fmt.Sprint(index))
	if total != "" {
		req.Header.Set("upload-total-chunks", total)
	}
	if filename != "" {
		req.Header.Set("upload-filename", filename)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestAuthRejectsWrongTokenWithoutSideEffects(t *testing.T) {
	srv, rec, stagingRoot := newTestServer(t)

	req, err := http.NewRequest("POST", srv.URL+"/v1/audio/chunk", strings.NewReader("data"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong-token")
	req.Header.Set("upload-file-md5", "abc123")
	req.Header.Set("upload-chunk-index", "0")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Detail)

	_, statErr := os.Stat(filepath.Join(stagingRoot, "chunks"))
	require.True(t, os.IsNotExist(statErr), "no chunk may be written for an unauthorized request")
	require.Zero(t, rec.calls, "no transcription may be invoked for an unauthorized request")
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/v1/audio/merge", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestChunkUploadMergeFlow(t *testing.T) {
	srv, _, stagingRoot := newTestServer(t)
	key := "d41d8cd98f00b204e9800998ecf8427e"

	// Chunks arrive out of order.
	for _, c := range []struct {
		index   int
		payload string
	}{{2, "gamma"}, {0, "alpha"}, {1, "beta"}} {
		resp := uploadChunkRaw(t, srv, key, c.index, "3", "speech.wav", c.payload)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var ack struct {
			Status     string `json:"status"`
			ChunkIndex int    `json:"chunk_index"`
			Filename   string `json:"filename"`
			Bytes      int64  `json:"bytes"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		resp.Body.Close()
		require.Equal(t, "ok", ack.Status)
		require.Equal(t, c.index, ack.ChunkIndex)
		require.Equal(t, int64(len(c.payload)), ack.Bytes)
	}

	resp := doJSON(t, srv, "/v1/audio/merge", map[string]interface{}{"fileMd5": key}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var verbose struct {
		Text     string `json:"text"`
		Language string `json:"language"`
		Segments []struct {
			ID    int     `json:"id"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"segments"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&verbose))
	require.Equal(t, "alphabetagamma", verbose.Text, "merge must reassemble in index order")
	require.Len(t, verbose.Segments, 1)
	require.Equal(t, 1.5, verbose.Segments[0].End)

	// Cleanup defaults to true: the staging area is gone.
	_, statErr := os.Stat(filepath.Join(stagingRoot, "chunks", key))
	require.True(t, os.IsNotExist(statErr))
}

func TestChunkUploadMultipartFallback(t *testing.T) {
	srv, _, _ := newTestServer(t)
	key := "feedfacefeedfacefeedfacefeedface"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "blob")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "only-chunk")
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("fileMd5", key))
	require.NoError(t, mw.WriteField("chunkIndex", "0"))
	require.NoError(t, mw.WriteField("filename", "solo.wav"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", srv.URL+"/v1/audio/chunk", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testAPIKey)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp := doJSON(t, srv, "/v1/audio/merge", map[string]interface{}{"fileMd5": key}, testAPIKey)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusOK, mresp.StatusCode)

	var verbose struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.NewDecoder(mresp.Body).Decode(&verbose))
	require.Equal(t, "only-chunk", verbose.Text)
}

func TestChunkRejectsTraversalKey(t *testing.T) {
	srv, _, stagingRoot := newTestServer(t)

	resp := uploadChunkRaw(t, srv, "../evil", 0, "", "", "data")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "invalid_key", body.Error.Kind)

	_, statErr := os.Stat(filepath.Join(stagingRoot, "chunks"))
	require.True(t, os.IsNotExist(statErr))
}

func TestChunkRejectsBadIndex(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := uploadChunkRaw(t, srv, "abc123", -1, "", "", "data")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChunkRejectsInconsistentTotal(t *testing.T) {
	srv, _, _ := newTestServer(t)
	key := "cafebabecafebabecafebabecafebabe"

	resp := uploadChunkRaw(t, srv, key, 0, "3", "", "a")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = uploadChunkRaw(t, srv, key, 1, "5", "", "b")
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "inconsistent_total", body.Error.Kind)
}

func TestMergeUnknownSession(t *testing.T) {
	srv, rec, _ := newTestServer(t)

	resp := doJSON(t, srv, "/v1/audio/merge", map[string]interface{}{"fileMd5": "neverseen"}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Zero(t, rec.calls)
}

func TestMergeIncompleteUpload(t *testing.T) {
	srv, rec, _ := newTestServer(t)
	key := "0123456789abcdef0123456789abcdef"

	resp := uploadChunkRaw(t, srv, key, 0, "2", "", "half")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp := doJSON(t, srv, "/v1/audio/merge", map[string]interface{}{"fileMd5": key}, testAPIKey)
	defer mresp.Body.Close()
	require.Equal(t, http.StatusBadRequest, mresp.StatusCode)
	require.Zero(t, rec.calls, "a premature merge must not reach the recognizer")
}

func TestTranscriptionsEndpointFormats(t *testing.T) {
	srv, _, _ := newTestServer(t)

	post := func(respFormat string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "take.wav")
		require.NoError(t, err)
		_, err = io.WriteString(fw, "spoken words")
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("model", "paraformer"))
		if respFormat != "" {
			require.NoError(t, mw.WriteField("response_format", respFormat))
		}
		require.NoError(t, mw.Close())

		req, err := http.NewRequest("POST", srv.URL+"/v1/audio/transcriptions", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+testAPIKey)
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		return resp
	}

	// default json
	resp := post("")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var simple struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&simple))
	resp.Body.Close()
	require.Equal(t, "spoken words", simple.Text)

	// text
	resp = post("text")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "spoken words", string(body))

	// srt
	resp = post("srt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "1\n00:00:00,000 --> 00:00:01,500\nspoken words\n")

	// vtt
	resp = post("vtt")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(body), "WEBVTT\n"))

	// unknown format
	resp = post("yaml")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTranscriptionsRequiresModel(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "take.wav")
	require.NoError(t, err)
	_, err = io.WriteString(fw, "x")
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", srv.URL+"/v1/audio/transcriptions", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFromURL(t *testing.T) {
	srv, _, _ := newTestServer(t)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote speech"))
	}))
	defer remote.Close()

	resp := doJSON(t, srv, "/v1/audio/from_url", map[string]interface{}{
		"url":             remote.URL + "/ep.wav",
		"response_format": "text",
	}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "remote speech", string(body))
}

func TestFromURLFetchError(t *testing.T) {
	srv, rec, _ := newTestServer(t)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer remote.Close()

	resp := doJSON(t, srv, "/v1/audio/from_url", map[string]interface{}{"url": remote.URL}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "fetch_error", body.Error.Kind)
	require.Zero(t, rec.calls)
}

func TestFromURLRequiresURL(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := doJSON(t, srv, "/v1/audio/from_url", map[string]interface{}{}, testAPIKey)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthzIsOpen(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
