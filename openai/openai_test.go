package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room4-2/senserelay/analysis"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithBaseURL(srv.URL + "/"), WithMaxRetries(0)}, opts...)
	c, err := New("test-key", opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestDescribeImage(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4.1-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"a calm office desk with a laptop"}}]}`)
	})

	desc, err := c.DescribeImage(context.Background(), "QUJD")
	require.NoError(t, err)
	assert.Equal(t, "a calm office desk with a laptop", desc)

	assert.Equal(t, "gpt-4.1-mini", body["model"])
	assert.EqualValues(t, analysis.MaxDescriptionTokens, body["max_tokens"])
	assert.InDelta(t, analysis.Temperature, body["temperature"], 1e-9)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, analysis.VisionPrompt, parts[0].(map[string]any)["text"])
	img := parts[1].(map[string]any)["image_url"].(map[string]any)
	assert.Equal(t, "data:image/jpeg;base64,QUJD", img["url"])
	assert.Equal(t, "low", img["detail"])
}

func TestDescribeImage_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := c.DescribeImage(context.Background(), "QUJD")
	require.Error(t, err)
}

func TestTranscribeFile(t *testing.T) {
	fields := map[string]string{}
	var fileName string
	var fileBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		fileName = hdr.Filename
		fileBody, _ = io.ReadAll(f)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"hello from whisper","language":"english","duration":1.5,"segments":[]}`)
	})

	path := filepath.Join(t.TempDir(), "audio_123.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	text, err := c.TranscribeFile(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "hello from whisper", text)

	assert.Equal(t, "whisper-1", fields["model"])
	assert.Equal(t, "en", fields["language"])
	assert.Equal(t, "verbose_json", fields["response_format"])
	assert.Equal(t, "0", strings.TrimSuffix(fields["temperature"], ".0"))
	assert.Equal(t, "audio_123.wav", fileName)
	assert.Equal(t, []byte("RIFFdata"), fileBody)
}

func TestTranscribeFile_Language(t *testing.T) {
	var language string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		language = r.FormValue("language")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"bonjour"}`)
	}, WithLanguage("fr"))

	path := filepath.Join(t.TempDir(), "audio_456.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFdata"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	text, err := c.TranscribeFile(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", text)
	assert.Equal(t, "fr", language)
}

func TestPing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"whisper-1","object":"model","created":1,"owned_by":"openai"}]}`)
	})
	require.NoError(t, c.Ping(context.Background()))
}
