package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/recall/ai"
	"github.com/poiesic/recall/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(host string) *ai.Config {
	cfg := ai.NewConfig(ai.WithHost(host), ai.WithRetries(3, time.Millisecond))
	cfg.RequestsPerSecond = 0
	return cfg
}

func TestTranscriber(t *testing.T) {
	t.Run("posts multipart form and returns transcript", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
			assert.Equal(t, "Bearer none", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "whisper-1", r.FormValue("model"))
			assert.Equal(t, "text", r.FormValue("response_format"))
			assert.Equal(t, "clinical vocabulary", r.FormValue("prompt"))

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			data, _ := io.ReadAll(file)
			assert.Equal(t, "memo.mp3", header.Filename)
			assert.Equal(t, []byte{1, 2, 3}, data)

			_, _ = io.WriteString(w, "  patient reports chest pain \n")
		}))
		defer srv.Close()

		tr, err := NewTranscriber(testConfig(srv.URL))
		require.NoError(t, err)

		text, err := tr.Transcribe(context.Background(), []byte{1, 2, 3}, "/tmp/memo.mp3", "clinical vocabulary")
		require.NoError(t, err)
		assert.Equal(t, "patient reports chest pain", text)
	})

	t.Run("retries server errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				http.Error(w, "busy", http.StatusServiceUnavailable)
				return
			}
			_, _ = io.WriteString(w, "ok")
		}))
		defer srv.Close()

		tr, err := NewTranscriber(testConfig(srv.URL))
		require.NoError(t, err)

		text, err := tr.Transcribe(context.Background(), []byte{1}, "a.wav", "")
		require.NoError(t, err)
		assert.Equal(t, "ok", text)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "unsupported format", http.StatusBadRequest)
		}))
		defer srv.Close()

		tr, err := NewTranscriber(testConfig(srv.URL))
		require.NoError(t, err)

		_, err = tr.Transcribe(context.Background(), []byte{1}, "a.wav", "")
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrExternalService)
		assert.Contains(t, err.Error(), "unsupported format")
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abc", 2))
	assert.Equal(t, "éé", truncateRunes("ééé", 2))
	assert.Equal(t, "abc", truncateRunes("abc", 0))
}
