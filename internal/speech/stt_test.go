package speech_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/speech"
)

func TestTranscribeSendsAudioAndReturnsText(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		f.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"bonjour"}`))
	}))
	defer srv.Close()

	client := openai.NewClient(
		option.WithAPIKey("test"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)

	path := filepath.Join(t.TempDir(), "in.oga")
	require.NoError(t, os.WriteFile(path, []byte("OggS fake"), 0o600))

	text, err := speech.NewTranscriber(client).Transcribe(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", text)
}

func TestTranscribeMissingFile(t *testing.T) {
	t.Parallel()
	client := openai.NewClient(option.WithAPIKey("test"))

	_, err := speech.NewTranscriber(client).Transcribe(context.Background(), "/does/not/exist.oga")
	assert.Error(t, err)
}
