package tts

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXTTSSynthesize(t *testing.T) {
	dir := t.TempDir()
	sample := filepath.Join(dir, "voice.wav")
	require.NoError(t, os.WriteFile(sample, []byte("RIFFsample"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "Halo, saya Kina.", r.FormValue("text"))
		assert.Equal(t, "id", r.FormValue("language"))

		f, hdr, err := r.FormFile("speaker_wav")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		assert.Equal(t, "voice.wav", hdr.Filename)
		b, _ := io.ReadAll(f)
		assert.Equal(t, "RIFFsample", string(b))

		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFspeech"))
	}))
	defer srv.Close()

	x := NewXTTS(srv.URL+"/", sample, "id", time.Second)
	out := filepath.Join(dir, "outputs", "reply.wav")
	require.NoError(t, x.Synthesize(t.Context(), "Halo, saya Kina.", out))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "RIFFspeech", string(b))
}

func TestXTTSSampleMissing(t *testing.T) {
	x := NewXTTS("http://127.0.0.1:1", filepath.Join(t.TempDir(), "nope.wav"), "en", time.Second)
	err := x.Synthesize(t.Context(), "hello", filepath.Join(t.TempDir(), "o.wav"))
	assert.ErrorIs(t, err, ErrSampleMissing)
}

func TestXTTSServerError(t *testing.T) {
	sample := filepath.Join(t.TempDir(), "voice.wav")
	require.NoError(t, os.WriteFile(sample, []byte("x"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "cuda out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "o.wav")
	err := NewXTTS(srv.URL, sample, "en", time.Second).Synthesize(t.Context(), "hello", out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cuda out of memory")
	assert.NoFileExists(t, out)
}

func TestEspeakArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-w", "/tmp/o.wav", "-v", "id", "-s", "160", "--", "-halo"},
		Espeak{Voice: "id", Speed: 160}.args("-halo", "/tmp/o.wav"))
}

type synthFunc func(ctx context.Context, text, out string) error

func (f synthFunc) Synthesize(ctx context.Context, text, out string) error { return f(ctx, text, out) }

func TestFallback(t *testing.T) {
	var used []string
	primary := synthFunc(func(context.Context, string, string) error {
		used = append(used, "primary")
		return errors.New("down")
	})
	secondary := synthFunc(func(context.Context, string, string) error {
		used = append(used, "secondary")
		return nil
	})

	require.NoError(t, Fallback{Primary: primary, Secondary: secondary}.Synthesize(t.Context(), "hi", "o.wav"))
	assert.Equal(t, []string{"primary", "secondary"}, used)

	used = nil
	empty := synthFunc(func(context.Context, string, string) error {
		used = append(used, "primary")
		return ErrEmptyText
	})
	assert.ErrorIs(t, Fallback{Primary: empty, Secondary: secondary}.Synthesize(t.Context(), "", "o.wav"), ErrEmptyText)
	assert.Equal(t, []string{"primary"}, used)
}
