package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// XTTS talks to a Coqui XTTS v2 server that clones the voice of a
// reference sample.
type XTTS struct {
	BaseURL    string
	SpeakerWav string
	Language   string
	Client     *http.Client
}

func NewXTTS(baseURL, speakerWav, language string, timeout time.Duration) *XTTS {
	return &XTTS{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		SpeakerWav: speakerWav,
		Language:   language,
		Client:     &http.Client{Timeout: timeout},
	}
}

func (x *XTTS) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	sample, err := os.Open(x.SpeakerWav)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSampleMissing, x.SpeakerWav)
	}
	defer sample.Close()

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if err := mw.WriteField("text", text); err != nil {
		return err
	}
	if err := mw.WriteField("language", x.Language); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("speaker_wav", filepath.Base(x.SpeakerWav))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, sample); err != nil {
		return fmt.Errorf("read speaker sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.BaseURL+"/api/tts", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := x.Client.Do(req)
	if err != nil {
		return fmt.Errorf("xtts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("xtts returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if dir := filepath.Dir(outPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("write %s: %w", outPath, err)
	}
	return out.Close()
}
