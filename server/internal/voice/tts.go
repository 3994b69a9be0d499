package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/intellimonitor/intellimonitor/server/internal/config"
)

const maxAudioBytes = 8 << 20

// TTS turns text into playable audio bytes.
type TTS interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// SpeechError wraps any failure to obtain or play speech.
type SpeechError struct {
	Op  string // "request" | "play"
	Err error
}

func (e *SpeechError) Error() string { return fmt.Sprintf("voice: %s: %v", e.Op, e.Err) }

func (e *SpeechError) Unwrap() error { return e.Err }

// HTTPTTS posts {"text","locale"} to a speech endpoint and returns the
// response body as audio.
type HTTPTTS struct {
	client  *http.Client
	limiter *rate.Limiter

	mu     sync.RWMutex
	url    string
	key    string
	locale string
}

// NewHTTPTTS builds a client from the voice configuration.
func NewHTTPTTS(cfg config.VoiceConfig) *HTTPTTS {
	c := &HTTPTTS{
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(requestLimit(cfg), 1),
	}
	c.Update(cfg)
	return c
}

func requestLimit(cfg config.VoiceConfig) rate.Limit {
	if cfg.RequestsPerSecond > 0 {
		return rate.Limit(cfg.RequestsPerSecond)
	}
	return rate.Inf
}

// Update applies a reloaded voice configuration. Requests already sent keep
// the settings they started with.
func (c *HTTPTTS) Update(cfg config.VoiceConfig) {
	c.mu.Lock()
	c.url, c.key, c.locale = cfg.TTSURL, cfg.TTSKey(), cfg.Locale
	c.mu.Unlock()
	c.limiter.SetLimit(requestLimit(cfg))
}

func (c *HTTPTTS) Speak(ctx context.Context, text string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &SpeechError{Op: "request", Err: err}
	}

	c.mu.RLock()
	url, key, locale := c.url, c.key, c.locale
	c.mu.RUnlock()

	body, _ := json.Marshal(map[string]string{"text": text, "locale": locale})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &SpeechError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/*")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SpeechError{Op: "request", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &SpeechError{Op: "request", Err: fmt.Errorf("tts returned HTTP %d", resp.StatusCode)}
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, &SpeechError{Op: "request", Err: err}
	}
	if len(audio) == 0 {
		return nil, &SpeechError{Op: "request", Err: fmt.Errorf("tts returned no audio")}
	}
	return audio, nil
}
