// Package speech transcribes voice notes with Google Cloud Speech-to-Text.
package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	speechapi "google.golang.org/api/speech/v1p1beta1"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// ErrNoSpeech is returned when the audio produced no transcript.
var ErrNoSpeech = errors.New("no speech recognized")

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// GoogleTranscriber calls the v1p1beta1 recognize endpoint.
type GoogleTranscriber struct {
	svc *speechapi.Service
	cfg config.SpeechConfig
	log *logging.Logger
}

// NewGoogleTranscriber builds a client authenticated by access token when
// one is configured, otherwise by API key.
func NewGoogleTranscriber(ctx context.Context, cfg config.SpeechConfig, log *logging.Logger, extra ...option.ClientOption) (*GoogleTranscriber, error) {
	var opts []option.ClientOption
	switch {
	case cfg.AccessToken != "":
		opts = append(opts, option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, errors.New("speech: apiKey or accessToken is required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := speechapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating speech service: %w", err)
	}
	return &GoogleTranscriber{svc: svc, cfg: cfg, log: log.Sub("speech")}, nil
}

// Transcribe returns the concatenated best alternatives for audio.
func (g *GoogleTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	req := &speechapi.RecognizeRequest{
		Config: &speechapi.RecognitionConfig{
			Encoding:        g.cfg.Encoding,
			SampleRateHertz: g.cfg.SampleRateHertz,
			LanguageCode:    g.cfg.LanguageCode,
		},
		Audio: &speechapi.RecognitionAudio{
			Content: base64.StdEncoding.EncodeToString(audio),
		},
	}

	resp, err := g.svc.Speech.Recognize(req).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var parts []string
	for _, r := range resp.Results {
		if len(r.Alternatives) > 0 && r.Alternatives[0].Transcript != "" {
			parts = append(parts, strings.TrimSpace(r.Alternatives[0].Transcript))
		}
	}
	if len(parts) == 0 {
		return "", ErrNoSpeech
	}
	text := strings.Join(parts, "\n")
	g.log.Debug().Int("bytes", len(audio)).Int("chars", len(text)).Msg("audio transcribed")
	return text, nil
}
