package transcription

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"voxreview.app/relay/common/llm"
	"voxreview.app/relay/core/config"
)

const whisperModel = "whisper-1"

var (
	ErrTimeout     = errors.New("transcription timed out")
	ErrUnavailable = errors.New("transcription service unavailable")
	ErrNoSpeech    = errors.New("no speech recognised")
)

// Transcriber turns recorded audio into text plus a 0..1 confidence.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, lang string) (string, float64, error)
}

type openaiTranscriber struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAI(cfg config.TranscriptionConfig) Transcriber {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = whisperModel
	}
	return &openaiTranscriber{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
	}
}

func (t *openaiTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (string, float64, error) {
	if len(audio) == 0 {
		return "", 0, ErrNoSpeech
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), "utterance.webm", "audio/webm"),
		Model: openai.AudioModel(t.model),
	}
	if lang != "" {
		params.Language = openai.String(lang)
	}
	// whisper-1 has no token logprobs; newer models do.
	withLogprobs := t.model != whisperModel
	if withLogprobs {
		params.Include = []openai.TranscriptionInclude{openai.TranscriptionIncludeLogprobs}
	}

	start := time.Now()
	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		if llm.IsTimeout(err) {
			return "", 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	slog.DebugContext(ctx, "audio transcribed",
		"model", t.model,
		"bytes", len(audio),
		"duration_ms", time.Since(start).Milliseconds())

	if resp.Text == "" {
		return "", 0, ErrNoSpeech
	}

	confidence := 1.0
	if withLogprobs && len(resp.Logprobs) > 0 {
		logprobs := make([]float64, 0, len(resp.Logprobs))
		for _, lp := range resp.Logprobs {
			logprobs = append(logprobs, lp.Logprob)
		}
		confidence = Confidence(logprobs)
	}
	return resp.Text, confidence, nil
}

// Confidence is the geometric mean token probability.
func Confidence(logprobs []float64) float64 {
	if len(logprobs) == 0 {
		return 0
	}
	var sum float64
	for _, lp := range logprobs {
		sum += lp
	}
	return math.Exp(sum / float64(len(logprobs)))
}
