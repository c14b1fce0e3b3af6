package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
)

// Synthesizer renders reply text to audio with a fixed ElevenLabs voice
// and model. The underlying client carries its own request timeout, so
// the context parameter exists only to satisfy the pipeline contract.
type Synthesizer struct {
	client  *elevenlabs.Client
	voiceID string
	modelID string
}

func NewSynthesizer(apiKey, voiceID, modelID string, timeout time.Duration) *Synthesizer {
	return &Synthesizer{
		client:  elevenlabs.NewClient(context.Background(), apiKey, timeout),
		voiceID: voiceID,
		modelID: modelID,
	}
}

// Synthesize returns the spoken audio as mp3 bytes.
func (s *Synthesizer) Synthesize(_ context.Context, text string) ([]byte, error) {
	audio, err := s.client.TextToSpeech(s.voiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: s.modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("text to speech: %w", err)
	}
	return audio, nil
}
