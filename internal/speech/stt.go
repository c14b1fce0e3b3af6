// Package speech wraps the speech-to-text and text-to-speech providers.
package speech

import (
	"context"
	"fmt"
	"os"

	openai "github.com/openai/openai-go/v3"
)

// Transcriber turns a local audio file into text via the OpenAI
// transcription endpoint. Telegram's ogg/opus voice notes are accepted
// as-is, no prior conversion needed.
type Transcriber struct {
	client openai.Client
	model  openai.AudioModel
}

func NewTranscriber(client openai.Client) *Transcriber {
	return &Transcriber{client: client, model: openai.AudioModelWhisper1}
}

func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  f,
		Model: t.model,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}
