// Package chat turns a user message plus the session history into a
// model reply.
package chat

import (
	"context"
	"fmt"

	openai "github.com/openai/openai-go/v3"

	"parley/internal/memory"
)

const persona = "You are a nice chatbot having a conversation with a human. Give simple answers no list or long sentences."

// UpstreamError reports a failed or unusable language-model call.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "upstream model: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// Completer performs one chat completion over an ordered message list.
type Completer interface {
	Complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error)
}

// OpenAICompleter is the production Completer backed by the OpenAI API.
type OpenAICompleter struct {
	Client openai.Client
	Model  openai.ChatModel
}

func (c *OpenAICompleter) Complete(ctx context.Context, msgs []openai.ChatCompletionMessageParamUnion) (string, error) {
	resp, err := c.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    c.Model,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", fmt.Errorf("empty message content")
	}
	return content, nil
}

// Responder generates replies and maintains the session history.
type Responder struct {
	completer Completer
}

func NewResponder(c Completer) *Responder {
	return &Responder{completer: c}
}

// Reply builds the request as persona + full ordered history + the new
// user message, calls the model, and on success appends the exchange to
// the session. A failed call appends nothing, so unanswered prompts
// never pollute the history.
func (r *Responder) Reply(ctx context.Context, sess *memory.Session, userText string) (string, error) {
	history := sess.History()

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	msgs = append(msgs, openai.SystemMessage(persona))
	for _, t := range history {
		switch t.Role {
		case memory.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Text))
		default:
			msgs = append(msgs, openai.UserMessage(t.Text))
		}
	}
	msgs = append(msgs, openai.UserMessage(userText))

	reply, err := r.completer.Complete(ctx, msgs)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}

	sess.AppendExchange(userText, reply)
	return reply, nil
}
