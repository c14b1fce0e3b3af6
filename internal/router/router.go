// Package router classifies inbound updates and hands them to the text
// or voice path. Each chat gets its own worker goroutine, so messages
// within one chat run serially in arrival order while distinct chats
// proceed in parallel.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"parley/internal/memory"
	"parley/internal/pipeline"
	"parley/internal/telegram"
)

const apology = "Sorry, something went wrong on my side. Please try that again."

// Transport is the outbound slice of the Telegram client the router needs.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
}

type Replier interface {
	Reply(ctx context.Context, sess *memory.Session, userText string) (string, error)
}

// VoiceRunner runs the voice pipeline for one voice message.
type VoiceRunner interface {
	Run(ctx context.Context, sess *memory.Session, chatID int64, fileID string) error
}

type Config struct {
	Transport Transport
	Replier   Replier
	Voice     VoiceRunner
	Store     *memory.Store

	// ReplyTimeout bounds the text reply path. Defaults to 60s. Voice
	// jobs carry per-stage timeouts of their own.
	ReplyTimeout time.Duration
	// QueueSize is the per-chat job buffer. Defaults to 16.
	QueueSize int
}

type Router struct {
	cfg Config

	mu      sync.Mutex
	workers map[int64]chan job
}

type job struct {
	chatID      int64
	text        string
	voiceFileID string
}

func New(cfg Config) *Router {
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Router{cfg: cfg, workers: make(map[int64]chan job)}
}

// Dispatch routes one update. Commands are handled inline; text and
// voice messages are queued on the chat's worker. Everything else
// (stickers, photos, edits) is ignored.
func (r *Router) Dispatch(u telegram.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	if msg.From != nil && msg.From.IsBot {
		return
	}
	chatID := msg.Chat.ID

	switch {
	case msg.Voice != nil:
		r.enqueue(job{chatID: chatID, voiceFileID: msg.Voice.FileID})
	case msg.Text != "":
		if strings.HasPrefix(msg.Text, "/") {
			r.command(chatID, msg.Text)
			return
		}
		r.enqueue(job{chatID: chatID, text: msg.Text})
	}
}

// command handles the few slash commands the bot answers. Commands are
// deliberately kept away from the reply generator and the voice
// pipeline, so they never touch conversation history (except /reset,
// which clears it).
func (r *Router) command(chatID int64, text string) {
	cmd := strings.Fields(text)[0]
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at] // strip the @botname suffix used in groups
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReplyTimeout)
	defer cancel()

	switch cmd {
	case "/reset":
		r.cfg.Store.Get(chatID).Reset()
		r.send(ctx, chatID, "Conversation history cleared.")
	case "/start", "/help":
		r.send(ctx, chatID, "Send me a text or voice message and I will answer in kind.")
	default:
		slog.Debug("ignoring command", "chat", chatID, "cmd", cmd)
	}
}

func (r *Router) enqueue(j job) {
	r.mu.Lock()
	w, ok := r.workers[j.chatID]
	if !ok {
		w = make(chan job, r.cfg.QueueSize)
		r.workers[j.chatID] = w
		go r.work(w)
	}
	r.mu.Unlock()

	select {
	case w <- j:
	default:
		slog.Warn("chat queue full, dropping message", "chat", j.chatID)
	}
}

func (r *Router) work(jobs <-chan job) {
	for j := range jobs {
		r.handle(j)
	}
}

// handle runs one job. A panic here must not take the process down, nor
// stall other chats.
func (r *Router) handle(j job) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message handler panic", "chat", j.chatID, "panic", rec)
		}
	}()

	sess := r.cfg.Store.Get(j.chatID)
	if j.voiceFileID != "" {
		r.handleVoice(sess, j)
		return
	}
	r.handleText(sess, j)
}

func (r *Router) handleText(sess *memory.Session, j job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReplyTimeout)
	defer cancel()

	if err := r.cfg.Transport.SendChatAction(ctx, j.chatID, "typing"); err != nil {
		slog.Debug("chat action failed", "chat", j.chatID, "err", err)
	}

	reply, err := r.cfg.Replier.Reply(ctx, sess, j.text)
	if err != nil {
		slog.Error("text reply failed", "chat", j.chatID, "err", err)
		r.send(ctx, j.chatID, apology)
		return
	}
	r.send(ctx, j.chatID, reply)
}

func (r *Router) handleVoice(sess *memory.Session, j job) {
	ctx := context.Background()

	if err := r.cfg.Transport.SendChatAction(ctx, j.chatID, "record_voice"); err != nil {
		slog.Debug("chat action failed", "chat", j.chatID, "err", err)
	}

	if err := r.cfg.Voice.Run(ctx, sess, j.chatID, j.voiceFileID); err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) {
			slog.Error("voice job failed", "chat", j.chatID, "stage", se.Stage, "err", se.Err)
		} else {
			slog.Error("voice job failed", "chat", j.chatID, "err", err)
		}
		sendCtx, cancel := context.WithTimeout(ctx, r.cfg.ReplyTimeout)
		defer cancel()
		r.send(sendCtx, j.chatID, apology)
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string) {
	if err := r.cfg.Transport.SendMessage(ctx, chatID, text); err != nil {
		slog.Error("send failed", "chat", chatID, "err", err)
	}
}
