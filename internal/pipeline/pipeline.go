// Package pipeline drives one voice message end to end: download the
// attachment, transcribe it, generate a reply through the shared
// conversation, synthesize the reply, transcode it for Telegram and
// send it back. Every local artifact is removed when the job ends,
// whether it succeeded or died at any stage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"parley/internal/memory"
)

type Transport interface {
	DownloadVoice(ctx context.Context, fileID, dst string) error
	SendVoice(ctx context.Context, chatID int64, path string, duration time.Duration) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type Replier interface {
	Reply(ctx context.Context, sess *memory.Session, userText string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type Transcoder interface {
	Transcode(ctx context.Context, src, dst string) error
}

type Config struct {
	Transport   Transport
	Transcriber Transcriber
	Replier     Replier
	Synthesizer Synthesizer
	Transcoder  Transcoder

	// TempDir holds per-job scratch files. Defaults to os.TempDir().
	TempDir string
	// StageTimeout bounds each upstream call. Defaults to 60s.
	StageTimeout time.Duration
	// Probe reports the duration of the synthesized mp3 for the voice
	// note hint. Optional; probe failures are ignored.
	Probe func(path string) (time.Duration, error)
}

type Pipeline struct {
	cfg Config
}

func New(cfg Config) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 60 * time.Second
	}
	return &Pipeline{cfg: cfg}
}

// job is the ephemeral unit of work for one voice message. File names
// carry a fresh uuid so concurrent jobs never collide.
type job struct {
	id        string
	voiceIn   string // downloaded ogg/opus attachment
	speechMP3 string // synthesized reply, mp3
	voiceOut  string // transcoded reply, ogg/opus
}

func newJob(dir string) *job {
	id := uuid.NewString()
	return &job{
		id:        id,
		voiceIn:   filepath.Join(dir, "parley-"+id+".oga"),
		speechMP3: filepath.Join(dir, "parley-"+id+".mp3"),
		voiceOut:  filepath.Join(dir, "parley-"+id+".ogg"),
	}
}

// cleanup removes every artifact the job may have created. Idempotent:
// files a failed run never produced are skipped silently.
func (j *job) cleanup() {
	for _, p := range []string{j.voiceIn, j.speechMP3, j.voiceOut} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("temp file cleanup failed", "job", j.id, "path", p, "err", err)
		}
	}
}

// Run executes the pipeline strictly sequentially for one voice
// message. The returned error is always a *StageError naming the stage
// that failed.
func (p *Pipeline) Run(ctx context.Context, sess *memory.Session, chatID int64, fileID string) error {
	j := newJob(p.cfg.TempDir)
	defer j.cleanup()

	slog.Debug("voice job started", "job", j.id, "chat", chatID)

	if err := p.stage(ctx, func(c context.Context) error {
		return p.cfg.Transport.DownloadVoice(c, fileID, j.voiceIn)
	}); err != nil {
		return &StageError{Stage: StageDownload, Err: err}
	}

	var transcript string
	if err := p.stage(ctx, func(c context.Context) (err error) {
		transcript, err = p.cfg.Transcriber.Transcribe(c, j.voiceIn)
		return err
	}); err != nil {
		return &StageError{Stage: StageTranscribe, Err: err}
	}
	slog.Info("voice transcribed", "job", j.id, "text", transcript)

	var reply string
	if err := p.stage(ctx, func(c context.Context) (err error) {
		reply, err = p.cfg.Replier.Reply(c, sess, transcript)
		return err
	}); err != nil {
		return &StageError{Stage: StageGenerate, Err: err}
	}

	if err := p.stage(ctx, func(c context.Context) error {
		audio, err := p.cfg.Synthesizer.Synthesize(c, reply)
		if err != nil {
			return err
		}
		if err := os.WriteFile(j.speechMP3, audio, 0o600); err != nil {
			return fmt.Errorf("write synthesized audio: %w", err)
		}
		return nil
	}); err != nil {
		return &StageError{Stage: StageSynthesize, Err: err}
	}

	if err := p.stage(ctx, func(c context.Context) error {
		return p.cfg.Transcoder.Transcode(c, j.speechMP3, j.voiceOut)
	}); err != nil {
		return &StageError{Stage: StageTranscode, Err: err}
	}

	var duration time.Duration
	if p.cfg.Probe != nil {
		if d, err := p.cfg.Probe(j.speechMP3); err == nil {
			duration = d
		} else {
			slog.Debug("duration probe failed", "job", j.id, "err", err)
		}
	}

	if err := p.stage(ctx, func(c context.Context) error {
		return p.cfg.Transport.SendVoice(c, chatID, j.voiceOut, duration)
	}); err != nil {
		return &StageError{Stage: StageDeliver, Err: err}
	}

	slog.Info("voice job done", "job", j.id, "chat", chatID)
	return nil
}

func (p *Pipeline) stage(ctx context.Context, fn func(context.Context) error) error {
	c, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()
	return fn(c)
}
