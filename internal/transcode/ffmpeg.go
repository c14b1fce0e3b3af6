// Package transcode converts synthesized audio into the ogg/opus
// container Telegram requires for voice notes.
package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFmpeg shells out to ffmpeg for the container/codec conversion.
type FFmpeg struct {
	// Bin overrides the ffmpeg binary name, mainly for tests.
	Bin string
}

func (f *FFmpeg) bin() string {
	if f.Bin != "" {
		return f.Bin
	}
	return "ffmpeg"
}

// Transcode converts src (mp3) into an ogg/opus file at dst.
func (f *FFmpeg) Transcode(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.bin(),
		"-y", "-loglevel", "error",
		"-i", src,
		"-c:a", "libopus", "-b:a", "24k", "-vbr", "on",
		dst,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("ffmpeg: %w: %s", err, msg)
		}
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}
