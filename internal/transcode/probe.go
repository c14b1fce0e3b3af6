package transcode

import (
	"fmt"
	"os"
	"time"

	mp3 "github.com/hajimehoshi/go-mp3"
)

// MP3Duration reports the playing time of an mp3 file. The decoder
// always yields 16-bit stereo PCM, so one frame is four bytes.
func MP3Duration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("probe mp3: %w", err)
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return 0, fmt.Errorf("probe mp3: %w", err)
	}
	sr := dec.SampleRate()
	if sr <= 0 {
		return 0, fmt.Errorf("probe mp3: invalid sample rate %d", sr)
	}

	frames := dec.Length() / 4
	return time.Duration(frames) * time.Second / time.Duration(sr), nil
}
