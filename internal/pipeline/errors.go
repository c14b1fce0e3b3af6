package pipeline

// Stage names one step of the voice pipeline, used to classify failures.
type Stage string

const (
	StageDownload   Stage = "download"
	StageTranscribe Stage = "transcribe"
	StageGenerate   Stage = "generate"
	StageSynthesize Stage = "synthesize"
	StageTranscode  Stage = "transcode"
	StageDeliver    Stage = "deliver"
)

// StageError wraps the failure of one pipeline stage. The temp files of
// the failed job are already cleaned up by the time a caller sees it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string { return string(e.Stage) + ": " + e.Err.Error() }
func (e *StageError) Unwrap() error { return e.Err }
