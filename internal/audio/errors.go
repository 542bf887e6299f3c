package audio

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("audio: microphone permission denied")
	ErrBusy             = errors.New("audio: a recording is already in progress")
	ErrNotRecording     = errors.New("audio: no recording in progress")

	ErrTooShort         = errors.New("audio: recording shorter than minimum duration")
	ErrNoAudioDetected  = errors.New("audio: no audio data captured")
	ErrTooSmall         = errors.New("audio: recording below minimum size")
	ErrTranscodeFailure = errors.New("audio: failed to transcode recording")
	ErrDurationTooShort = errors.New("audio: decoded audio shorter than minimum duration")
	ErrSilentOrCorrupt  = errors.New("audio: audio is silent or unreadable")
)

// ValidationError 描述录音在哪一步被拒绝，录音缓冲此时已被丢弃。
type ValidationError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap 同时暴露类别与底层原因，errors.Is 对两者都成立。
func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func reject(kind error, cause error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: cause}
}

var diagnostics = []struct {
	kind error
	text string
}{
	{ErrTooShort, "Recording too short. Please record for at least 1 second."},
	{ErrNoAudioDetected, "No audio detected. Please ensure your microphone is working and speak clearly."},
	{ErrTooSmall, "The recorded audio is too small to process. Please record a longer message (at least 1 second)."},
	{ErrTranscodeFailure, "Failed to process the recorded audio format. Please try recording again or type your message instead."},
	{ErrDurationTooShort, "The recorded audio duration is too short. Please record for at least 1 second and speak clearly."},
	{ErrSilentOrCorrupt, "The recorded audio appears to be silent or corrupted. Please ensure your microphone is working and speak clearly."},
	{ErrPermissionDenied, "Microphone access is denied. Please enable microphone permissions to record audio."},
}

// Diagnostic 返回展示给用户的提示文案；未知错误返回空串。
func Diagnostic(err error) string {
	for _, d := range diagnostics {
		if errors.Is(err, d.kind) {
			return d.text
		}
	}
	return ""
}
