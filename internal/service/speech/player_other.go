//go:build !unix

package speech

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing playback is not supported on this platform")

func suspendProcess(*os.Process) error { return errPauseUnsupported }

func resumeProcess(*os.Process) error { return errPauseUnsupported }
