package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// run executes bin and returns stdout. A non-zero exit becomes *Error with
// the captured stderr attached.
func run(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &Error{
			Bin:    bin,
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return stdout.Bytes(), nil
}

// Error is a failed ffmpeg or ffprobe invocation.
type Error struct {
	Bin    string
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	// only the tail of stderr carries the reason
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	tail := strings.Join(lines, "\n")
	if tail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Bin, e.Err, tail)
	}
	return fmt.Sprintf("%s: %v", e.Bin, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Command returns the command line that failed.
func (e *Error) Command() string {
	return e.Bin + " " + strings.Join(e.Args, " ")
}
