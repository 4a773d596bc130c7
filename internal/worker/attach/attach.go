// Package attach supervises the external process or terminal-multiplexer
// session a worker is bound to, probing for the best available attachment
// mode and abstracting pause/resume and I/O across platforms.
package attach

import (
	"io"
	"os/exec"
)

// Attachment is a live binding between a worker and its underlying
// multiplexer session, raw process, or container.
type Attachment interface {
	// Kind reports which attachment strategy backs this instance.
	Kind() string
	// Send writes the rendered command (or subsequent input) to the worker.
	Send(input string) error
	// Pause suspends the worker without terminating it.
	Pause() error
	// Resume continues a paused worker.
	Resume() error
	// Stop terminates the worker and releases any OS resources.
	Stop() error
	// PID returns the underlying process id, or 0 if not process-backed.
	PID() int
	// SessionName returns the multiplexer session name, or "" if not
	// multiplexer-backed.
	SessionName() string
	io.Closer
}

// PtyHandle abstracts PTY operations across Unix (creack/pty) and Windows
// (UserExistsError/conpty) raw-process attachments.
type PtyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

// DetectMultiplexer reports whether a terminal multiplexer (tmux) is
// available on PATH, in which case the worker manager prefers a
// multiplexer-backed attachment over a raw PTY process.
func DetectMultiplexer() bool {
	path, err := exec.LookPath("tmux")
	if err != nil || path == "" {
		return false
	}
	cmd := exec.Command("tmux", "-V")
	return cmd.Run() == nil
}
