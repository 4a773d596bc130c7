package attach

import (
	"fmt"
	"os/exec"
	"strings"
)

// TmuxAttachment drives one named tmux session as a worker's attachment.
type TmuxAttachment struct {
	session string
}

// StartTmux creates a new detached tmux session named session and runs
// command inside it.
func StartTmux(session, command string) (*TmuxAttachment, error) {
	cmd := exec.Command("tmux", "new-session", "-d", "-s", session, command)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("start tmux session %q: %w", session, err)
	}
	return &TmuxAttachment{session: session}, nil
}

func (t *TmuxAttachment) Kind() string        { return "multiplexer" }
func (t *TmuxAttachment) PID() int            { return 0 }
func (t *TmuxAttachment) SessionName() string { return t.session }

// Send types input into the session followed by Enter, per tmux's
// type-and-submit convention for feeding a running shell.
func (t *TmuxAttachment) Send(input string) error {
	literal := strings.ReplaceAll(input, "\n", " ")
	if err := exec.Command("tmux", "send-keys", "-t", t.session, "-l", literal).Run(); err != nil {
		return fmt.Errorf("send-keys %q: %w", t.session, err)
	}
	return exec.Command("tmux", "send-keys", "-t", t.session, "Enter").Run()
}

// Pause sends the suspend key sequence (Ctrl-Z) into the session.
func (t *TmuxAttachment) Pause() error {
	return exec.Command("tmux", "send-keys", "-t", t.session, "C-z").Run()
}

// Resume brings the suspended job back to the foreground ("fg" + Enter).
func (t *TmuxAttachment) Resume() error {
	if err := exec.Command("tmux", "send-keys", "-t", t.session, "-l", "fg").Run(); err != nil {
		return err
	}
	return exec.Command("tmux", "send-keys", "-t", t.session, "Enter").Run()
}

// Stop kills the tmux session.
func (t *TmuxAttachment) Stop() error {
	return exec.Command("tmux", "kill-session", "-t", t.session).Run()
}

func (t *TmuxAttachment) Close() error { return nil }
