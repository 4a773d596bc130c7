//go:build windows

package attach

import (
	"os"
	"os/exec"

	"github.com/UserExistsError/conpty"
	"github.com/foofork/orchflow/internal/apperrors"
)

func shellCommand(command string) *exec.Cmd {
	comspec := os.Getenv("COMSPEC")
	if comspec == "" {
		comspec = "cmd.exe"
	}
	return exec.Command(comspec, "/C", command)
}

func startPTYWithSize(cmd *exec.Cmd, cols, rows int) (PtyHandle, error) {
	cmdLine := cmd.Path
	for _, a := range cmd.Args[1:] {
		cmdLine += " " + a
	}
	cpty, err := conpty.Start(cmdLine, conpty.ConPtyDimensions(cols, rows))
	if err != nil {
		return nil, err
	}
	pid := cpty.Pid()
	proc, err := os.FindProcess(int(pid))
	if err != nil {
		_ = cpty.Close()
		return nil, err
	}
	cmd.Process = proc
	return &windowsPTY{cpty: cpty}, nil
}

// Pause is not supported on Windows: there is no SIGSTOP equivalent for an
// arbitrary process tree without a job-object freeze, which this attachment
// does not implement. Callers should prefer a multiplexer attachment on
// Windows hosts where pause/resume is required.
func (p *ProcessAttachment) Pause() error {
	return apperrors.New(apperrors.KindBusy, "ProcessAttachment.Pause", errUnsupportedPause)
}

// Resume mirrors Pause's lack of support.
func (p *ProcessAttachment) Resume() error {
	return apperrors.New(apperrors.KindBusy, "ProcessAttachment.Resume", errUnsupportedPause)
}

// Stop kills the process; Windows has no graceful SIGTERM equivalent here.
func (p *ProcessAttachment) Stop() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

var errUnsupportedPause = &unsupportedPauseError{}

type unsupportedPauseError struct{}

func (*unsupportedPauseError) Error() string {
	return "pause/resume of a raw process attachment is not supported on windows"
}
