package attach

import (
	"bufio"
	"os/exec"
	"sync"
)

// OnOutput is invoked once per captured output line, independent of which
// attachment backend produced it.
type OnOutput func(stream, content string)

// ProcessAttachment is the raw-child-process fallback used when no terminal
// multiplexer is available: the command runs attached to a PTY
// so interactive programs behave normally, with output tee'd line-by-line
// to the worker's output buffer.
type ProcessAttachment struct {
	cmd    *exec.Cmd
	pty    PtyHandle
	mu     sync.Mutex
	paused bool
}

// StartProcess launches command through a shell under a PTY of the given
// terminal size, streaming captured lines to onOutput.
func StartProcess(command string, cols, rows int, onOutput OnOutput) (*ProcessAttachment, error) {
	cmd := shellCommand(command)
	handle, err := startPTYWithSize(cmd, cols, rows)
	if err != nil {
		return nil, err
	}
	p := &ProcessAttachment{cmd: cmd, pty: handle}
	go p.pump(onOutput)
	return p, nil
}

func (p *ProcessAttachment) pump(onOutput OnOutput) {
	scanner := bufio.NewScanner(p.pty)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onOutput != nil {
			onOutput("stdout", scanner.Text())
		}
	}
}

func (p *ProcessAttachment) Kind() string        { return "process" }
func (p *ProcessAttachment) SessionName() string { return "" }

func (p *ProcessAttachment) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Send writes input followed by a newline to the PTY, mirroring a user
// typing a command and pressing Enter.
func (p *ProcessAttachment) Send(input string) error {
	_, err := p.pty.Write([]byte(input + "\n"))
	return err
}

func (p *ProcessAttachment) Close() error { return p.pty.Close() }
