// Package procman finds, signals and launches operating system processes.
package procman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/timmy/webpmigrate/internal/domain"
)

// Command describes a program to execute.
type Command struct {
	Path string
	Args []string
	Env  []string // appended to the current environment
	Dir  string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// FromArgv builds a Command from an argv slice.
func FromArgv(argv []string, env ...string) (Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Command{}, errors.New("empty command")
	}
	return Command{Path: argv[0], Args: argv[1:], Env: env}, nil
}

// OS is the process manager backed by the host operating system.
type OS struct{}

// FindByToken returns the PIDs of processes whose command line contains token.
// The calling process is never returned.
func (OS) FindByToken(ctx context.Context, token string) ([]int, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty process token", domain.ErrProcessControl)
	}
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list processes: %v", domain.ErrProcessControl, err)
	}
	self := int32(os.Getpid())
	var pids []int
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			// exited or not ours to read
			continue
		}
		if strings.Contains(cmdline, token) {
			pids = append(pids, int(p.Pid))
		}
	}
	return pids, nil
}

// Terminate sends SIGTERM to pid.
func (OS) Terminate(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("%w: signal %d: %v", domain.ErrProcessControl, pid, err)
	}
	return nil
}

// Run executes cmd to completion with stdout and stderr copied to out and
// returns its exit code. A non-nil error means the process could not be run
// at all.
func (OS) Run(ctx context.Context, cmd Command, out io.Writer) (int, error) {
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = cmd.Dir
	c.Stdout = out
	c.Stderr = out

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("%w: run %s: %v", domain.ErrProcessControl, cmd, err)
}

// StartDetached launches cmd in a new session without waiting for it.
func (OS) StartDetached(cmd Command) (int, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Env = append(os.Environ(), cmd.Env...)
	c.Dir = cmd.Dir
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := c.Start(); err != nil {
		return 0, fmt.Errorf("%w: start %s: %v", domain.ErrProcessControl, cmd, err)
	}
	pid := c.Process.Pid
	if err := c.Process.Release(); err != nil {
		return pid, fmt.Errorf("%w: release %d: %v", domain.ErrProcessControl, pid, err)
	}
	return pid, nil
}
