package mcp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const defaultStopTimeout = 5 * time.Second

// ProcessConfig describes the server program to launch.
type ProcessConfig struct {
	Command string
	Args    []string
	// Env is appended to the parent's environment.
	Env []string
	Dir string
	// Stderr receives the child's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
	// StopTimeout is how long Stop waits for the child to exit after its
	// input is closed before killing it.
	StopTimeout time.Duration
}

// Process is a launched server child with a Client bound to its stdio.
type Process struct {
	*Client

	cmd         *exec.Cmd
	stopTimeout time.Duration
	exited      chan struct{}
	exitErr     error
	stopOnce    sync.Once
}

// StartProcess launches the server described by cfg with a client reading
// its output.
func StartProcess(cfg ProcessConfig, opts ...ClientConfigOption) (*Process, error) {
	if cfg.Command == "" {
		return nil, errors.New("server command cannot be empty")
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)
	cmd.Dir = cfg.Dir
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = cfg.Stderr

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW} {
			f.Close()
		}
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}
	// The child holds its own copies now.
	stdinR.Close()
	stdoutW.Close()

	p := &Process{
		Client:      NewClient(stdoutR, stdinW, opts...),
		cmd:         cmd,
		stopTimeout: cfg.StopTimeout,
		exited:      make(chan struct{}),
	}
	p.logger.WithFields(map[string]interface{}{
		"command": cfg.Command,
		"pid":     cmd.Process.Pid,
	}).Info("Server process started")

	go func() {
		p.exitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited is closed once the child has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitErr returns the result of waiting on the child. Valid after Exited is closed.
func (p *Process) ExitErr() error {
	<-p.exited
	return p.exitErr
}

// Stop cancels outstanding requests, closes the child's input, kills it if it
// has not exited within the stop timeout and joins the read loop. No reader
// activity remains once Stop returns.
func (p *Process) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		err = p.shutdown(p.terminate)
	})
	return err
}

func (p *Process) terminate() {
	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()

	select {
	case <-p.exited:
	case <-timer.C:
		p.logger.WithFields(map[string]interface{}{"pid": p.Pid()}).Warn("Server did not exit in time, killing it")
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.WithErr(err).Error("Failed to kill server process")
		}
		<-p.exited
	}

	logger := p.logger.WithFields(map[string]interface{}{"pid": p.Pid()})
	if p.exitErr != nil {
		logger.WithErr(p.exitErr).Info("Server process exited")
	} else {
		logger.Info("Server process exited")
	}
}

// Close is Stop, so a Process can be used wherever a closable client is expected.
func (p *Process) Close() error {
	return p.Stop()
}
