// Package mcp spawns and manages the upstream MCP server process,
// exposing its stdio streams to the proxy.
package mcp

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// StdioClient runs the upstream tool server as a child process with piped
// stdin/stdout. Stderr passes through unchanged so the host application
// still sees server diagnostics.
type StdioClient struct {
	command string
	args    []string
	env     map[string]string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	log    *slog.Logger
}

// NewStdioClient prepares a client for the given upstream command. env
// entries are layered over the inherited environment.
func NewStdioClient(command string, args []string, env map[string]string, log *slog.Logger) *StdioClient {
	if log == nil {
		log = slog.Default()
	}
	return &StdioClient{command: command, args: args, env: env, log: log}
}

// Start launches the upstream process and wires its pipes.
func (c *StdioClient) Start() error {
	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open upstream stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("open upstream stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start upstream %q: %w", c.command, err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.log.Info("upstream started", "command", c.command, "pid", cmd.Process.Pid)
	return nil
}

// Stdin returns the upstream's stdin writer.
func (c *StdioClient) Stdin() io.Writer {
	return c.stdin
}

// Stdout returns the upstream's stdout reader.
func (c *StdioClient) Stdout() io.Reader {
	return c.stdout
}

// CloseStdin closes the upstream's stdin, signaling EOF.
func (c *StdioClient) CloseStdin() error {
	if c.stdin == nil {
		return nil
	}
	return c.stdin.Close()
}

// Wait blocks until the upstream process exits.
func (c *StdioClient) Wait() error {
	if c.cmd == nil {
		return nil
	}
	return c.cmd.Wait()
}

// Terminate asks the upstream to exit, waits up to grace, then kills it.
func (c *StdioClient) Terminate(grace time.Duration) {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.CloseStdin()
	if err := terminateProcess(c.cmd.Process); err != nil {
		c.log.Debug("terminate signal failed", "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()

	select {
	case <-done:
		c.log.Info("upstream exited", "command", c.command)
	case <-time.After(grace):
		c.log.Warn("upstream did not exit, killing", "command", c.command)
		_ = c.cmd.Process.Kill()
		<-done
	}
}
