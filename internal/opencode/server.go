// internal/opencode/server.go
package opencode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"strconv"
	"time"
)

// Server is a locally spawned `opencode serve` process
type Server struct {
	cmd  *exec.Cmd
	port int
	done chan error
	log  *slog.Logger
}

// StartServer runs `opencode serve` on port and waits until it accepts
// connections. Output goes to logOut.
func StartServer(ctx context.Context, binary string, port int, logOut io.Writer) (*Server, error) {
	if binary == "" {
		binary = "opencode"
	}
	cmd := exec.Command(binary, "serve", "-p", strconv.Itoa(port))
	cmd.Stdout = logOut
	cmd.Stderr = logOut
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start opencode server: %w", err)
	}

	s := &Server{
		cmd:  cmd,
		port: port,
		done: make(chan error, 1),
		log:  slog.Default().With("component", "opencode"),
	}
	go func() { s.done <- cmd.Wait() }()

	if err := s.waitReady(ctx); err != nil {
		s.Stop()
		return nil, err
	}
	s.log.Info("opencode server started", "port", port, "pid", cmd.Process.Pid)
	return s, nil
}

// BaseURL is the address clients use
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// Stop kills the process and waits for it to exit
func (s *Server) Stop() {
	if err := s.cmd.Process.Kill(); err != nil {
		s.log.Debug("kill opencode server", "error", err)
	}
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		s.log.Warn("opencode server did not exit")
	}
	s.log.Info("opencode server stopped")
}

func (s *Server) waitReady(ctx context.Context) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(s.port))
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case err := <-s.done:
			s.done <- err
			return fmt.Errorf("opencode server exited: %v", err)
		case <-ctx.Done():
			return fmt.Errorf("wait for opencode server: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
