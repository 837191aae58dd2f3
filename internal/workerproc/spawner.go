// Package workerproc implements pool.Spawner and pool.Transport by running
// a worker app as a child process that listens on a private Unix domain
// socket, and proxying requests to it over that socket. This is the
// concrete transport behind the worker pool described in spec §4.1; the
// pool itself stays transport-agnostic.
package workerproc

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/wharfd/wharfd/internal/config"
	"github.com/wharfd/wharfd/internal/logger"
	"github.com/wharfd/wharfd/internal/pool"
)

// Spawner launches worker apps as child processes over Unix sockets in a
// scratch directory.
type Spawner struct {
	SocketDir string
	Env       []string
}

// NewSpawner creates a spawner that places sockets under socketDir
// (created if missing).
func NewSpawner(socketDir string) *Spawner {
	return &Spawner{SocketDir: socketDir}
}

// Spawn starts appDir's entrypoint as a child process and waits for its
// socket to accept connections before returning.
func (s *Spawner) Spawn(ctx context.Context, appDir string, cfg *config.WorkerConfig) (pool.Transport, error) {
	if err := os.MkdirAll(s.SocketDir, 0o755); err != nil {
		return nil, fmt.Errorf("workerproc: create socket dir: %w", err)
	}
	sockPath := filepath.Join(s.SocketDir, fmt.Sprintf("wharfd-%d-%d.sock", os.Getpid(), time.Now().UnixNano()))
	_ = os.Remove(sockPath)

	entry := cfg.Entrypoint
	if entry == "" {
		entry = "index.js"
	}

	cmd := exec.CommandContext(ctx, "node", filepath.Join(appDir, entry))
	cmd.Dir = appDir
	cmd.Env = append(os.Environ(), s.Env...)
	cmd.Env = append(cmd.Env, "WHARFD_SOCKET="+sockPath)
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("workerproc: start %s: %w", appDir, err)
	}

	if err := waitForSocket(ctx, sockPath, 5*time.Second); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("workerproc: %s did not open socket: %w", appDir, err)
	}

	logger.Pool().Info().Str("app", appDir).Str("socket", sockPath).Msg("worker process started")

	return &unixTransport{
		sockPath: sockPath,
		cmd:      cmd,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", sockPath)
				},
			},
		},
	}, nil
}

// Probe performs a lightweight health check against an existing transport.
func (s *Spawner) Probe(ctx context.Context, t pool.Transport) error {
	ut, ok := t.(*unixTransport)
	if !ok {
		return fmt.Errorf("workerproc: probe called on non-unixTransport")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/__wharfd_health", nil)
	if err != nil {
		return err
	}
	resp, err := ut.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("unix", path)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	return fmt.Errorf("workerproc: timed out waiting for %s", path)
}

type unixTransport struct {
	sockPath string
	cmd      *exec.Cmd
	client   *http.Client
}

func (u *unixTransport) RoundTrip(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.Clone(ctx)
	req.URL.Scheme = "http"
	req.URL.Host = "unix"
	return u.client.Do(req)
}

// Multiplexed reports true: a single Node process handles concurrent
// requests on its own event loop, so the pool may share one handle across
// simultaneously in-flight requests instead of serializing them.
func (u *unixTransport) Multiplexed() bool { return true }

func (u *unixTransport) Close() error {
	if u.cmd.Process != nil {
		_ = u.cmd.Process.Kill()
	}
	_ = os.Remove(u.sockPath)
	return nil
}
