// Package supervisor launches the debuggable browser process with a fixed
// remote-debugging endpoint and an isolated profile, waits for the endpoint
// to answer, and terminates the process tree on shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/devrelay/internal/privilege"
	"github.com/coral-mesh/devrelay/internal/safe"
	"github.com/coral-mesh/devrelay/internal/sys/proc"
)

var (
	// ErrBinaryNotFound is returned when the browser binary cannot be resolved.
	ErrBinaryNotFound = errors.New("browser binary not found")

	// ErrPortInUse is returned when something already listens on the debug port.
	ErrPortInUse = errors.New("debug port already in use")

	// ErrNotReady is returned when the readiness bound is exceeded.
	ErrNotReady = errors.New("debug endpoint did not become ready")

	// ErrProcessExited is returned when the browser exits during startup.
	ErrProcessExited = errors.New("browser process exited")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// Config holds the supervisor configuration.
type Config struct {
	// Binary is the browser executable, absolute or resolved through PATH.
	Binary string

	// Args are appended after the remote-debugging and profile flags.
	Args []string

	// Env is appended to the relay's own environment for the child.
	Env []string

	// ProfileDir is the dedicated user-data directory.
	ProfileDir string

	// BindAddress is passed as --remote-debugging-address. Empty omits the flag.
	BindAddress string

	// DebugHost and DebugPort locate the DevTools endpoint for probing.
	DebugHost string
	DebugPort int

	// SkipPortCheck disables the check that DebugPort is free before launch.
	SkipPortCheck bool

	// RunAsInvokingUser launches the browser as the sudo caller, and hands
	// them the profile directory, when the relay runs as root through sudo.
	RunAsInvokingUser bool

	// Readiness polls DebugHost:DebugPort+Readiness.Path.
	Readiness ReadyPolicy

	// StopTimeout is how long the process tree gets to exit after the
	// termination request before it is killed.
	StopTimeout time.Duration

	// HTTPClient is used for readiness probes. Defaults to a client with no
	// proxy and Readiness.ProbeTimeout.
	HTTPClient *http.Client

	Logger zerolog.Logger
}

// Supervisor owns the single browser process of the relay.
type Supervisor struct {
	config Config
	logger zerolog.Logger
	client *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped bool

	stopping atomic.Bool
	done     chan struct{}
	waitErr  error
}

// New creates a new supervisor. Nothing is started until Start.
func New(config Config) *Supervisor {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout:   config.Readiness.ProbeTimeout,
			Transport: &http.Transport{Proxy: nil},
		}
	}

	return &Supervisor{
		config: config,
		logger: config.Logger.With().Str("component", "supervisor").Logger(),
		client: client,
		done:   make(chan struct{}),
	}
}

// LaunchArgs returns the full argument list passed to the browser.
func (s *Supervisor) LaunchArgs() []string {
	args := make([]string, 0, len(s.config.Args)+3)
	if s.config.BindAddress != "" {
		args = append(args, "--remote-debugging-address="+s.config.BindAddress)
	}
	args = append(args,
		"--remote-debugging-port="+strconv.Itoa(s.config.DebugPort),
		"--user-data-dir="+s.config.ProfileDir,
	)
	return append(args, s.config.Args...)
}

// ReadyURL returns the URL polled for readiness.
func (s *Supervisor) ReadyURL() string {
	host := net.JoinHostPort(s.config.DebugHost, strconv.Itoa(s.config.DebugPort))
	return "http://" + host + s.config.Readiness.Path
}

// Start launches the browser and blocks until its DevTools endpoint answers
// or the readiness bound is exceeded. On any failure after the spawn the
// process is stopped before Start returns.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil || s.stopped {
		return ErrAlreadyStarted
	}

	binary, err := exec.LookPath(s.config.Binary)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, s.config.Binary, err)
	}

	if !s.config.SkipPortCheck {
		if err := checkPortFree(ctx, s.config.DebugPort); err != nil {
			return err
		}
	}

	//nolint:gosec // G301: the profile holds browser state for this user only.
	if err := os.MkdirAll(s.config.ProfileDir, 0o700); err != nil {
		return fmt.Errorf("failed to create profile directory %s: %w", s.config.ProfileDir, err)
	}

	args := s.LaunchArgs()
	//nolint:gosec // G204: binary and args come from the relay configuration.
	cmd := exec.Command(binary, args...)
	cmd.Stdout = newProcessLogWriter(s.logger, "stdout", zerolog.InfoLevel)
	cmd.Stderr = newProcessLogWriter(s.logger, "stderr", zerolog.InfoLevel)
	if len(s.config.Env) > 0 {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if err := s.dropToInvokingUser(cmd); err != nil {
		return err
	}

	s.logger.Info().
		Str("binary", binary).
		Strs("args", args).
		Msg("Launching browser")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start browser process: %w", err)
	}
	s.cmd = cmd

	s.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("debug_addr", net.JoinHostPort(s.config.DebugHost, strconv.Itoa(s.config.DebugPort))).
		Msg("Browser process started")

	go s.monitor(cmd)

	if err := PollReady(ctx, s.client, s.ReadyURL(), s.config.Readiness, s.done, s.logger); err != nil {
		if errors.Is(err, ErrProcessExited) && s.waitErr != nil {
			err = fmt.Errorf("%w: %v", err, s.waitErr)
		}
		s.stopLocked()
		return err
	}

	s.logger.Info().Str("url", s.ReadyURL()).Msg("DevTools endpoint is ready")
	return nil
}

// Stop requests termination of the browser and its descendants. It is
// best-effort and idempotent: failures are logged, never returned.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// PID returns the browser's process id, or 0 before Start.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Done is closed once the browser process has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

func (s *Supervisor) stopLocked() {
	if s.stopped {
		return
	}
	s.stopped = true

	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	s.stopping.Store(true)

	select {
	case <-s.done:
		s.logger.Debug().Msg("Browser process already exited")
		return
	default:
	}

	pid := s.cmd.Process.Pid
	s.logger.Info().Int("pid", pid).Msg("Terminating browser process")

	pid32, _ := safe.IntToInt32(pid)
	root, descendants := processTree(pid32)
	if root != nil {
		if err := root.Terminate(); err != nil {
			s.logger.Warn().Err(err).Int("pid", pid).Msg("Failed to terminate browser process")
		}
	} else if err := s.cmd.Process.Signal(os.Interrupt); err != nil {
		s.logger.Warn().Err(err).Int("pid", pid).Msg("Failed to signal browser process")
	}

	timer := time.NewTimer(s.config.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		s.logger.Info().Int("pid", pid).Msg("Browser process terminated")
	case <-timer.C:
		s.logger.Warn().
			Int("pid", pid).
			Dur("timeout", s.config.StopTimeout).
			Msg("Browser did not exit in time, killing")
		if err := s.cmd.Process.Kill(); err != nil {
			s.logger.Error().Err(err).Int("pid", pid).Msg("Failed to kill browser process")
		}
	}

	reapDescendants(descendants, s.logger)
}

// monitor waits for the process and records its exit.
func (s *Supervisor) monitor(cmd *exec.Cmd) {
	err := cmd.Wait()
	s.waitErr = err
	close(s.done)

	if s.stopping.Load() {
		s.logger.Info().Msg("Browser process exited")
		return
	}
	s.logger.Error().
		Err(err).
		Msg("Browser process exited unexpectedly")
}

// processTree returns the process handle for pid and all of its descendants.
// Helper processes must be collected before the parent exits and they are
// reparented.
func processTree(pid int32) (*process.Process, []*process.Process) {
	root, err := process.NewProcess(pid)
	if err != nil {
		return nil, nil
	}

	var descendants []*process.Process
	queue := []*process.Process{root}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		children, err := p.Children()
		if err != nil {
			continue
		}
		descendants = append(descendants, children...)
		queue = append(queue, children...)
	}
	return root, descendants
}

// reapDescendants kills helper processes that outlived the browser.
func reapDescendants(descendants []*process.Process, logger zerolog.Logger) {
	for _, p := range descendants {
		running, err := p.IsRunning()
		if err != nil || !running {
			continue
		}
		if err := p.Kill(); err != nil {
			logger.Debug().Err(err).Int32("pid", p.Pid).Msg("Failed to kill browser helper process")
		}
	}
}

// checkPortFree fails with ErrPortInUse if something already listens on port.
// Otherwise readiness would be satisfied by a process the relay does not own.
func checkPortFree(ctx context.Context, port int) error {
	listener, found, err := proc.FindListener(ctx, port)
	if err != nil {
		return fmt.Errorf("failed to inspect debug port %d: %w", port, err)
	}
	if found {
		return fmt.Errorf("%w: %s", ErrPortInUse, listener)
	}
	return nil
}

// dropToInvokingUser switches cmd to the sudo caller when configured and
// needed. The browser refuses to sandbox itself as root.
func (s *Supervisor) dropToInvokingUser(cmd *exec.Cmd) error {
	if !s.config.RunAsInvokingUser {
		return nil
	}

	owner, err := privilege.InvokingUser()
	if err != nil {
		return fmt.Errorf("failed to resolve invoking user: %w", err)
	}
	if owner == nil {
		return nil
	}

	if err := privilege.ChownTree(s.config.ProfileDir, owner); err != nil {
		return fmt.Errorf("failed to hand profile directory to %s: %w", owner.Username, err)
	}

	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, owner.Env()...)
	privilege.RunAs(cmd, owner)

	s.logger.Info().
		Str("user", owner.Username).
		Int("uid", owner.UID).
		Msg("Browser will run as invoking user")
	return nil
}
