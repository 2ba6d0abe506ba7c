// Package daemon supervises the background solverd process: it owns the PID
// file and the stdout/stderr capture files, and starts, stops and inspects
// the process they describe.
package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/jguan/solverd/pkg/errs"
	"github.com/jguan/solverd/pkg/infra/logger"
	"github.com/jguan/solverd/pkg/infra/metrics"
)

const processName = "solverd"

// Paths locates the files the supervisor owns.
type Paths struct {
	PIDFile    string
	StdoutFile string
	StderrFile string
}

// State is derived from the PID file and the process table on every call.
type State struct {
	PID     int
	Running bool
}

// SpawnSpec describes the detached child process.
type SpawnSpec struct {
	Args   []string
	Env    []string
	Stdout *os.File
	Stderr *os.File
	// Credential is nil when the child keeps the caller's identity.
	Credential *Credential
}

type Credential struct {
	UID  uint32
	GID  uint32
	Home string
}

type Supervisor struct {
	paths        Paths
	stopAttempts int
	stopInterval time.Duration

	out        io.Writer
	isRoot     func() bool
	signal     func(pid int) error
	alive      func(pid int) bool
	sleep      func(time.Duration)
	inspector  metrics.Inspector
	spawn      func(SpawnSpec) (int, error)
	lookupUser func(name string) (*user.User, error)
	getenv     func(string) string
	chown      func(path string, uid, gid int) error
}

type Option func(*Supervisor)

func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.out = w }
}

func WithRootCheck(f func() bool) Option {
	return func(s *Supervisor) { s.isRoot = f }
}

// WithSignaler replaces the function that delivers the stop signal.
func WithSignaler(f func(pid int) error) Option {
	return func(s *Supervisor) { s.signal = f }
}

func WithLiveness(f func(pid int) bool) Option {
	return func(s *Supervisor) { s.alive = f }
}

func WithSleep(f func(time.Duration)) Option {
	return func(s *Supervisor) { s.sleep = f }
}

func WithInspector(i metrics.Inspector) Option {
	return func(s *Supervisor) { s.inspector = i }
}

func WithSpawner(f func(SpawnSpec) (int, error)) Option {
	return func(s *Supervisor) { s.spawn = f }
}

func WithUserLookup(f func(name string) (*user.User, error)) Option {
	return func(s *Supervisor) { s.lookupUser = f }
}

func WithGetenv(f func(string) string) Option {
	return func(s *Supervisor) { s.getenv = f }
}

func WithChown(f func(path string, uid, gid int) error) Option {
	return func(s *Supervisor) { s.chown = f }
}

// New returns a supervisor for the files in paths. stopAttempts signals are
// sent stopInterval apart before Stop gives up waiting.
func New(paths Paths, stopAttempts int, stopInterval time.Duration, opts ...Option) *Supervisor {
	s := &Supervisor{
		paths:        paths,
		stopAttempts: stopAttempts,
		stopInterval: stopInterval,
		out:          os.Stdout,
		isRoot:       isRoot,
		signal:       interrupt,
		alive:        processAlive,
		sleep:        time.Sleep,
		spawn:        spawnDetached,
		lookupUser:   user.Lookup,
		getenv:       os.Getenv,
		chown:        os.Chown,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.inspector == nil {
		if insp, err := metrics.NewInspector(); err == nil {
			s.inspector = insp
		}
	}
	return s
}

// PID reads the PID file. ok is false when the file does not exist.
func (s *Supervisor) PID() (pid int, ok bool, err error) {
	data, err := os.ReadFile(s.paths.PIDFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, errs.Wrapf(err, errs.KindIOFailure, "read pid file %s", s.paths.PIDFile)
	}

	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false, errs.New(errs.KindInvalidInput,
			fmt.Sprintf("pid file %s does not contain a pid: %q", s.paths.PIDFile, strings.TrimSpace(string(data))))
	}
	return pid, true, nil
}

// State reconciles the PID file with the process table.
func (s *Supervisor) State() (State, error) {
	pid, ok, err := s.PID()
	if err != nil || !ok {
		return State{}, err
	}
	return State{PID: pid, Running: s.alive(pid)}, nil
}

func (s *Supervisor) requireRoot() error {
	if !s.isRoot() {
		return errs.ErrPermissionDenied
	}
	return nil
}

// Start launches args as a detached process unless one is already running.
// args[0] is the executable.
func (s *Supervisor) Start(args []string) (err error) {
	st, err := s.State()
	if err != nil && !errors.Is(err, errs.ErrInvalidInput) {
		return err
	}
	if st.Running {
		fmt.Fprintf(s.out, "%s is already running with pid: %d\n", processName, st.PID)
		return nil
	}

	if err := s.requireRoot(); err != nil {
		return err
	}
	if len(args) == 0 {
		return errs.New(errs.KindInvalidInput, "no command to start")
	}

	pidFile, err := createOwned(s.paths.PIDFile)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(s.paths.PIDFile)
		}
	}()
	defer pidFile.Close()

	stdout, err := createOwned(s.paths.StdoutFile)
	if err != nil {
		return err
	}
	defer stdout.Close()

	stderr, err := createOwned(s.paths.StderrFile)
	if err != nil {
		return err
	}
	defer stderr.Close()

	spec := SpawnSpec{
		Args:   args,
		Env:    os.Environ(),
		Stdout: stdout,
		Stderr: stderr,
	}

	cred, err := s.dropTo()
	if err != nil {
		return err
	}
	if cred != nil {
		spec.Credential = cred
		spec.Env = withEnv(spec.Env, "HOME", cred.Home)
		for _, path := range []string{s.paths.PIDFile, s.paths.StdoutFile, s.paths.StderrFile} {
			if err := s.chown(path, int(cred.UID), int(cred.GID)); err != nil {
				return errs.Wrapf(err, errs.KindIOFailure, "chown %s", path)
			}
		}
	}

	pid, err := s.spawn(spec)
	if err != nil {
		return errs.Wrapf(err, errs.KindIOFailure, "start %s", processName)
	}

	if _, err := fmt.Fprintf(pidFile, "%d\n", pid); err != nil {
		return errs.Wrapf(err, errs.KindIOFailure, "write pid file %s", s.paths.PIDFile)
	}

	logger.Info("daemon started", "pid", pid, "stdout", s.paths.StdoutFile, "stderr", s.paths.StderrFile)
	return nil
}

// dropTo returns the identity named by SUDO_USER, or nil when the variable
// is unset or names no user.
func (s *Supervisor) dropTo() (*Credential, error) {
	name := s.getenv("SUDO_USER")
	if name == "" {
		return nil, nil
	}

	u, err := s.lookupUser(name)
	if err != nil {
		logger.Warn("SUDO_USER does not name a user, keeping root", "user", name, "error", err)
		return nil, nil
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindInvalidInput, "parse uid of %s", name)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindInvalidInput, "parse gid of %s", name)
	}
	return &Credential{UID: uint32(uid), GID: uint32(gid), Home: u.HomeDir}, nil
}

// Stop interrupts the daemon until signal delivery fails or the attempts
// run out, then removes the PID file.
func (s *Supervisor) Stop() error {
	if err := s.requireRoot(); err != nil {
		return err
	}

	pid, ok, err := s.PID()
	if err != nil {
		if errors.Is(err, errs.ErrInvalidInput) {
			_ = os.Remove(s.paths.PIDFile)
		}
		return err
	}
	if !ok {
		return nil
	}

	for i := 0; i < s.stopAttempts; i++ {
		if err := s.signal(pid); err != nil {
			break
		}
		s.sleep(s.stopInterval)
	}

	if err := os.Remove(s.paths.PIDFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errs.Wrapf(err, errs.KindIOFailure, "remove pid file %s", s.paths.PIDFile)
	}
	logger.Info("daemon stopped", "pid", pid)
	return nil
}

// Restart stops the daemon and starts args.
func (s *Supervisor) Restart(args []string) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(args)
}

// Status prints the PID, CPU usage and resident memory of the daemon.
func (s *Supervisor) Status(ctx context.Context) error {
	pid, ok, err := s.PID()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(s.out, "%s is not running\n", processName)
		return nil
	}

	if !s.alive(pid) {
		return errs.Wrapf(fmt.Errorf("no process with pid %d", pid), errs.KindNotRunning, "stale pid file %s", s.paths.PIDFile)
	}
	if s.inspector == nil {
		return errors.New("process inspection is unavailable")
	}

	stats, err := s.inspector.Inspect(ctx, pid)
	if err != nil {
		if errors.Is(err, metrics.ErrProcessNotFound) {
			return errs.Wrapf(err, errs.KindNotRunning, "stale pid file %s", s.paths.PIDFile)
		}
		return fmt.Errorf("inspect pid %d: %w", pid, err)
	}

	fmt.Fprintf(s.out, "%-6s %-6s  %-6s\n", "PID", "CPU(%)", "MEM(MB)")
	fmt.Fprintf(s.out, "%-6d   %-6.1f  %-6.1f\n", pid, stats.CPUPercent, stats.ResidentMB())
	return nil
}

// Log prints the stdout capture file and then the stderr capture file.
func (s *Supervisor) Log() error {
	if err := s.printCapture(s.paths.StdoutFile, "STDOUT>"); err != nil {
		return err
	}
	return s.printCapture(s.paths.StderrFile, "STDERR>")
}

func (s *Supervisor) printCapture(path, label string) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errs.Wrapf(err, errs.KindIOFailure, "open %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			fmt.Fprintln(s.out, label)
			first = false
		}
		fmt.Fprintln(s.out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return errs.Wrapf(err, errs.KindIOFailure, "read %s", path)
	}
	return nil
}

// createOwned truncates path and makes it 0755 regardless of umask.
func createOwned(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
	if err != nil {
		return nil, errs.Wrapf(err, errs.KindIOFailure, "create %s", path)
	}
	if err := f.Chmod(0o755); err != nil {
		f.Close()
		return nil, errs.Wrapf(err, errs.KindIOFailure, "chmod %s", path)
	}
	return f, nil
}

func withEnv(env []string, key, value string) []string {
	prefix := key + "="
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, prefix) {
			out = append(out, kv)
		}
	}
	return append(out, prefix+value)
}
