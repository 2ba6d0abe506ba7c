//go:build unix

package daemon

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/jguan/solverd/pkg/infra/logger"
)

func isRoot() bool {
	return unix.Geteuid() == 0
}

func interrupt(pid int) error {
	return unix.Kill(pid, unix.SIGINT)
}

// processAlive probes pid with signal 0. EPERM still means the process
// exists.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// spawnDetached starts the child in a new session so it outlives the
// control process and its terminal.
func spawnDetached(spec SpawnSpec) (int, error) {
	devnull, err := os.Open(os.DevNull)
	if err != nil {
		return 0, err
	}
	defer devnull.Close()

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Env = spec.Env
	cmd.Dir = "/"
	cmd.Stdin = devnull
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if spec.Credential != nil {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: spec.Credential.UID,
			Gid: spec.Credential.GID,
		}
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		logger.Warn("release child process", "pid", pid, "error", err)
	}
	return pid, nil
}
