//go:build !unix

package daemon

import "errors"

var errUnsupported = errors.New("daemon mode is only supported on unix")

func isRoot() bool { return false }

func interrupt(pid int) error { return errUnsupported }

func processAlive(pid int) bool { return false }

func spawnDetached(spec SpawnSpec) (int, error) { return 0, errUnsupported }
