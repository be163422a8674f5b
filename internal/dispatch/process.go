package dispatch

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureDetached places the child in its own process group so it
// survives a daemon restart and so signals reach the whole workflow tree,
// not just the immediate child.
func configureDetached(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup delivers sig to the child's entire process group.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// ProcessAlive reports whether pid names a live process. Callers outside
// the dispatcher use it to probe workflows inherited from a previous daemon
// run, whose pids are known only from their state files.
func ProcessAlive(pid int) bool {
	return processAlive(pid)
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 performs the existence check without delivering anything.
// EPERM means the process exists but belongs to another user, which
// still counts as alive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.EPERM {
		return true
	}
	return false
}
