//go:build !windows

package supervisor

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcessGroup ensures the daemon runs in its own process group so
// the interrupt reaches the entire tree (daemon + children).
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func getProcessGroupID(cmd *exec.Cmd) int {
	if cmd == nil || cmd.Process == nil {
		return 0
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		return 0
	}
	return pgid
}

// interruptProcessGroup delivers SIGINT to the whole group. The daemon is
// asked to shut down, never killed outright.
func interruptProcessGroup(pgid int) error {
	if pgid <= 0 {
		return fmt.Errorf("invalid process group id: %d", pgid)
	}
	return syscall.Kill(-pgid, syscall.SIGINT)
}
