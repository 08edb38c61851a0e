//go:build windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func configureProcessGroup(cmd *exec.Cmd) {
	// Process groups are handled differently on Windows; the command
	// configuration is left untouched and Interrupt falls back to
	// Process.Signal.
	_ = cmd
}

func getProcessGroupID(cmd *exec.Cmd) int {
	return 0
}

func interruptProcessGroup(pgid int) error {
	_ = pgid
	return syscall.EWINDOWS
}
