package executor

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// killGrace is how long a process group gets between SIGTERM and SIGKILL.
const killGrace = 500 * time.Millisecond

// startInGroup starts cmd as the leader of a new process group. package managers fork
// helpers (dpkg, maintainer scripts, service hooks) that must die with the command.
func startInGroup(cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd.Start()
}

// waitOrKill waits for a started cmd. if cancel closes first, the whole group gets
// SIGTERM and, when still alive after grace, SIGKILL. it returns cmd.Wait's error.
func waitOrKill(cmd *exec.Cmd, cancel <-chan struct{}, grace time.Duration) error {
	exited := make(chan struct{})
	killerDone := make(chan struct{})
	go func() {
		defer close(killerDone)
		select {
		case <-exited:
			return
		case <-cancel:
		}
		if err := signalGroup(cmd, syscall.SIGTERM); err != nil {
			return // ESRCH, the group is gone
		}
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-exited:
		case <-t.C:
			_ = signalGroup(cmd, syscall.SIGKILL)
		}
	}()

	err := cmd.Wait()
	close(exited)
	<-killerDone
	if err != nil {
		return fmt.Errorf("command wait: %w", err)
	}
	return nil
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return syscall.ESRCH
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}
