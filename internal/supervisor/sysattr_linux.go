package supervisor

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func configureChild(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: unix.SIGKILL,
	}
}
