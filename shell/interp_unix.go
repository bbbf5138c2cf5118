//go:build !windows

package shell

import "os/exec"

// defaultInterpreter returns the platform command interpreter. /bin/sh reads commands from
// stdin until end-of-file, which is exactly the keep-running-between-commands mode the
// session needs.
func defaultInterpreter() Interpreter {
	return Interpreter{
		Command: "/bin/sh",
		WD:      "/",
	}
}

// hideWindow is a no-op outside Windows; child processes have no window to hide.
func hideWindow(cmd *exec.Cmd) {}
