//go:build windows

package shell

import (
	"os"
	"os/exec"
	"syscall"
)

// defaultInterpreter returns the platform command interpreter. /K keeps cmd.exe running
// after each command instead of exiting.
func defaultInterpreter() Interpreter {
	return Interpreter{
		Command: "cmd.exe",
		Args:    []string{"/K"},
		WD:      systemRootDir(),
	}
}

func systemRootDir() string {
	if drive := os.Getenv("SystemDrive"); drive != "" {
		return drive + `\`
	}
	return `C:\`
}

// hideWindow keeps the spawned interpreter from opening a visible console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}
