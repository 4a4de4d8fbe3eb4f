package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const pidFileName = "site-monitor.pid"

// ErrNotRunning is returned when no live monitor process owns the PID file
var ErrNotRunning = errors.New("monitor is not running")

// DaemonManager handles process lifecycle management
type DaemonManager struct {
	pidFile string
}

// NewDaemonManager creates a new daemon manager
func NewDaemonManager(dataDir string) *DaemonManager {
	return &DaemonManager{
		pidFile: filepath.Join(dataDir, pidFileName),
	}
}

// PIDFile returns the PID file path
func (d *DaemonManager) PIDFile() string {
	return d.pidFile
}

// WritePID claims the PID file for the current process. A file left by a
// dead process is replaced; one owned by a live process is an error.
func (d *DaemonManager) WritePID() error {
	if running, pid, _ := d.IsRunning(); running && pid != os.Getpid() {
		return fmt.Errorf("monitor already running with PID %d", pid)
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// ReadPID reads the PID from file
func (d *DaemonManager) ReadPID() (int, error) {
	content, err := os.ReadFile(d.pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotRunning
		}
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", d.pidFile, strings.TrimSpace(string(content)))
	}
	return pid, nil
}

// IsRunning checks if the process recorded in the PID file is alive
func (d *DaemonManager) IsRunning() (bool, int, error) {
	pid, err := d.ReadPID()
	if err != nil {
		return false, 0, err
	}
	return processAlive(pid), pid, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 probes for existence without delivering anything
	return process.Signal(syscall.Signal(0)) == nil
}

// Stop sends SIGTERM and waits up to timeout for the process to exit.
// The PID file is removed once the process is gone.
func (d *DaemonManager) Stop(timeout time.Duration) error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		d.RemovePID()
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process %d not found", pid)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to stop process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return d.RemovePID()
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not exit within %s", pid, timeout)
}

// Signal delivers sig to the running monitor
func (d *DaemonManager) Signal(sig os.Signal) error {
	running, pid, err := d.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		return ErrNotRunning
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}

// RemovePID removes the PID file
func (d *DaemonManager) RemovePID() error {
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// GetStatus returns the status of the process
func (d *DaemonManager) GetStatus() (string, int, error) {
	running, pid, err := d.IsRunning()
	if errors.Is(err, ErrNotRunning) {
		return "stopped", 0, nil
	}
	if err != nil {
		return "unknown", 0, err
	}
	if running {
		return "running", pid, nil
	}
	return "stale", pid, nil
}
