package proc

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Environment markers understood by worker processes.
const (
	// EnvWorker is set to "1" in every worker process.
	EnvWorker = "PROCPOOL_WORKER"
	// EnvDaemon is "1" when the worker may not create a nested pool.
	EnvDaemon = "PROCPOOL_DAEMON"
)

// Spec describes how to start a worker process.
type Spec struct {
	// Path is the executable. Empty means the current executable.
	Path string

	// Args are passed after the program name.
	Args []string

	// Env is appended to the inherited environment.
	Env []string

	// Daemon workers die with their parent where the platform allows it
	// and refuse to host nested pools.
	Daemon bool
}

// Start launches a worker process with the given identity and returns it
// with its Conn ready for use.
func Start(id string, spec Spec) (*Process, error) {
	path := spec.Path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	}

	cmd := exec.Command(path, spec.Args...)
	cmd.Env = workerEnv(spec)
	cmd.Stderr = os.Stderr
	applySysProcAttr(cmd, spec.Daemon)

	p := newProcess(id, cmd)
	if err := attachChannel(p); err != nil {
		return nil, err
	}

	if err := p.start(); err != nil {
		for _, f := range p.childFiles {
			_ = f.Close()
		}
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// IsWorker reports whether the current process was started by Start.
func IsWorker() bool {
	return os.Getenv(EnvWorker) == "1"
}

// IsDaemon reports whether the current process is a daemon worker.
func IsDaemon() bool {
	return IsWorker() && os.Getenv(EnvDaemon) == "1"
}

func workerEnv(spec Spec) []string {
	base := os.Environ()
	env := make([]string, 0, len(base)+len(spec.Env)+2)
	for _, kv := range base {
		if strings.HasPrefix(kv, EnvWorker+"=") || strings.HasPrefix(kv, EnvDaemon+"=") {
			continue
		}
		env = append(env, kv)
	}

	daemon := "0"
	if spec.Daemon {
		daemon = "1"
	}
	env = append(env, EnvWorker+"=1", EnvDaemon+"="+daemon)
	return append(env, spec.Env...)
}
