package worker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/lutaod/memhog/internal/stress"
)

// ChildArg is the first argument that makes memhog act as a worker.
const ChildArg = "worker"

// specFD is the descriptor on which a worker receives its spec.
const specFD = 3

// ExecSpawner starts workers by re-executing the current program.
type ExecSpawner struct {
	Path   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecSpawner returns a spawner re-executing /proc/self/exe with args
// appended after ChildArg.
func NewExecSpawner(args ...string) *ExecSpawner {
	return &ExecSpawner{
		Path:   "/proc/self/exe",
		Args:   args,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Spawn starts a worker pinned to spec.Core, if any, and hands it spec over
// a pipe. The worker blocks on the pipe until then, so attach, if not nil,
// sees the pid before the worker touches any memory. The worker receives
// SIGTERM when the spawning thread dies.
func (s *ExecSpawner) Spawn(spec stress.Spec, attach func(pid int) error) (*Handle, error) {
	reader, writer, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	cmd := exec.Command(s.Path, append([]string{ChildArg}, s.Args...)...)

	// Pass read end of pipe as fd 3 to worker process
	cmd.ExtraFiles = []*os.File{reader}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig: syscall.SIGTERM,
	}

	if err := startPinned(cmd, spec.Core); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	reader.Close()

	if attach != nil {
		if err := attach(cmd.Process.Pid); err != nil {
			writer.Close()
			cmd.Process.Kill()
			cmd.Wait()
			return nil, fmt.Errorf("failed to attach worker %d: %w", cmd.Process.Pid, err)
		}
	}

	if err := writeSpec(writer, spec); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, err
	}

	return NewHandle(cmd.Process.Pid, spec, cmd.Wait), nil
}

// writeSpec writes spec to the write end of a pipe and closes it.
func writeSpec(writer io.WriteCloser, spec stress.Spec) error {
	if err := json.NewEncoder(writer).Encode(spec); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write to pipe: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close pipe: %w", err)
	}

	return nil
}

// readSpec decodes a spec written by writeSpec.
func readSpec(reader io.Reader) (stress.Spec, error) {
	var spec stress.Spec
	if err := json.NewDecoder(reader).Decode(&spec); err != nil {
		return stress.Spec{}, fmt.Errorf("failed to read from pipe: %w", err)
	}

	return spec, nil
}
