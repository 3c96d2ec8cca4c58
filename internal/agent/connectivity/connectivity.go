// Package connectivity abstracts "which network am I on". The scheduler
// gates runs on the home network and re-checks the link before every file;
// how the reading is obtained is platform detail kept behind the Detector
// interface.
package connectivity

import (
	"context"
	"os/exec"
	"strings"
	"sync"
)

// Detector reports the current network name. An empty name with a nil
// error means "no network at all".
type Detector interface {
	CurrentNetwork(ctx context.Context) (string, error)
}

// ExecDetector reads the current wireless network name from an external
// command (by default `iwgetid -r`, present on Linux hosts). A failing
// command is treated as "offline" rather than an error: the gate only
// needs a yes/no answer.
type ExecDetector struct {
	command string
	args    []string
}

func NewExecDetector() *ExecDetector {
	return &ExecDetector{command: "iwgetid", args: []string{"-r"}}
}

func (d *ExecDetector) CurrentNetwork(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, d.command, d.args...).Output()
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(out)), nil
}

// Static is a fixed or test-controlled detector. The zero value reports
// "offline".
type Static struct {
	mu   sync.Mutex
	name string
}

func NewStatic(name string) *Static {
	return &Static{name: name}
}

func (s *Static) CurrentNetwork(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, nil
}

// SetNetwork changes the reported network, simulating roaming or loss.
func (s *Static) SetNetwork(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}
