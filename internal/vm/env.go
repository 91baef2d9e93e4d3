package vm

import (
	"io"
	"log/slog"
	"os"

	"github.com/vmlab/vml/internal/config"
	"github.com/vmlab/vml/internal/logger"
	"github.com/vmlab/vml/internal/runstate"
)

// Tools names the external programs vml drives.
type Tools struct {
	// QEMUSystem is the prefix of the emulator binary, completed with the arch.
	QEMUSystem string
	QEMUImg    string
	SSH        string
	Rsync      string
}

// DefaultTools returns the programs as found on PATH.
func DefaultTools() Tools {
	return Tools{
		QEMUSystem: "qemu-system-",
		QEMUImg:    "qemu-img",
		SSH:        "ssh",
		Rsync:      "rsync",
	}
}

// Env is shared by every VM of one invocation.
type Env struct {
	Config *config.Config
	Runs   *runstate.Store
	Keys   *SSHKeyManager
	Tools  Tools
	Logger *slog.Logger

	// DialMonitor overrides how QMP sockets are opened.
	DialMonitor func(socket string) (MonitorConn, error)

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// NewEnv builds an environment for cfg, creating the run directory.
func NewEnv(cfg *config.Config, log *slog.Logger) (*Env, error) {
	runs, err := runstate.NewStore(cfg.RunDir)
	if err != nil {
		return nil, err
	}
	dataDir, err := config.DataDir()
	if err != nil {
		return nil, err
	}
	return &Env{
		Config: cfg,
		Runs:   runs,
		Keys:   NewSSHKeyManager(dataDir),
		Tools:  DefaultTools(),
		Logger: logger.OrDefault(log),
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}
