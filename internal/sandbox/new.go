package sandbox

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// New 按 cfg.Kind 构造 Runner。
func New(cfg Config, workDir string, logger logrus.FieldLogger) (Runner, error) {
	cfg = cfg.withDefaults()
	switch cfg.Kind {
	case "local":
		return NewLocalRunner(cfg, workDir), nil
	case "docker":
		return NewDockerRunner(cfg, workDir, logger)
	default:
		return nil, fmt.Errorf("unknown sandbox kind %q", cfg.Kind)
	}
}
