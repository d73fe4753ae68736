package sandbox

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout 为代码执行的默认超时时间。
const DefaultTimeout = 60 * time.Second

// ErrTimeout 表示代码执行超过了 wall-clock 超时。
var ErrTimeout = errors.New("execution timeout")

// Request 描述一次代码执行：Code 与 ScriptPath 二选一，ScriptPath 优先。
type Request struct {
	Code       string
	ScriptPath string
	Args       []string
}

// Result 为一次执行的输出。ExitCode 非 0 并不视为 error。
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner 执行 Python 代码或脚本。
// 超时返回 ErrTimeout（可用 errors.Is 判断），其余基础设施错误原样返回。
type Runner interface {
	Run(ctx context.Context, req Request) (Result, error)
}

type Config struct {
	// Kind 为 local（默认）或 docker。
	Kind    string        `mapstructure:"kind"`
	Python  string        `mapstructure:"python"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxOutputBytes 限制 stdout/stderr 各自保留的字节数（保留尾部）。
	MaxOutputBytes int          `mapstructure:"max_output_bytes"`
	Docker         DockerConfig `mapstructure:"docker"`
}

type DockerConfig struct {
	Image string `mapstructure:"image"`
	// Platform 可选，例如 linux/amd64。
	Platform string `mapstructure:"platform"`
	// Network 为容器网络模式，默认 none。
	Network string `mapstructure:"network"`
	// MemoryBytes 为容器内存上限，<=0 不限制。
	MemoryBytes int64 `mapstructure:"memory_bytes"`
}

func DefaultConfig() Config {
	return Config{
		Kind:           "local",
		Python:         "python3",
		Timeout:        DefaultTimeout,
		MaxOutputBytes: 64 * 1024,
		Docker: DockerConfig{
			Image:   "python:3.12-slim",
			Network: "none",
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.Python == "" {
		c.Python = d.Python
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = d.MaxOutputBytes
	}
	if c.Docker.Image == "" {
		c.Docker.Image = d.Docker.Image
	}
	if c.Docker.Network == "" {
		c.Docker.Network = d.Docker.Network
	}
	return c
}

func validate(req Request) error {
	if req.ScriptPath == "" && req.Code == "" {
		return errors.New("either code or script_path is required")
	}
	return nil
}

func truncateTail(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return "...(truncated)...\n" + s[len(s)-maxLen:]
}
