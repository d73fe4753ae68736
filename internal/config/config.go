package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/wwwzy/DataAgent/internal/contextwin"
	"github.com/wwwzy/DataAgent/internal/sandbox"
	"github.com/wwwzy/DataAgent/internal/storage"
)

const (
	FlagStoreFile = "file"
	FlagStoreDB   = "db"
)

type ArkConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	ModelID     string  `mapstructure:"model_id"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
}

type AgentConfig struct {
	// Name 为 agent 实例名，压缩标记与 save_context 目录按它区分。
	Name    string `mapstructure:"name"`
	MaxStep int    `mapstructure:"max_step"`
	// SystemPromptFile 为自定义系统提示词文件，空则使用内置提示词。
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

type WorkspaceConfig struct {
	// Root 下包含 skills/ data/ results/ contexts/。
	Root string `mapstructure:"root"`
}

type ContextConfig struct {
	contextwin.Policy `mapstructure:",squash"`
	// AnchorTemplate 为自定义锚点模板文件，空则使用内置模板。
	AnchorTemplate string `mapstructure:"anchor_template"`
	// FlagStore 为 file 或 db。
	FlagStore string `mapstructure:"flag_store"`
	// FlagDir 为 file 后端的目录，相对路径基于工作区根目录。
	FlagDir string `mapstructure:"flag_dir"`
}

type Config struct {
	Storage   storage.Config  `mapstructure:"storage"`
	Ark       ArkConfig       `mapstructure:"ark"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Context   ContextConfig   `mapstructure:"context"`
	Sandbox   sandbox.Config  `mapstructure:"sandbox"`
	LogLevel  string          `mapstructure:"log_level"`
}

func Load(cfgFile string) (*Config, error) {
	// .env 中的变量不覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 .env 失败: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		// 默认搜索路径
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dataagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DATAAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal 只认识来自配置文件、Defaults 或显式 Bind 的 key，
	// 所以所有 key 都需要在 setDefaults 中声明。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件未找到，使用默认值
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验与模型无关的配置。模型凭据只在真正构建 agent 时校验（ValidateModel），
// 以便 context/storage 等子命令在没有凭据时也能使用。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Name) == "" {
		return fmt.Errorf("agent.name is required")
	}
	if c.Agent.MaxStep <= 0 {
		return fmt.Errorf("agent.max_step must be > 0")
	}
	if c.Context.MinHistory < 0 || c.Context.KeepRecent < 0 {
		return fmt.Errorf("context.min_history and context.keep_recent must be >= 0")
	}
	switch c.Context.FlagStore {
	case FlagStoreFile, FlagStoreDB:
	default:
		return fmt.Errorf("context.flag_store must be %q or %q, got %q", FlagStoreFile, FlagStoreDB, c.Context.FlagStore)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

func (c *Config) ValidateModel() error {
	if c.Ark.APIKey == "" {
		return fmt.Errorf("ark.api_key is required (or set ARK_API_KEY env var)")
	}
	if c.Ark.ModelID == "" {
		return fmt.Errorf("ark.model_id is required (or set ARK_MODEL_ID env var)")
	}
	return nil
}

// SetupLogging 按 log_level 配置全局 logrus。
func (c *Config) SetupLogging() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Global Defaults (全局默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("log_level", d.LogLevel)

	// -------------------------------------------------------------------------
	// Storage Defaults (存储默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", time.Duration(0))

	// -------------------------------------------------------------------------
	// Agent / Workspace Defaults
	// -------------------------------------------------------------------------
	v.SetDefault("agent.name", d.Agent.Name)
	v.SetDefault("agent.max_step", d.Agent.MaxStep)
	v.SetDefault("agent.system_prompt_file", "")
	v.SetDefault("workspace.root", d.Workspace.Root)

	// -------------------------------------------------------------------------
	// Context Window Defaults (上下文压缩默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("context.min_history", d.Context.MinHistory)
	v.SetDefault("context.keep_recent", d.Context.KeepRecent)
	v.SetDefault("context.anchor_template", "")
	v.SetDefault("context.flag_store", d.Context.FlagStore)
	v.SetDefault("context.flag_dir", d.Context.FlagDir)

	// -------------------------------------------------------------------------
	// Sandbox Defaults (代码执行默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("sandbox.kind", d.Sandbox.Kind)
	v.SetDefault("sandbox.python", d.Sandbox.Python)
	v.SetDefault("sandbox.timeout", d.Sandbox.Timeout)
	v.SetDefault("sandbox.max_output_bytes", d.Sandbox.MaxOutputBytes)
	v.SetDefault("sandbox.docker.image", d.Sandbox.Docker.Image)
	v.SetDefault("sandbox.docker.platform", "")
	v.SetDefault("sandbox.docker.network", d.Sandbox.Docker.Network)
	v.SetDefault("sandbox.docker.memory_bytes", int64(0))

	// -------------------------------------------------------------------------
	// Ark AI Defaults (AI 模型默认值)
	// -------------------------------------------------------------------------
	v.SetDefault("ark.api_key", "")
	v.SetDefault("ark.model_id", "")
	v.SetDefault("ark.base_url", d.Ark.BaseURL)
	v.SetDefault("ark.temperature", d.Ark.Temperature)

	_ = v.BindEnv("ark.api_key", "ARK_API_KEY")
	_ = v.BindEnv("ark.model_id", "ARK_MODEL_ID")
	_ = v.BindEnv("ark.base_url", "ARK_BASE_URL")
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Storage: storage.Config{
			Driver:      storage.DriverSQLite,
			Path:        "dataagent.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
		},
		Ark: ArkConfig{
			BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
		},
		Agent: AgentConfig{
			Name:    "data_analysis",
			MaxStep: 40,
		},
		Workspace: WorkspaceConfig{
			Root: ".",
		},
		Context: ContextConfig{
			Policy:    contextwin.DefaultPolicy(),
			FlagStore: FlagStoreFile,
			FlagDir:   ".dataagent/flags",
		},
		Sandbox: sandbox.DefaultConfig(),
	}
}
