package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/containerd/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/sirupsen/logrus"
)

// ContainerWorkDir 为工作区在容器内的挂载点。
const ContainerWorkDir = "/workspace"

var (
	dockerCli *client.Client
	dockerErr error
	once      sync.Once
)

// GetClient 获取 Docker Client 单例
// 懒加载模式，第一次调用时初始化
func GetClient() (*client.Client, error) {
	once.Do(func() {
		// 使用 FromEnv 自动读取环境变量 (DOCKER_HOST, etc.)
		dockerCli, dockerErr = client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
	})
	if dockerErr != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", dockerErr)
	}
	return dockerCli, nil
}

// CloseClient 关闭 Docker Client 连接，建议在程序退出时调用
func CloseClient() error {
	if dockerCli != nil {
		return dockerCli.Close()
	}
	return nil
}

// DockerRunner 在一次性容器中执行代码：工作区以读写方式挂载到 /workspace。
type DockerRunner struct {
	Image          string
	Platform       string
	Network        string
	MemoryBytes    int64
	WorkDir        string
	Timeout        time.Duration
	MaxOutputBytes int
	Logger         logrus.FieldLogger
}

func NewDockerRunner(cfg Config, workDir string, logger logrus.FieldLogger) (*DockerRunner, error) {
	cfg = cfg.withDefaults()
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DockerRunner{
		Image:          cfg.Docker.Image,
		Platform:       cfg.Docker.Platform,
		Network:        cfg.Docker.Network,
		MemoryBytes:    cfg.Docker.MemoryBytes,
		WorkDir:        abs,
		Timeout:        cfg.Timeout,
		MaxOutputBytes: cfg.MaxOutputBytes,
		Logger:         logger.WithField("component", "sandbox"),
	}, nil
}

func (r *DockerRunner) Run(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	cmd, err := r.command(req)
	if err != nil {
		return Result{}, err
	}

	cli, err := GetClient()
	if err != nil {
		return Result{}, err
	}

	platform, err := parsePlatform(r.Platform)
	if err != nil {
		return Result{}, err
	}
	if err := r.ensureImage(ctx, cli); err != nil {
		return Result{}, err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostCfg := &container.HostConfig{
		Binds:       []string{r.WorkDir + ":" + ContainerWorkDir},
		NetworkMode: container.NetworkMode(r.Network),
	}
	if r.MemoryBytes > 0 {
		hostCfg.Resources.Memory = r.MemoryBytes
	}

	name := "dataagent-run-" + uuid.NewString()[:8]
	resp, err := cli.ContainerCreate(runCtx,
		&container.Config{
			Image:      r.Image,
			Cmd:        cmd,
			WorkingDir: ContainerWorkDir,
		},
		hostCfg,
		&network.NetworkingConfig{},
		platform,
		name,
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create container: %w", err)
	}
	containerID := resp.ID
	defer r.remove(cli, containerID)

	if err := cli.ContainerStart(runCtx, containerID, container.StartOptions{}); err != nil {
		return Result{}, fmt.Errorf("failed to start container %s: %w", name, err)
	}

	exitCode, waitErr := waitContainer(runCtx, cli, containerID)
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res, _ := r.collectLogs(cli, containerID)
		return res, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if waitErr != nil {
		return Result{}, waitErr
	}

	res, err := r.collectLogs(cli, containerID)
	if err != nil {
		return Result{}, err
	}
	res.ExitCode = exitCode
	return res, nil
}

func (r *DockerRunner) command(req Request) ([]string, error) {
	if req.ScriptPath == "" {
		return []string{"python", "-c", req.Code}, nil
	}
	p := req.ScriptPath
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.WorkDir, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("script %s is outside the workspace", req.ScriptPath)
		}
		p = rel
	}
	p = path.Join(ContainerWorkDir, filepath.ToSlash(p))
	if !strings.HasPrefix(p, ContainerWorkDir+"/") {
		return nil, fmt.Errorf("script %s is outside the workspace", req.ScriptPath)
	}
	return append([]string{"python", p}, req.Args...), nil
}

// ensureImage 优先使用本地镜像，不存在时拉取
func (r *DockerRunner) ensureImage(ctx context.Context, cli *client.Client) error {
	_, err := cli.ImageInspect(ctx, r.Image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", r.Image, err)
	}

	r.Logger.WithField("image", r.Image).Info("image not found locally, pulling")
	reader, err := cli.ImagePull(ctx, r.Image, image.PullOptions{Platform: r.Platform})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", r.Image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read image pull output: %w", err)
	}
	return nil
}

func waitContainer(ctx context.Context, cli *client.Client, containerID string) (int, error) {
	statusCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return int(st.StatusCode), fmt.Errorf("container wait: %s", st.Error.Message)
		}
		return int(st.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("container wait: %w", err)
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *DockerRunner) collectLogs(cli *client.Client, containerID string) (Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to get logs for %s: %w", containerID, err)
	}
	defer reader.Close()

	var outBuf, errBuf strings.Builder
	// 容器未开启 TTY，输出为多路复用流
	if _, err := stdcopy.StdCopy(&outBuf, &errBuf, reader); err != nil {
		return Result{}, fmt.Errorf("stdcopy failed: %w", err)
	}
	return Result{
		Stdout: truncateTail(outBuf.String(), r.MaxOutputBytes),
		Stderr: truncateTail(errBuf.String(), r.MaxOutputBytes),
	}, nil
}

func (r *DockerRunner) remove(cli *client.Client, containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		r.Logger.WithError(err).WithField("container", containerID).Warn("failed to remove sandbox container")
	}
}

// parsePlatform 解析 os/arch[/variant]，空字符串返回 nil。
func parsePlatform(s string) (*ocispec.Platform, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid platform %q, want os/arch[/variant]", s)
	}
	p := &ocispec.Platform{OS: parts[0], Architecture: parts[1]}
	if len(parts) == 3 {
		p.Variant = parts[2]
	}
	return p, nil
}
