package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace 为工具读写文件的根目录。
//
//	<root>/skills    技能目录（<skill>/SKILL.md）
//	<root>/data      数据集描述（<name>.md）
//	<root>/results   save_result 输出
//	<root>/contexts  save_context 输出（<agent>/<name>.txt）
type Workspace struct {
	Root string
}

func NewWorkspace(root string) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{Root: abs}, nil
}

// Ensure 创建工作区的标准子目录。
func (w *Workspace) Ensure() error {
	for _, dir := range []string{w.SkillsDir(), w.DataDir(), w.ResultsDir(), w.ContextsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workspace dir %s: %w", dir, err)
		}
	}
	return nil
}

func (w *Workspace) SkillsDir() string   { return filepath.Join(w.Root, "skills") }
func (w *Workspace) DataDir() string     { return filepath.Join(w.Root, "data") }
func (w *Workspace) ResultsDir() string  { return filepath.Join(w.Root, "results") }
func (w *Workspace) ContextsDir() string { return filepath.Join(w.Root, "contexts") }

// Resolve 将相对路径解析到工作区根目录下，绝对路径原样返回。
func (w *Workspace) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(w.Root, p)
}

// validName 判断 name 能否作为单层文件/目录名使用。
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
