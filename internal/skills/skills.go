// Package skills 发现工作区中的技能（<dir>/<skill>/SKILL.md），并生成注入系统提示词的技能清单。
package skills

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const FileName = "SKILL.md"

// Skill 为一个技能的元信息，来自 SKILL.md 的 YAML front matter。
type Skill struct {
	// Dir 为技能目录名，use_skill 的 skill_name 参数。
	Dir         string `yaml:"-"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Path        string `yaml:"-"`
}

// Discover 列出 dir 下所有包含 SKILL.md 的子目录，按目录名排序。
// dir 不存在时返回空列表。
func Discover(dir string) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var out []Skill
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), FileName)
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		sk, err := parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		sk.Dir = e.Name()
		sk.Path = path
		if sk.Name == "" {
			sk.Name = e.Name()
		}
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

// parse 解析 --- 包围的 front matter；没有 front matter 时返回零值。
func parse(data []byte) (Skill, error) {
	var sk Skill
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	if !strings.HasPrefix(text, "---\n") {
		return sk, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return sk, errors.New("unterminated front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end]), &sk); err != nil {
		return sk, err
	}
	sk.Name = strings.TrimSpace(sk.Name)
	sk.Description = strings.TrimSpace(sk.Description)
	return sk, nil
}

// Prompt 渲染追加到系统提示词的技能清单，没有技能时返回空字符串。
func Prompt(skills []Skill, dir string) string {
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Skills\n\n")
	fmt.Fprintf(&b, "The following skills are available under %s. ", dir)
	b.WriteString("Before following a skill, call use_skill with its skill_name to read the full instructions.\n\n")
	for _, s := range skills {
		fmt.Fprintf(&b, "- %s (skill_name: %s)", s.Name, s.Dir)
		if s.Description != "" {
			b.WriteString(": " + s.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}
