package internal

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveWorkspace 解析工作区根目录的绝对路径。
// 位于 Git 仓库内时返回仓库根目录，否则返回该路径本身。
func ResolveWorkspace(path string) (string, error) {
	root := path
	if root == "" {
		root = "."
	}

	absPath, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	if gitRoot := gitTopLevel(absPath); gitRoot != "" {
		absPath = gitRoot
	}

	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		absPath = resolved
	}

	return absPath, nil
}

// gitTopLevel 返回给定目录所在 Git 仓库的根路径。
// 不在仓库内或未安装 git 时返回空字符串。
func gitTopLevel(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
