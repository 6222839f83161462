package internal

import (
	"fmt"
	"os"

	"github.com/DreamCats/ctxportal/internal/config"
)

// LoadConfig 读取 --config 指定的配置文件；未指定时读取默认位置。
// 默认位置不存在配置文件时回退到内置默认值（tfidf，无需网络），显式指定的文件不存在则报错。
func LoadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}

	cfg, err := config.Load()
	if config.IsConfigNotFound(err) {
		return config.Default()
	}
	return cfg, err
}

// ConfigPath 返回 init 命令要写入的配置文件路径。
func ConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}

// PrintConfigHint 向 stderr 打印配置文件位置与下一步操作提示。
func PrintConfigHint(path string) {
	fmt.Fprintf(os.Stderr, `Configuration file: %s

The default provider is "tfidf", which needs no network access.
To use a neural model, edit the embedding section:

  embedding:
    provider: local              # Ollama at http://localhost:11434
    model: nomic-embed-text

  embedding:
    provider: openai             # key from api_key or $%s
    model: text-embedding-3-small

After switching providers run: ctxportal rebuild
`, path, config.APIKeyEnv)
}
