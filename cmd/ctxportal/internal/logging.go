package internal

import (
	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/logging"
)

// SetupLogging 为子命令初始化日志文件并安装为全局 logger。
// echo 为 true 时同时输出到 stderr；MCP 服务的 stdio 承载 JSON-RPC，必须关闭 echo。
func SetupLogging(cfg *config.Config, subcommand string, echo bool) (*logging.Logger, error) {
	logger, _, err := logging.Init(cfg.Log.Dir, subcommand, logging.ParseLevel(cfg.Log.Level), echo)
	if err != nil {
		return nil, err
	}
	return logger, nil
}
