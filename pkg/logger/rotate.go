package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultAuditMaxSizeMB  = 100
	defaultAuditMaxBackups = 7
	defaultAuditMaxAgeDays = 30
)

// newRotatingWriter 基于 lumberjack 构造按大小滚动的审计日志文件。
func newRotatingWriter(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("审计日志路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计日志目录失败: %w", err)
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultAuditMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaultAuditMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = defaultAuditMaxAgeDays
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}
