// Package log 提供zkcircuits库的统一日志接口
//
// 🎯 **设计原则**
// - 统一接口：为所有模块提供统一的日志接口
// - 依赖注入：日志记录器通过构造函数注入，不使用全局状态
// - 高性能：基于zap实现，支持文件轮转输出
package log

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 定义日志记录器接口
type Logger interface {
	// Debug 记录调试级别的日志
	Debug(msg string)

	// Debugf 使用格式化字符串记录调试级别的日志
	Debugf(format string, args ...interface{})

	// Info 记录信息级别的日志
	Info(msg string)

	// Infof 使用格式化字符串记录信息级别的日志
	Infof(format string, args ...interface{})

	// Warn 记录警告级别的日志
	Warn(msg string)

	// Warnf 使用格式化字符串记录警告级别的日志
	Warnf(format string, args ...interface{})

	// Error 记录错误级别的日志
	Error(msg string)

	// Errorf 使用格式化字符串记录错误级别的日志
	Errorf(format string, args ...interface{})

	// With 返回一个带有额外字段的Logger
	With(args ...interface{}) Logger

	// Sync 同步日志缓冲区到输出
	Sync() error
}

// Options 日志配置选项
type Options struct {
	// Level 日志级别："debug" | "info" | "warn" | "error"
	Level string

	// FilePath 日志文件路径，为空时仅输出到stderr
	FilePath string

	// MaxSizeMB 单个日志文件最大体积（MB），用于轮转
	MaxSizeMB int

	// MaxBackups 保留的历史日志文件数量
	MaxBackups int
}

// DefaultOptions 返回默认日志配置
func DefaultOptions() *Options {
	return &Options{
		Level:      "info",
		MaxSizeMB:  100,
		MaxBackups: 3,
	}
}

// zapLogger 基于zap的Logger实现
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New 创建zap日志记录器
func New(opts *Options) Logger {
	if opts == nil {
		opts = DefaultOptions()
	}

	level := zapcore.InfoLevel
	if err := level.Set(opts.Level); err != nil {
		level = zapcore.InfoLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if opts.FilePath != "" {
		// 文件输出使用lumberjack进行轮转
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	return &zapLogger{sugar: zap.New(core).Sugar()}
}

// Nop 返回丢弃所有输出的日志记录器（用于测试和CLI场景）
func Nop() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string)                          { l.sugar.Debug(msg) }
func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(msg string)                           { l.sugar.Info(msg) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(msg string)                           { l.sugar.Warn(msg) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(msg string)                          { l.sugar.Error(msg) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) With(args ...interface{}) Logger {
	return &zapLogger{sugar: l.sugar.With(args...)}
}

func (l *zapLogger) Sync() error {
	return l.sugar.Sync()
}
