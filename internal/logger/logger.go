package logger

import (
	"grid-scalper-bot-go/internal/models"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu     sync.RWMutex
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	closer func() error
)

// InitLogger 初始化zap日志记录器，重复调用会替换之前的实例
func InitLogger(cfg models.LogConfig) {
	// 配置日志级别
	logLevel := zap.NewAtomicLevel()
	if err := logLevel.UnmarshalText([]byte(cfg.Level)); err != nil {
		logLevel.SetLevel(zap.InfoLevel) // 默认为Info级别
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	// 文件输出不带颜色
	fileEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	// 为控制台输出启用颜色
	colorConfig := encoderConfig
	colorConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(colorConfig)

	var (
		cores   []zapcore.Core
		rotator *lumberjack.Logger
	)

	output := strings.ToLower(cfg.Output)
	if (output == "file" || output == "both") && cfg.File != "" {
		// 设置lumberjack进行日志切割
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotator), logLevel))
	}

	if output == "console" || output == "both" || len(cores) == 0 {
		// 没有有效的core（例如配置错误）时也输出到控制台
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(os.Stdout), logLevel))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer()
		closer = nil
	}
	if rotator != nil {
		closer = rotator.Close
	}
	base = l
	sugar = l.Sugar()
}

// L 返回全局的结构化logger，用于注入到各个组件
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if base == nil {
		// 如果logger未初始化，则提供一个默认的应急logger
		l, _ := zap.NewDevelopment()
		return l
	}
	return base
}

// S 返回全局的sugared logger实例
func S() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		l, _ := zap.NewDevelopment()
		return l.Sugar()
	}
	return sugar
}

// Sync 刷新缓冲并关闭日志文件
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if base != nil {
		_ = base.Sync()
	}
	if closer != nil {
		_ = closer()
		closer = nil
	}
}
