package logger

import (
	"io"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Option = zap.Option

// AddCaller 在日志中记录调用方文件与行号
func AddCaller() Option { return zap.AddCaller() }

// AddCallerSkip 调整调用栈跳过层数（包级函数封装时需要+1）
func AddCallerSkip(skip int) Option { return zap.AddCallerSkip(skip) }

// NewSizeRotateWriter 创建按大小轮转的日志输出（基于lumberjack）
// 参数:
//   filename: 日志文件路径
//   maxSizeMB: 单个文件大小上限（MB）
//   maxBackups: 保留的历史文件数
//   maxAgeDays: 历史文件保留天数
func NewSizeRotateWriter(filename string, maxSizeMB, maxBackups, maxAgeDays int) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
}

// NewTimeRotateWriter 创建按时间轮转的日志输出（基于file-rotatelogs）
// 文件名按小时切分，filename保持为指向最新文件的软链接
func NewTimeRotateWriter(filename string, rotationTime, maxAge time.Duration) (io.Writer, error) {
	w, err := rotatelogs.New(
		filename+".%Y%m%d%H",
		rotatelogs.WithLinkName(filename),
		rotatelogs.WithRotationTime(rotationTime),
		rotatelogs.WithMaxAge(maxAge),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "create rotate log %s", filename)
	}
	return w, nil
}
