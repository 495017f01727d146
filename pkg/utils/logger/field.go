package logger

import (
	"time"

	"go.uber.org/zap"
)

type Field = zap.Field

// 常用字段构造函数（透传zap，避免业务代码直接依赖zap包）
func String(key, val string) Field { return zap.String(key, val) }

func Strings(key string, val []string) Field { return zap.Strings(key, val) }

func Int(key string, val int) Field { return zap.Int(key, val) }

func Uint8(key string, val uint8) Field { return zap.Uint8(key, val) }

func Uint32(key string, val uint32) Field { return zap.Uint32(key, val) }

func Uint64(key string, val uint64) Field { return zap.Uint64(key, val) }

func Float64(key string, val float64) Field { return zap.Float64(key, val) }

func Bool(key string, val bool) Field { return zap.Bool(key, val) }

func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }

func Err(err error) Field { return zap.Error(err) }
