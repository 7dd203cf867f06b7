package logger

import (
	"log"
	"strings"
	"sync/atomic"
)

// Level 日志级别
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelSuccess Level = "SUCCESS"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo, LevelSuccess:
		return 1
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel 解析配置中的级别名，未知值按 info 处理
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var minLevel atomic.Value

func init() {
	minLevel.Store(LevelInfo)
}

// InitLogger 初始化日志器
func InitLogger(level string) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	SetLevel(ParseLevel(level))
	log.Printf("Logger initialized, level=%s", ParseLevel(level))
}

// SetLevel 调整最低输出级别，配置热加载时调用
func SetLevel(level Level) {
	minLevel.Store(level)
}

// Enabled 判断该级别是否输出
func Enabled(level Level) bool {
	current, _ := minLevel.Load().(Level)
	return level.rank() >= current.rank()
}
