package logutil

import (
    "fmt"
    "log"
    "os"
    "sync/atomic"
    "time"

    json "github.com/goccy/go-json"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("L2COORD_LOG_JSON") == "1" || os.Getenv("L2COORD_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if os.Getenv("L2COORD_LOG_DEBUG") == "1" {
        debugMode.Store(true)
    }
}

// OrDefault returns l, or log.Default() when l is nil.
func OrDefault(l *log.Logger) *log.Logger {
    if l == nil { return log.Default() }
    return l
}

func SetJSON(enabled bool)  { jsonMode.Store(enabled) }
func SetDebug(enabled bool) { debugMode.Store(enabled) }

func Debugf(l *log.Logger, f string, args ...any) {
    if !debugMode.Load() { return }
    logf(l, "debug", f, args...)
}
func Infof(l *log.Logger, f string, args ...any)  { logf(l, "info", f, args...) }
func Warnf(l *log.Logger, f string, args ...any)  { logf(l, "warn", f, args...) }
func Errorf(l *log.Logger, f string, args ...any) { logf(l, "error", f, args...) }

func logf(l *log.Logger, level, f string, args ...any) {
    l = OrDefault(l)
    msg := fmt.Sprintf(f, args...)
    if jsonMode.Load() {
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   msg,
        }
        b, _ := json.Marshal(evt)
        l.Println(string(b))
        return
    }
    var p string
    switch level {
    case "debug":
        p = "DEBUG "
    case "info":
        p = "INFO "
    case "warn":
        p = "WARN "
    default:
        p = "ERROR "
    }
    _ = l.Output(3, p+msg)
}
