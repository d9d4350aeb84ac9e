package logutil

import (
    "encoding/json"
    "fmt"
    "log"
    "os"
    "strings"
    "sync/atomic"
    "time"
)

var (
    jsonMode  atomic.Bool
    debugMode atomic.Bool
)

func init() {
    if os.Getenv("PARTITION_LOG_JSON") == "1" || os.Getenv("PARTITION_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
    if os.Getenv("PARTITION_LOG_DEBUG") == "1" {
        debugMode.Store(true)
    }
}

func prefix(l *log.Logger, p string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), l.Prefix()+p, l.Flags())
}

// Named returns a logger writing to the same sink as l with name appended to
// its prefix (e.g. "partition-1 ").
func Named(l *log.Logger, name string) *log.Logger {
    if l == nil { l = log.Default() }
    return log.New(l.Writer(), l.Prefix()+name+" ", l.Flags())
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
    if l == nil { l = log.Default() }
    if jsonMode.Load() {
        evt := map[string]any{
            "ts":    time.Now().UTC().Format(time.RFC3339Nano),
            "level": level,
            "msg":   fmt.Sprintf(f, args...),
        }
        if p := strings.TrimSpace(l.Prefix()); p != "" { evt["logger"] = p }
        b, _ := json.Marshal(evt)
        log.New(l.Writer(), "", l.Flags()).Println(string(b))
        return
    }
    switch level {
    case "debug":
        prefix(l, "DEBUG ").Printf(f, args...)
    case "info":
        prefix(l, "INFO ").Printf(f, args...)
    case "warn":
        prefix(l, "WARN ").Printf(f, args...)
    default:
        prefix(l, "ERROR ").Printf(f, args...)
    }
}
