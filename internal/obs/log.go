package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields.
func LogRequest(entry map[string]any) {
	writeEntry(entry)
}

// LogEvent emits a leveled JSON line. Fields never override ts/level/msg.
func LogEvent(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		entry[k] = v
	}
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	writeEntry(entry)
}

// Info logs at info level.
func Info(msg string, fields map[string]any) { LogEvent("info", msg, fields) }

// Warn logs at warn level.
func Warn(msg string, fields map[string]any) { LogEvent("warn", msg, fields) }

// Error logs at error level; err is attached under "error" when non-nil.
func Error(msg string, err error, fields map[string]any) {
	if err != nil {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["error"] = err.Error()
	}
	LogEvent("error", msg, fields)
}

func writeEntry(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"ts":"error","level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
