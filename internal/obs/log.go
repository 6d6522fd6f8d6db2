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

// Logger returns the process-wide logger. Access and audit entries share the
// same stdout sink so a verification flow reads as one interleaved stream.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// HTTPLine emits one JSON access-log entry for a served request.
func HTTPLine(method, path, requestID string, status int, duration time.Duration) {
	entry := map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"type":        "http",
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	}
	if requestID != "" {
		entry["request_id"] = requestID
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"type":"http","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
