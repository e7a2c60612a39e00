// Package obs carries the service's observability primitives: the JSON
// line logger that request logging and the audit trail both write through,
// Prometheus metrics for the HTTP layer and the auth lifecycle, and the
// build_info gauge.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide line logger. Request logs and audit
// events share this one writer so entries interleave as whole lines.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest marshals the entry to a single JSON line. A marshal failure
// still produces a parseable line rather than dropping the event.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry not marshalable"}`)
		return
	}
	Logger().Println(string(data))
}
