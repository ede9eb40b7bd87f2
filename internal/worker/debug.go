package worker

import (
	"os"
	"strings"

	"funchatgo/internal/logger"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("FUNCHAT_WORKER_DEBUG"), "1")

func debugLog(msg string, keyvals ...interface{}) {
	if workerDebugEnabled {
		logger.Component("worker").Info(msg, keyvals...)
	}
}
