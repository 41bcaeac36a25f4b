// Package logger builds the zap logger used across the service and the
// helpers that keep submitted code out of log output.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("execution finished", logger.Code(code)...)
package logger
