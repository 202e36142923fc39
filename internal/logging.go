package internal

import (
	"log"
	"os"
)

// NewLogger creates a process logger with the shared prefix.
func NewLogger(component string) *log.Logger {
	prefix := "sdlcsquad"
	if component != "" {
		prefix = prefix + "/" + component
	}
	return log.New(os.Stdout, prefix+" ", log.LstdFlags|log.Lmicroseconds)
}

// WithRequestID derives a logger that tags every line with a request id.
func WithRequestID(logger *log.Logger, requestID string) *log.Logger {
	if logger == nil {
		logger = log.Default()
	}
	if requestID == "" {
		return logger
	}
	return log.New(logger.Writer(), logger.Prefix()+"["+requestID+"] ", logger.Flags())
}
