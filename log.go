package broker

import "github.com/tsne/broker/internal/logx"

// Logger defines the interface used throughout the package for
// component-tagged, leveled logging. The default logger is backed by
// glog and configured from BROKER_DEBUG_VERBOSE, BROKER_DEBUG_LEVEL and
// BROKER_DEBUG_COMPONENT_FILTER (see package logx).
type Logger interface {
	Warningf(component, format string, args ...interface{})
	Infof(component, format string, args ...interface{})
	Debugf(component, format string, args ...interface{})
}

var logger Logger = logx.New(logx.FromEnv())

// SetLogger installs a custom logger for the package. This should be
// called before any endpoint is constructed; it is not concurrency-safe
// to change the logger while endpoints are running.
func SetLogger(l Logger) {
	if l == nil {
		panic("broker: logger is nil")
	}
	logger = l
}

// DevNullLogger returns a Logger that discards everything.
func DevNullLogger() Logger {
	return devNullLogger{}
}

type devNullLogger struct{}

func (devNullLogger) Warningf(component, format string, args ...interface{}) {}
func (devNullLogger) Infof(component, format string, args ...interface{})    {}
func (devNullLogger) Debugf(component, format string, args ...interface{})   {}
