// Package logx implements the leveled, component-filtered logging that
// backs the broker package's Logger seam. It reads its defaults from the
// same environment variables the original C++ implementation used:
// BROKER_DEBUG_VERBOSE, BROKER_DEBUG_LEVEL and BROKER_DEBUG_COMPONENT_FILTER.
package logx

import (
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// Level mirrors glog's verbosity levels. Higher levels are noisier.
type Level int

const (
	// LevelWarning covers protocol violations and bad-receiver drops.
	LevelWarning Level = 0
	// LevelInfo covers connection lifecycle and status events.
	LevelInfo Level = 1
	// LevelDebug covers per-message routing decisions.
	LevelDebug Level = 2
)

// Component names used as the second argument to Filter's component
// allowlist. Kept as typed constants so call sites can't typo them past
// the compiler.
const (
	ComponentPeer      = "peer"
	ComponentRouting   = "routing"
	ComponentMultipath = "multipath"
	ComponentMaster    = "master"
	ComponentClone     = "clone"
	ComponentEndpoint  = "endpoint"
	ComponentTransport = "transport"
)

// Filter decides, for a given component and level, whether a log line
// should be emitted. The zero Filter logs only LevelWarning lines, with
// no component restriction.
type Filter struct {
	level      Level
	components map[string]bool // nil means "all components"
}

// FromEnv builds a Filter from BROKER_DEBUG_VERBOSE, BROKER_DEBUG_LEVEL
// and BROKER_DEBUG_COMPONENT_FILTER.
func FromEnv() Filter {
	f := Filter{level: LevelWarning}
	if verbose, _ := strconv.ParseBool(os.Getenv("BROKER_DEBUG_VERBOSE")); verbose {
		f.level = LevelDebug
	}
	if lvl := os.Getenv("BROKER_DEBUG_LEVEL"); lvl != "" {
		if n, err := strconv.Atoi(lvl); err == nil {
			f.level = Level(n)
		}
	}
	if comps := os.Getenv("BROKER_DEBUG_COMPONENT_FILTER"); comps != "" {
		f.components = make(map[string]bool)
		for _, c := range strings.Split(comps, ",") {
			c = strings.TrimSpace(c)
			if c != "" {
				f.components[c] = true
			}
		}
	}
	return f
}

// Enabled reports whether a log line for component at level should be
// emitted under this filter.
func (f Filter) Enabled(component string, level Level) bool {
	if level > f.level {
		return false
	}
	if f.components == nil {
		return true
	}
	return f.components[component]
}

// Logger emits component-tagged, leveled log lines through glog.
type Logger struct {
	filter Filter
}

// New returns a Logger using filter to decide what to emit.
func New(filter Filter) *Logger {
	return &Logger{filter: filter}
}

// Warningf logs at LevelWarning, unconditional on the level but still
// subject to the component allowlist.
func (l *Logger) Warningf(component, format string, args ...interface{}) {
	if l.filter.Enabled(component, LevelWarning) {
		glog.Warningf("["+component+"] "+format, args...)
	}
}

// Infof logs at LevelInfo.
func (l *Logger) Infof(component, format string, args ...interface{}) {
	if l.filter.Enabled(component, LevelInfo) {
		glog.Infof("["+component+"] "+format, args...)
	}
}

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(component, format string, args ...interface{}) {
	if l.filter.Enabled(component, LevelDebug) {
		glog.V(glog.Level(LevelDebug)).Infof("["+component+"] "+format, args...)
	}
}
