// Package config loads an endpoint's file-based configuration: listen
// and peer addresses, store replication intervals, and the recording
// directory/cap, from a TOML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written and read back as a
// TOML string such as "5s" instead of a raw nanosecond integer.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Store holds the clone replication intervals for a single attached
// store.
type Store struct {
	Topic                  string   `toml:"topic"`
	ResyncInterval         Duration `toml:"resync-interval"`
	StaleInterval          Duration `toml:"stale-interval"`
	MutationBufferInterval Duration `toml:"mutation-buffer-interval"`
}

// Config is the root of broker.toml.
type Config struct {
	ListenAddress      string   `toml:"listen-address"`
	PeerAddresses      []string `toml:"peer-addresses"`
	RecordingDirectory string   `toml:"recording-directory"`
	OutputFileCap      int      `toml:"output-generator-file-cap"`
	Stores             []Store  `toml:"stores"`
}

// Default returns a Config listening on :4243 with no recording
// directory, an output file cap of 10000 and no stores configured.
func Default() Config {
	return Config{
		ListenAddress:      ":4243",
		RecordingDirectory: "",
		OutputFileCap:      10000,
	}
}

// Load decodes a TOML configuration file at path under the [broker]
// table, starting from Default() so unset fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	var root struct {
		Broker Config `toml:"broker"`
	}
	root.Broker = cfg

	if _, err := toml.DecodeFile(path, &root); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return root.Broker, root.Broker.Validate()
}

// Validate reports a malformed configuration.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen-address must not be empty")
	}
	if c.OutputFileCap < 0 {
		return fmt.Errorf("config: output-generator-file-cap must not be negative")
	}
	for _, s := range c.Stores {
		if s.Topic == "" {
			return fmt.Errorf("config: store entry missing topic")
		}
	}
	return nil
}

// EnsureRecordingDirectory creates the configured recording directory
// if one was set and it does not yet exist.
func (c Config) EnsureRecordingDirectory() error {
	if c.RecordingDirectory == "" {
		return nil
	}
	return os.MkdirAll(c.RecordingDirectory, 0o755)
}
