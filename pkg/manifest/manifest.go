// Package manifest loads and saves procwatch.yaml, the daemon's
// configuration file.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest file looked up in the working directory.
const FileName = "procwatch.yaml"

// Manifest represents a procwatch.yaml configuration file.
type Manifest struct {
	Version         int                `yaml:"version"                    json:"version"`
	Root            string             `yaml:"root,omitempty"             json:"root,omitempty"`
	History         int                `yaml:"history,omitempty"          json:"history,omitempty"`
	GracefulTimeout time.Duration      `yaml:"graceful_timeout,omitempty" json:"graceful_timeout,omitempty"`
	Log             Log                `yaml:"log,omitempty"              json:"log,omitzero"`
	Processes       map[string]Process `yaml:"processes"                  json:"processes"`
	Sinks           Sinks              `yaml:"sinks,omitempty"            json:"sinks,omitzero"`
}

// Log configures the daemon's own logger.
type Log struct {
	Level  string `yaml:"level,omitempty"  json:"level,omitempty"`  // debug|info|warn|error
	Format string `yaml:"format,omitempty" json:"format,omitempty"` // text|json
}

// Process is a command the daemon starts at boot.
type Process struct {
	Command string            `yaml:"command"          json:"command"`
	Dir     string            `yaml:"dir,omitempty"    json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"    json:"env,omitempty"`
	Format  string            `yaml:"format,omitempty" json:"format,omitempty"` // auto|text|json
	Levels  []string          `yaml:"levels,omitempty" json:"levels,omitempty"`
}

// Sinks selects where events are forwarded besides connected clients.
type Sinks struct {
	Journal bool  `yaml:"journal,omitempty" json:"journal,omitempty"`
	MQTT    *MQTT `yaml:"mqtt,omitempty"    json:"mqtt,omitempty"`
}

// MQTT configures the MQTT event sink.
type MQTT struct {
	Broker      string `yaml:"broker"                 json:"broker"`
	ClientID    string `yaml:"client_id,omitempty"    json:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty" json:"topic_prefix,omitempty"`
	QoS         byte   `yaml:"qos,omitempty"          json:"qos,omitempty"`
	Username    string `yaml:"username,omitempty"     json:"username,omitempty"`
	Password    string `yaml:"password,omitempty"     json:"-"`
}

// Parse decodes a manifest and expands ${root} in process commands,
// directories and environment values.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.interpolate()
	return &m, nil
}

// Load reads and parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Save writes m to path atomically.
func Save(path string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".procwatch-*.yaml")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ProcessNames returns the configured process names in sorted order.
func (m *Manifest) ProcessNames() []string {
	names := make([]string, 0, len(m.Processes))
	for name := range m.Processes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manifest) interpolate() {
	if m.Root == "" {
		return
	}
	expand := func(s string) string {
		return strings.ReplaceAll(s, "${root}", m.Root)
	}
	for name, p := range m.Processes {
		p.Command = expand(p.Command)
		p.Dir = expand(p.Dir)
		for k, v := range p.Env {
			p.Env[k] = expand(v)
		}
		m.Processes[name] = p
	}
}
