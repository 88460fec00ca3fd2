package config

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// fileView mirrors the .devserve.yaml layout. Durations are rendered in
// their string form so the output can be read back as a config file.
type fileView struct {
	Port         int      `yaml:"port"`
	Host         string   `yaml:"host"`
	Root         string   `yaml:"root"`
	Watch        []string `yaml:"watch"`
	Ignore       []string `yaml:"ignore"`
	Debounce     string   `yaml:"debounce"`
	MaxWait      string   `yaml:"max-wait"`
	LogLevel     string   `yaml:"log-level"`
	NoColor      bool     `yaml:"no-color"`
	Metrics      bool     `yaml:"metrics"`
	Inject       bool     `yaml:"inject"`
	CSSInject    bool     `yaml:"css-inject"`
	MaxClients   int      `yaml:"max-clients"`
	AllowOrigins []string `yaml:"allow-origin"`
}

// YAML renders the effective configuration in config file form.
func (c *Config) YAML() ([]byte, error) {
	view := fileView{
		Port:         c.Port,
		Host:         c.Host,
		Root:         c.Root,
		Watch:        c.Watch,
		Ignore:       c.Ignore,
		Debounce:     c.Debounce.String(),
		MaxWait:      c.MaxWait.String(),
		LogLevel:     c.LogLevel,
		NoColor:      c.NoColor,
		Metrics:      c.Metrics,
		Inject:       c.Inject,
		CSSInject:    c.CSSInject,
		MaxClients:   c.MaxClients,
		AllowOrigins: c.AllowOrigins,
	}
	if view.Watch == nil {
		view.Watch = []string{}
	}
	if view.Ignore == nil {
		view.Ignore = []string{}
	}
	if view.AllowOrigins == nil {
		view.AllowOrigins = []string{}
	}

	var buffer bytes.Buffer
	encoder := yaml.NewEncoder(&buffer)
	encoder.SetIndent(2)
	if err := encoder.Encode(view); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}
