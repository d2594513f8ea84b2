package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the application settings. They come from an optional YAML
// file; command-line flags override individual values.
type Settings struct {
	Log      LogSettings      `yaml:"log"`
	Executor ExecutorSettings `yaml:"executor"`
	Worker   WorkerSettings   `yaml:"worker"`
	History  HistorySettings  `yaml:"history"`
	Health   HealthSettings   `yaml:"health"`
	Render   RenderSettings   `yaml:"render"`
	Run      RunSettings      `yaml:"run"`
}

type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, when set, receives a JSON copy of every record.
	File string `yaml:"file"`
}

type ExecutorSettings struct {
	// Workers bounds concurrent node computes. Zero means one per CPU.
	Workers int `yaml:"workers"`
}

type WorkerSettings struct {
	IdleInterval  time.Duration `yaml:"idle_interval"`
	FrameInterval time.Duration `yaml:"frame_interval"`
	// SyntheticInterval paces trigger groups with no online instrument.
	SyntheticInterval time.Duration `yaml:"synthetic_interval"`
}

type HistorySettings struct {
	Depth   int    `yaml:"depth"`
	Archive string `yaml:"archive"`
}

type HealthSettings struct {
	// Port serves /health and /metrics. Zero disables the server.
	Port int `yaml:"port"`
}

type RenderSettings struct {
	// URL of a socket.io server to broadcast frames to. Empty disables it.
	URL       string `yaml:"url"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Event     string `yaml:"event"`
}

type RunSettings struct {
	Arm string `yaml:"arm"`
	// All arms non-default trigger groups too.
	All bool `yaml:"all"`
	// Duration stops the run after a while. Zero runs until interrupted.
	Duration        time.Duration `yaml:"duration"`
	MaxAcquisitions int           `yaml:"max_acquisitions"`
}

// DefaultSettings returns settings with every default applied.
func DefaultSettings() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// LoadSettings reads a YAML settings file, applies defaults and validates
// the result. An empty path yields the defaults.
func LoadSettings(path string) (*Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}

	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills every zero value that has a default.
func (s *Settings) ApplyDefaults() {
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "text"
	}
	if s.Worker.IdleInterval == 0 {
		s.Worker.IdleInterval = 5 * time.Millisecond
	}
	if s.Worker.FrameInterval == 0 {
		s.Worker.FrameInterval = 16 * time.Millisecond
	}
	if s.Worker.SyntheticInterval == 0 {
		s.Worker.SyntheticInterval = 100 * time.Millisecond
	}
	if s.History.Depth == 0 {
		s.History.Depth = 100
	}
	if s.Render.Path == "" {
		s.Render.Path = "/socket.io/"
	}
	if s.Render.Namespace == "" {
		s.Render.Namespace = "/"
	}
	if s.Render.Event == "" {
		s.Render.Event = "waveforms"
	}
	if s.Run.Arm == "" {
		s.Run.Arm = "normal"
	}
}

// Validate reports every invalid setting.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be 'debug', 'info', 'warn' or 'error', got %q", s.Log.Level))
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'text' or 'json', got %q", s.Log.Format))
	}
	switch s.Run.Arm {
	case "normal", "single", "forced", "freerun", "none":
	default:
		errs = append(errs, fmt.Errorf("run.arm must be 'normal', 'single', 'forced', 'freerun' or 'none', got %q", s.Run.Arm))
	}
	if s.Executor.Workers < 0 {
		errs = append(errs, errors.New("executor.workers must not be negative"))
	}
	if s.History.Depth < 0 {
		errs = append(errs, errors.New("history.depth must not be negative"))
	}
	if s.Health.Port < 0 || s.Health.Port > 65535 {
		errs = append(errs, fmt.Errorf("health.port out of range: %d", s.Health.Port))
	}
	if s.Worker.IdleInterval < 0 || s.Worker.FrameInterval < 0 || s.Run.Duration < 0 {
		errs = append(errs, errors.New("intervals and durations must not be negative"))
	}
	return errors.Join(errs...)
}
