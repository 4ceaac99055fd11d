package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const (
	// FileName is the well-known workspace config filename.
	FileName = ".codexd.json"

	// maxSearchDepth bounds the upward directory walk.
	maxSearchDepth = 20

	// ConfigVersion is written into files this subsystem creates or updates.
	ConfigVersion = "1"
)

// FileConfig is the caller-owned workspace config file.
//
// It is read-mostly; the resolver writes it back exactly once, to persist a
// newly generated project id so later lookups skip name resolution.
type FileConfig struct {
	Version    string     `json:"version"`
	Project    ProjectRef `json:"project"`
	AutoSwitch bool       `json:"auto_switch"`
	StrictMode bool       `json:"strict_mode"`
}

// ProjectRef names the project a workspace belongs to. ID and DatabaseName
// are absent on first use and filled in after resolution.
type ProjectRef struct {
	Name         string `json:"name"`
	ID           string `json:"id,omitempty"`
	DatabaseName string `json:"database_name,omitempty"`
}

// Locator finds and persists workspace config files.
type Locator struct {
	logger *zap.Logger
}

// NewLocator creates a config-file locator.
func NewLocator(logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{logger: logger}
}

// Find searches startDir and its ancestors for a workspace config file.
//
// Returns the parsed config and the file path on success. Not-found,
// unreadable, malformed, and structurally invalid files all yield (nil, "");
// a config file can never fail a resolution, only decline to inform it.
func (l *Locator) Find(startDir string) (*FileConfig, string) {
	if startDir == "" {
		return nil, ""
	}

	dir := filepath.Clean(startDir)
	for i := 0; i < maxSearchDepth; i++ {
		path := filepath.Join(dir, FileName)
		data, err := os.ReadFile(path)
		if err == nil {
			cfg, err := parse(data)
			if err != nil {
				// Found but unusable: stop here, do not inherit an
				// ancestor's config over a broken local one.
				l.logger.Warn("ignoring invalid workspace config",
					zap.String("path", path),
					zap.Error(err),
				)
				return nil, ""
			}
			return cfg, path
		}
		if !os.IsNotExist(err) {
			l.logger.Warn("workspace config unreadable",
				zap.String("path", path),
				zap.Error(err),
			)
			return nil, ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return nil, ""
}

// Persist atomically rewrites a workspace config file. Written to a temp
// file first and renamed into place so an interrupted save never leaves a
// partial file behind.
func (l *Locator) Persist(path string, cfg *FileConfig) error {
	if cfg.Version == "" {
		cfg.Version = ConfigVersion
	}
	if cfg.Project.Name == "" {
		return fmt.Errorf("workspace config requires project.name")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workspace config: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write workspace config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename workspace config: %w", err)
	}

	l.logger.Debug("persisted workspace config", zap.String("path", path))
	return nil
}

func parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if cfg.Project.Name == "" && cfg.Project.ID == "" {
		return nil, fmt.Errorf("missing project.name")
	}
	return &cfg, nil
}
