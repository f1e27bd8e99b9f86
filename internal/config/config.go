// Package config loads the server configuration from an optional YAML file.
// Missing keys fall back to Default; command-line flags override both.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/domain"
	"github.com/SATIVAR/sativar-isis-gemini-sub001/internal/draft"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `# formlayout server configuration
server:
  addr: ":8080"
  rpc_socket: /tmp/formlayout.sock

database:
  path: formlayout.db

layout:
  # Associate types that own a layout.
  associate_types: [patient, guardian, animal_tutor, collaborator]
  step_title_prefix: Step
  # discard: fields of a removed step leave the layout (base fields move to the neighbour step)
  # migrate: every field moves to the neighbour step
  step_removal: discard

catalog:
  # Refuse deleting a field still used by a layout unless forced.
  guard_used_fields: false
`

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	RPCSocket string `yaml:"rpc_socket"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type LayoutConfig struct {
	AssociateTypes  []string `yaml:"associate_types"`
	StepTitlePrefix string   `yaml:"step_title_prefix"`
	StepRemoval     string   `yaml:"step_removal"`
}

type CatalogConfig struct {
	GuardUsedFields bool `yaml:"guard_used_fields"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Layout   LayoutConfig   `yaml:"layout"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", RPCSocket: "/tmp/formlayout.sock"},
		Database: DatabaseConfig{Path: "formlayout.db"},
		Layout: LayoutConfig{
			AssociateTypes:  []string{"patient", "guardian", "animal_tutor", "collaborator"},
			StepTitlePrefix: "Step",
			StepRemoval:     string(draft.RemoveDiscard),
		},
	}
}

// Sample returns a commented configuration file matching Default.
func Sample() string { return sampleYAML }

// Load reads path over the defaults. An empty path or a missing file yields
// the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set,
// and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.AssociateTypes()) == 0 {
		return errors.New("layout.associate_types must list at least one type")
	}
	if _, err := draft.ParseStepRemovalPolicy(c.Layout.StepRemoval); err != nil {
		return fmt.Errorf("layout.step_removal: %w", err)
	}
	return nil
}

// AssociateTypes returns the configured types, trimmed, lower-cased and
// without duplicates.
func (c Config) AssociateTypes() []domain.AssociateType {
	seen := make(map[string]struct{}, len(c.Layout.AssociateTypes))
	out := make([]domain.AssociateType, 0, len(c.Layout.AssociateTypes))
	for _, raw := range c.Layout.AssociateTypes {
		key := strings.ToLower(strings.TrimSpace(raw))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.AssociateType(key))
	}
	return out
}

// Engine builds the draft engine described by the layout section.
func (c Config) Engine() *draft.Engine {
	policy, err := draft.ParseStepRemovalPolicy(c.Layout.StepRemoval)
	if err != nil {
		policy = draft.RemoveDiscard
	}
	return draft.New(draft.WithStepRemoval(policy), draft.WithStepTitlePrefix(c.Layout.StepTitlePrefix))
}
