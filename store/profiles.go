package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProfileDirect  = "direct"
	ProfileCluster = "cluster"
	ProfileRedigo  = "redigo"
)

// Profiles maps a profile name to its endpoint. A profile is chosen once at
// startup and never switched mid-run.
type Profiles map[string]EndpointConfig

// FileProfiles is the on-disk layout read by LoadProfiles.
type FileProfiles struct {
	Profiles map[string]EndpointConfig `yaml:"profiles" json:"profiles"`
}

func DefaultProfiles() Profiles {
	return Profiles{
		ProfileDirect: {
			Name:     ProfileDirect,
			Client:   ClientGoRedis,
			Topology: TopologySingle,
			Addrs:    []string{"localhost:6379"},
			Pool:     PoolConfig{MaxTotal: 50, MinIdle: 0, MaxIdle: 50},
		},
		ProfileCluster: {
			Name:     ProfileCluster,
			Client:   ClientGoRedis,
			Topology: TopologyCluster,
			Addrs:    []string{"0.0.0.0:7000"},
			Pool:     PoolConfig{MaxTotal: 50, MinIdle: 50, MaxIdle: 50},
		},
		ProfileRedigo: {
			Name:     ProfileRedigo,
			Client:   ClientRedigo,
			Topology: TopologySingle,
			Addrs:    []string{"localhost:6379"},
			Pool:     PoolConfig{MaxTotal: 50, MinIdle: 50, MaxIdle: 50},
		},
	}
}

func (p Profiles) Get(name string) (EndpointConfig, error) {
	cfg, ok := p[name]
	if !ok {
		return EndpointConfig{}, fmt.Errorf("unknown profile %q (have: %s)", name, strings.Join(p.Names(), ", "))
	}
	cfg.Name = name
	cfg.Addrs = append([]string(nil), cfg.Addrs...)
	return cfg, nil
}

func (p Profiles) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of p with every profile in other added or replaced.
func (p Profiles) Merge(other Profiles) Profiles {
	merged := make(Profiles, len(p)+len(other))
	for name, cfg := range p {
		merged[name] = cfg
	}
	for name, cfg := range other {
		cfg.Name = name
		merged[name] = cfg
	}
	return merged
}

// LoadProfiles reads a YAML or JSON profiles file.
func LoadProfiles(path string) (Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var file FileProfiles
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported profiles format: %s", ext)
	}

	profiles := make(Profiles, len(file.Profiles))
	for name, cfg := range file.Profiles {
		cfg.Name = name
		if err := cfg.withDefaults().Validate(); err != nil {
			return nil, fmt.Errorf("profile %q: %w", name, err)
		}
		profiles[name] = cfg
	}

	return profiles, nil
}
