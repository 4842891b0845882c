package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type Client string

const (
	ClientGoRedis Client = "go-redis"
	ClientRedigo  Client = "redigo"
)

type Topology string

const (
	TopologySingle  Topology = "single"
	TopologyCluster Topology = "cluster"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultPoolTimeout  = 30 * time.Second
)

// PoolConfig bounds the connections a handle may hold. MaxTotal is the
// admission limit: callers beyond it block until a connection frees up or
// Timeout elapses.
type PoolConfig struct {
	MaxTotal int           `yaml:"max_total" json:"max_total"`
	MinIdle  int           `yaml:"min_idle" json:"min_idle"`
	MaxIdle  int           `yaml:"max_idle" json:"max_idle"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

type EndpointConfig struct {
	Name          string        `yaml:"-" json:"-"`
	Client        Client        `yaml:"client" json:"client"`
	Topology      Topology      `yaml:"topology" json:"topology"`
	Addrs         []string      `yaml:"addrs" json:"addrs"`
	Password      string        `yaml:"password" json:"password"`
	Pool          PoolConfig    `yaml:"pool" json:"pool"`
	Transactional bool          `yaml:"transactional" json:"transactional"`
	DialTimeout   time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
	Resolve       bool          `yaml:"resolve" json:"resolve"`
}

var ErrInvalidConfig = errors.New("invalid endpoint config")

// jsonDuration decodes either a duration string such as "2s" or a number of
// nanoseconds, so JSON profiles read the same as YAML ones.
type jsonDuration time.Duration

func (d *jsonDuration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = jsonDuration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = jsonDuration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", data)
	}
	return nil
}

func (p *PoolConfig) UnmarshalJSON(data []byte) error {
	type plain PoolConfig
	aux := struct {
		*plain
		Timeout jsonDuration `json:"timeout"`
	}{plain: (*plain)(p), Timeout: jsonDuration(p.Timeout)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Timeout = time.Duration(aux.Timeout)
	return nil
}

func (cfg *EndpointConfig) UnmarshalJSON(data []byte) error {
	type plain EndpointConfig
	aux := struct {
		*plain
		DialTimeout  jsonDuration `json:"dial_timeout"`
		ReadTimeout  jsonDuration `json:"read_timeout"`
		WriteTimeout jsonDuration `json:"write_timeout"`
	}{
		plain:        (*plain)(cfg),
		DialTimeout:  jsonDuration(cfg.DialTimeout),
		ReadTimeout:  jsonDuration(cfg.ReadTimeout),
		WriteTimeout: jsonDuration(cfg.WriteTimeout),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg.DialTimeout = time.Duration(aux.DialTimeout)
	cfg.ReadTimeout = time.Duration(aux.ReadTimeout)
	cfg.WriteTimeout = time.Duration(aux.WriteTimeout)
	return nil
}

func (cfg EndpointConfig) Validate() error {
	if len(cfg.Addrs) == 0 {
		return fmt.Errorf("%w: no addresses", ErrInvalidConfig)
	}
	for _, addr := range cfg.Addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%w: address %q: %v", ErrInvalidConfig, addr, err)
		}
	}
	if cfg.Pool.MaxTotal <= 0 {
		return fmt.Errorf("%w: pool max_total must be positive, got %d", ErrInvalidConfig, cfg.Pool.MaxTotal)
	}
	if cfg.Pool.MinIdle < 0 || cfg.Pool.MaxIdle < 0 {
		return fmt.Errorf("%w: pool idle sizes must not be negative", ErrInvalidConfig)
	}
	if cfg.Pool.MinIdle > cfg.Pool.MaxTotal {
		return fmt.Errorf("%w: pool min_idle %d exceeds max_total %d", ErrInvalidConfig, cfg.Pool.MinIdle, cfg.Pool.MaxTotal)
	}

	switch cfg.Topology {
	case TopologySingle, TopologyCluster:
	default:
		return fmt.Errorf("%w: unknown topology %q", ErrInvalidConfig, cfg.Topology)
	}

	switch cfg.Client {
	case ClientGoRedis:
	case ClientRedigo:
		// redigo has no cluster support
		if cfg.Topology == TopologyCluster {
			return fmt.Errorf("%w: client %s does not support topology %s", ErrInvalidConfig, cfg.Client, cfg.Topology)
		}
	default:
		return fmt.Errorf("%w: unknown client %q", ErrInvalidConfig, cfg.Client)
	}

	return nil
}

// withDefaults fills zero timeouts and idle sizes.
func (cfg EndpointConfig) withDefaults() EndpointConfig {
	if cfg.Client == "" {
		cfg.Client = ClientGoRedis
	}
	if cfg.Topology == "" {
		cfg.Topology = TopologySingle
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Pool.Timeout == 0 {
		cfg.Pool.Timeout = DefaultPoolTimeout
	}
	if cfg.Pool.MaxIdle == 0 {
		cfg.Pool.MaxIdle = cfg.Pool.MaxTotal
	}
	return cfg
}

func (cfg EndpointConfig) String() string {
	tx := "non-transactional"
	if cfg.Transactional {
		tx = "transactional"
	}
	return fmt.Sprintf("%s (%s/%s, %s, pool %d/%d/%d, %s)",
		cfg.Name, cfg.Client, cfg.Topology, strings.Join(cfg.Addrs, ","),
		cfg.Pool.MaxTotal, cfg.Pool.MinIdle, cfg.Pool.MaxIdle, tx)
}

// ResolveAddresses expands each host:port into one entry per IPv4 address
// the host resolves to.
func ResolveAddresses(hostsPorts []string) ([]string, error) {
	addresses := make([]string, 0, len(hostsPorts))

	for _, hostPort := range hostsPorts {
		host, port, err := net.SplitHostPort(hostPort)
		if err != nil {
			return nil, err
		}

		resolvedAddresses, err := net.LookupIP(host)
		if err != nil {
			return nil, err
		}

		for _, ip := range resolvedAddresses {
			// Just do ipv4 for now
			if ip.To4() != nil {
				addresses = append(addresses, net.JoinHostPort(ip.String(), port))
			}
		}
	}

	if len(addresses) == 0 {
		return nil, fmt.Errorf("no ipv4 addresses for %s", strings.Join(hostsPorts, ","))
	}

	return addresses, nil
}
