// Package config loads process configuration from the environment, optionally seeded
// from a .env file, and builds the components that depend on it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/registry"
	"mini-jsonrpc/transport"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the process settings. FromEnv names the variable and default behind each field.
type Config struct {
	// Identity
	Name string

	// Wire
	Codec     string
	Transport string

	// Listeners
	ListenAddr    string
	WSAddr        string
	WSPath        string
	AdvertiseAddr string

	// Endpoint resolution
	Endpoints     []string // name=addr pairs
	EtcdEndpoints []string
	Balancer      string

	// Timing
	HeartbeatInterval time.Duration
	DialTimeout       time.Duration
	RequestTimeout    time.Duration
	HandlerTimeout    time.Duration

	// Inbound rate limit, requests per second; 0 disables it
	RateLimit float64
	RateBurst int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads the configuration from the environment. Variables from a .env file in the
// working directory are added first if the file exists; the real environment wins.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the environment only.
func FromEnv() (*Config, error) {
	config := &Config{}

	loadEnvString(&config.Name, "RPC_NAME", "mini-jsonrpc")
	loadEnvString(&config.Codec, "RPC_CODEC", "json")
	loadEnvString(&config.Transport, "RPC_TRANSPORT", "tcp")

	loadEnvString(&config.ListenAddr, "RPC_LISTEN_ADDR", ":7070")
	loadEnvString(&config.WSAddr, "RPC_WS_ADDR", "")
	loadEnvString(&config.WSPath, "RPC_WS_PATH", "/rpc")
	loadEnvString(&config.AdvertiseAddr, "RPC_ADVERTISE_ADDR", "")

	loadEnvStringSlice(&config.Endpoints, "RPC_ENDPOINTS", nil)
	loadEnvStringSlice(&config.EtcdEndpoints, "ETCD_ENDPOINTS", nil)
	loadEnvString(&config.Balancer, "RPC_BALANCER", "round_robin")

	if err := loadEnvDuration(&config.HeartbeatInterval, "RPC_HEARTBEAT_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.DialTimeout, "RPC_DIAL_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.RequestTimeout, "RPC_REQUEST_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HandlerTimeout, "RPC_HANDLER_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if err := loadEnvFloat(&config.RateLimit, "RPC_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RPC_RATE_BURST", 100); err != nil {
		return nil, err
	}

	loadEnvString(&config.LogLevel, "LOG_LEVEL", "info")
	loadEnvString(&config.LogFormat, "LOG_FORMAT", "json")
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvStringSlice(target *[]string, key string, defaultValue []string) {
	value := os.Getenv(key)
	if value == "" {
		*target = defaultValue
		return
	}
	*target = nil
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*target = append(*target, v)
		}
	}
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errs []string

	if c.Name == "" {
		errs = append(errs, "RPC_NAME must not be empty")
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		errs = append(errs, "RPC_CODEC must be one of: json, binary, msgpack")
	}
	if !contains([]string{"tcp", "ws"}, c.Transport) {
		errs = append(errs, "RPC_TRANSPORT must be one of: tcp, ws")
	}
	if _, err := loadbalance.New(c.Balancer); err != nil {
		errs = append(errs, "RPC_BALANCER must be one of: round_robin, weighted_random, consistent_hash")
	}
	if _, err := c.StaticEndpoints(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.HeartbeatInterval < 0 || c.DialTimeout <= 0 || c.RequestTimeout < 0 || c.HandlerTimeout < 0 {
		errs = append(errs, "RPC_DIAL_TIMEOUT must be positive and other durations not negative")
	}
	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		errs = append(errs, "RPC_RATE_LIMIT must not be negative and RPC_RATE_BURST must be at least 1")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}
	validLogFormats := []string{"console", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(c.Codec)
	return t
}

// StaticEndpoints parses RPC_ENDPOINTS into endpoint name and address pairs.
func (c *Config) StaticEndpoints() (map[string][]string, error) {
	endpoints := make(map[string][]string, len(c.Endpoints))
	for _, pair := range c.Endpoints {
		name, addr, ok := strings.Cut(pair, "=")
		name, addr = strings.TrimSpace(name), strings.TrimSpace(addr)
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("RPC_ENDPOINTS entry %q is not name=addr", pair)
		}
		endpoints[name] = append(endpoints[name], addr)
	}
	return endpoints, nil
}

// Registry builds the endpoint registry: etcd when ETCD_ENDPOINTS is set, otherwise a
// static registry filled from RPC_ENDPOINTS. The returned close function releases it.
func (c *Config) Registry(logger *zap.Logger) (registry.Registry, func() error, error) {
	if len(c.EtcdEndpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(c.EtcdEndpoints, c.DialTimeout, logger)
		if err != nil {
			return nil, nil, err
		}
		return reg, reg.Close, nil
	}

	endpoints, err := c.StaticEndpoints()
	if err != nil {
		return nil, nil, err
	}
	reg := registry.NewStaticRegistry()
	for name, addrs := range endpoints {
		for _, addr := range addrs {
			if err := reg.Register(name, registry.Instance{Addr: addr, Weight: 1}, 0); err != nil {
				return nil, nil, err
			}
		}
	}
	return reg, func() error { return nil }, nil
}

func (c *Config) LoadBalancer() (loadbalance.Balancer, error) {
	return loadbalance.New(c.Balancer)
}

// Dialer returns how endpoints are reached: framed TCP or WebSocket on WSPath.
func (c *Config) Dialer() transport.DialFunc {
	if c.Transport == "ws" {
		return transport.DialWebSocket(c.CodecType(), c.WSPath)
	}
	return transport.DialTCP(c.CodecType())
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
