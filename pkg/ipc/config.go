package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/juju/clock"
	"gopkg.in/yaml.v3"

	"github.com/kbirk/pipc/pkg/log"
	"github.com/kbirk/pipc/pkg/rpc"
	"github.com/kbirk/pipc/pkg/rpc/unix"
)

// Config is passed by value to NewClient and NewServer. Zero values take the
// package defaults.
type Config struct {
	// SocketPath is the Unix socket the server listens on and the client
	// dials. It is ignored when Dialer or Listener are set.
	SocketPath string
	Dialer     rpc.ClientTransport
	Listener   rpc.ServerTransport

	// Methods are appended to DefaultMethods.
	Methods    []MethodDescriptor
	Handlers   Handlers
	API        map[string]Override
	Unhandled  UnhandledFunc
	Middleware []rpc.Middleware

	// Bootstrap runs once, after the first failed connect attempt, and is
	// expected to launch the missing server.
	Bootstrap func()

	// OnClient is called once for every accepted client connection.
	OnClient func(*Conn)
	// OnClose is called once, after a connection has fully closed.
	OnClose func(*Conn)
	// OnPipeline observes every stream served by a stream handler.
	OnPipeline func(method string, s *rpc.Stream)
	ErrHandler func(error)

	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	// HeartbeatTimeout bounds a single ping, defaulting to HeartbeatInterval.
	HeartbeatTimeout time.Duration
	// HeartbeatClock is the number of sweeps a silent client survives.
	HeartbeatClock   int
	DisableHeartbeat bool
	CloseTimeout     time.Duration
	LockPollInterval time.Duration
	// PlatformDir holds the platform's primary resources, including the
	// handoff lock. Defaults to DefaultPlatformDir.
	PlatformDir string

	// UserData seeds Conn.UserData. Accepted clients start with the
	// server's value.
	UserData any
	Codec    rpc.Codec
	Logger   log.Logger
	Metrics  *Metrics
	Clock    clock.Clock
}

func (conf Config) withDefaults() Config {
	if conf.ConnectTimeout == 0 {
		conf.ConnectTimeout = DefaultConnectTimeout
	}
	if conf.HeartbeatInterval == 0 {
		conf.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conf.HeartbeatTimeout == 0 {
		conf.HeartbeatTimeout = conf.HeartbeatInterval
	}
	if conf.HeartbeatClock == 0 {
		conf.HeartbeatClock = DefaultHeartbeatClock
	}
	if conf.CloseTimeout == 0 {
		conf.CloseTimeout = DefaultCloseTimeout
	}
	if conf.LockPollInterval == 0 {
		conf.LockPollInterval = DefaultLockPollInterval
	}
	if conf.PlatformDir == "" {
		if dir, err := DefaultPlatformDir(); err == nil {
			conf.PlatformDir = dir
		}
	}
	if conf.Codec == nil {
		conf.Codec = rpc.JSONCodec
	}
	if conf.Clock == nil {
		conf.Clock = clock.WallClock
	}
	if conf.Unhandled == nil {
		conf.Unhandled = defaultUnhandled
	}
	return conf
}

func (conf Config) validate() error {
	if conf.ConnectTimeout < 0 || conf.HeartbeatInterval < 0 || conf.HeartbeatTimeout < 0 ||
		conf.CloseTimeout < 0 || conf.LockPollInterval < 0 {
		return configErrorf("", "durations must not be negative")
	}
	if conf.HeartbeatClock < 1 {
		return configErrorf("", "heartbeat clock must be at least 1, got %d", conf.HeartbeatClock)
	}
	return nil
}

func (conf Config) clientTransport() (rpc.ClientTransport, error) {
	if conf.Dialer != nil {
		return conf.Dialer, nil
	}
	if conf.SocketPath == "" {
		return nil, configErrorf("", "a socket path or dialer is required")
	}
	return unix.NewClientTransport(unix.ClientTransportConfig{SocketPath: conf.SocketPath}), nil
}

func (conf Config) serverTransport() (rpc.ServerTransport, error) {
	if conf.Listener != nil {
		return conf.Listener, nil
	}
	if conf.SocketPath == "" {
		return nil, configErrorf("", "a socket path or listener is required")
	}
	return unix.NewServerTransport(unix.ServerTransportConfig{SocketPath: conf.SocketPath}), nil
}

// LockPath returns the path of the handoff lock guarding the platform's
// primary resources.
func (conf Config) LockPath() (string, error) {
	if conf.PlatformDir == "" {
		return "", configErrorf("", "platform directory is not set")
	}
	return filepath.Join(append([]string{conf.PlatformDir}, primaryKeyPath...)...), nil
}

// DefaultPlatformDir resolves the per-user platform directory following the
// operating system's application data convention.
func DefaultPlatformDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return platformDirFor(runtime.GOOS, home), nil
}

func platformDirFor(goos string, home string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "pear")
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "pear")
	default:
		return filepath.Join(home, ".config", "pear")
	}
}

// FileConfig is the YAML representation of the tunable part of Config.
type FileConfig struct {
	SocketPath        string        `yaml:"socket-path"`
	PlatformDir       string        `yaml:"platform-dir"`
	ConnectTimeout    time.Duration `yaml:"connect-timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat-timeout"`
	HeartbeatClock    int           `yaml:"heartbeat-clock"`
	CloseTimeout      time.Duration `yaml:"close-timeout"`
	LockPollInterval  time.Duration `yaml:"lock-poll-interval"`
	Methods           []FileMethod  `yaml:"methods"`
}

// FileMethod is a method declaration, written either as a bare name (a
// request method) or as a mapping with name, kind and an optional id.
type FileMethod struct {
	Name string
	Kind string
	ID   uint32
}

func (m *FileMethod) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		m.Name = value.Value
		m.Kind = ""
		return nil
	}
	var raw struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
		ID   uint32 `yaml:"id"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	m.Name = raw.Name
	m.Kind = raw.Kind
	m.ID = raw.ID
	return nil
}

// ParseKind parses a kind name. The empty string is a request.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "", "request":
		return KindRequest, nil
	case "send":
		return KindSend, nil
	case "stream":
		return KindStream, nil
	}
	return 0, fmt.Errorf("unknown method kind %q", s)
}

// ParseFile decodes a YAML configuration document.
func ParseFile(data []byte) (FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parsing config: %w", err)
	}
	return fc, nil
}

// LoadFile reads and decodes a YAML configuration file.
func LoadFile(path string) (FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, err
	}
	return ParseFile(data)
}

// Apply copies every set field onto conf. Declared methods are appended.
func (fc FileConfig) Apply(conf *Config) error {
	if fc.SocketPath != "" {
		conf.SocketPath = fc.SocketPath
	}
	if fc.PlatformDir != "" {
		conf.PlatformDir = fc.PlatformDir
	}
	if fc.ConnectTimeout != 0 {
		conf.ConnectTimeout = fc.ConnectTimeout
	}
	if fc.HeartbeatInterval != 0 {
		conf.HeartbeatInterval = fc.HeartbeatInterval
	}
	if fc.HeartbeatTimeout != 0 {
		conf.HeartbeatTimeout = fc.HeartbeatTimeout
	}
	if fc.HeartbeatClock != 0 {
		conf.HeartbeatClock = fc.HeartbeatClock
	}
	if fc.CloseTimeout != 0 {
		conf.CloseTimeout = fc.CloseTimeout
	}
	if fc.LockPollInterval != 0 {
		conf.LockPollInterval = fc.LockPollInterval
	}
	for _, m := range fc.Methods {
		kind, err := ParseKind(m.Kind)
		if err != nil {
			return configErrorf(m.Name, "%v", err)
		}
		conf.Methods = append(conf.Methods, MethodDescriptor{Name: m.Name, Kind: kind, ID: m.ID})
	}
	return nil
}
