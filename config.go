package chatloop

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeycumines/go-chatloop/grpctransport"
	"github.com/joeycumines/go-chatloop/wstransport"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Environment variables overriding the values loaded by LoadConfig.
const (
	EnvHost = "CHAT_HOST"
	EnvPort = "CHAT_PORT"
)

// Transport names accepted by Config.Transport.
const (
	TransportGRPC      = "grpc"
	TransportWebSocket = "websocket"
)

// Config models a session configuration file, in TOML. The zero value is
// valid, and results in the defaults of each option.
type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Transport is one of TransportGRPC or TransportWebSocket.
	// **Defaults to TransportGRPC, if empty.**
	Transport string `toml:"transport"`

	// APIKey is sent with the WebSocket handshake.
	APIKey string `toml:"api_key"`

	UserAgent       string `toml:"user_agent"`
	ProtocolVersion string `toml:"version"`
	DeviceID        string `toml:"device_id"`
	Language        string `toml:"language"`
	Platform        string `toml:"platform"`

	// KeyPressInterval is the minimum interval between key press notes per
	// topic. A negative value disables throttling.
	// **Defaults to DefaultKeyPressInterval, if 0.**
	KeyPressInterval Duration `toml:"key_press_interval"`

	HandshakeTimeout Duration `toml:"handshake_timeout"`

	// Receipts enables receipt batching, if present.
	Receipts *ReceiptsConfig `toml:"receipts"`

	// LogLevel is a syslog keyword, e.g. "info", or "debug".
	// **Defaults to "info", if empty.**
	LogLevel string `toml:"log_level"`
}

// ReceiptsConfig is the TOML form of ReceiptConfig.
type ReceiptsConfig struct {
	MaxSize       int      `toml:"max_size"`
	FlushInterval Duration `toml:"flush_interval"`
}

// Duration is a time.Duration decoded from a string such as "1.5s".
type Duration time.Duration

func (x *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*x = Duration(d)
	return nil
}

func (x Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(x).String()), nil
}

// LoadConfig decodes the TOML file at path, then applies any environment
// overrides. An empty path loads only the environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("chatloop: load config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) != 0 {
			return nil, fmt.Errorf("chatloop: load config: unknown keys: %v", undecoded)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (x *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHost); ok && v != "" {
		x.Host = v
	}
	if v, ok := lookup(EnvPort); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return &ValidationError{Op: "config", Message: fmt.Sprintf("%s: %v", EnvPort, err)}
		}
		x.Port = port
	}
	return nil
}

// Options converts the config into options for NewManager or NewSession.
func (x *Config) Options() ([]Option, error) {
	var opts []Option

	switch strings.ToLower(x.Transport) {
	case "", TransportGRPC:
		opts = append(opts, WithTransport(grpctransport.New()))
	case TransportWebSocket:
		var wsOpts []wstransport.Option
		if x.APIKey != "" {
			wsOpts = append(wsOpts, wstransport.WithAPIKey(x.APIKey))
		}
		opts = append(opts, WithTransport(wstransport.New(wsOpts...)))
	default:
		return nil, &ValidationError{Op: "config", Message: fmt.Sprintf("unknown transport %q", x.Transport)}
	}
	if x.UserAgent != "" {
		opts = append(opts, WithUserAgent(x.UserAgent))
	}
	if x.ProtocolVersion != "" {
		opts = append(opts, WithProtocolVersion(x.ProtocolVersion))
	}
	if x.DeviceID != "" {
		opts = append(opts, WithDeviceID(x.DeviceID))
	}
	if x.Language != "" {
		opts = append(opts, WithLanguage(x.Language))
	}
	if x.Platform != "" {
		opts = append(opts, WithPlatform(x.Platform))
	}

	switch {
	case x.KeyPressInterval < 0:
		opts = append(opts, WithKeyPressRates(nil))
	case x.KeyPressInterval > 0:
		opts = append(opts, WithKeyPressRates(map[time.Duration]int{time.Duration(x.KeyPressInterval): 1}))
	}

	if x.HandshakeTimeout != 0 {
		opts = append(opts, WithHandshakeTimeout(time.Duration(x.HandshakeTimeout)))
	}

	if x.Receipts != nil {
		opts = append(opts, WithReceiptBatching(&ReceiptConfig{
			MaxSize:       x.Receipts.MaxSize,
			FlushInterval: time.Duration(x.Receipts.FlushInterval),
		}))
	}

	return opts, nil
}

// Level parses LogLevel.
func (x *Config) Level() (logiface.Level, error) {
	if x.LogLevel == "" {
		return logiface.LevelInformational, nil
	}
	name := strings.ToLower(x.LogLevel)
	for level := logiface.LevelDisabled; level <= logiface.LevelTrace; level++ {
		if level.String() == name {
			return level, nil
		}
	}
	switch name {
	case "error":
		return logiface.LevelError, nil
	case "warn":
		return logiface.LevelWarning, nil
	}
	return 0, &ValidationError{Op: "config", Message: fmt.Sprintf("unknown log level %q", x.LogLevel)}
}

// NewLogger builds a JSON logger writing to w, at the configured level.
func (x *Config) NewLogger(w io.Writer) (*logiface.Logger[logiface.Event], error) {
	level, err := x.Level()
	if err != nil {
		return nil, err
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger(), nil
}
