package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sheerbytes/segflux/internal/logging"
	"github.com/sheerbytes/segflux/internal/transport"
)

// EnvPrefix prefixes every environment variable read by the binaries,
// e.g. SEGFLUX_CHUNK_SIZE.
const EnvPrefix = "SEGFLUX"

// ErrUsage indicates bad command-line arguments.
var ErrUsage = errors.New("usage error")

// VerifyMode selects how the client treats a digest mismatch.
type VerifyMode string

const (
	VerifyFail VerifyMode = "fail"
	VerifyWarn VerifyMode = "warn"
)

// ParseVerifyMode accepts "fail" and "warn".
func ParseVerifyMode(s string) (VerifyMode, error) {
	switch VerifyMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", VerifyFail:
		return VerifyFail, nil
	case VerifyWarn:
		return VerifyWarn, nil
	default:
		return "", fmt.Errorf("%w: unknown verify mode %q (want fail or warn)", ErrUsage, s)
	}
}

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Addr             string
	Transport        transport.Kind
	Root             string
	ChunkSize        int
	ReadAhead        int
	MaxWorkers       int
	RequestCap       int
	RequestTimeout   time.Duration
	AdminAddr        string // empty disables the admin API
	RedisAddr        string // empty disables Redis history
	RedisPassword    string
	RedisDB          int
	HistorySize      int
	LogLevel         string
	QUICConnWindow   int
	QUICStreamWindow int
}

// ClientConfig holds configuration for the client binary.
type ClientConfig struct {
	Addr        string
	Transport   transport.Kind
	OutDir      string
	ChunkSize   int
	Verify      VerifyMode
	DialTimeout time.Duration
	Progress    bool
	LogLevel    string

	// Positional arguments.
	Filename string
	Workers  int
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("transport", string(transport.KindTCP))
	v.SetDefault("root", ".")
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("read_ahead", 16)
	v.SetDefault("max_workers", 256)
	v.SetDefault("request_cap", 1024)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("admin_addr", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("history_size", 100)
	v.SetDefault("log_level", "info")
	v.SetDefault("quic_conn_window", 0)
	v.SetDefault("quic_stream_window", 0)
}

func clientDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:8080")
	v.SetDefault("transport", string(transport.KindTCP))
	v.SetDefault("out_dir", ".")
	v.SetDefault("chunk_size", 1024)
	v.SetDefault("verify", string(VerifyFail))
	v.SetDefault("dial_timeout", 5*time.Second)
	v.SetDefault("progress", false)
	v.SetDefault("log_level", "warn")
}

// ParseServerConfig parses server configuration. Precedence, lowest first:
// defaults, config file (--config or SEGFLUX_CONFIG), environment, flags.
func ParseServerConfig() (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	v := newViper(serverDefaults)

	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("addr", v.GetString("addr"), "listen address")
	fs.String("transport", v.GetString("transport"), "transport (tcp, quic, ws)")
	fs.String("root", v.GetString("root"), "directory files are served from")
	fs.Int("chunk-size", v.GetInt("chunk_size"), "bytes per read and per stream write")
	fs.Int("read-ahead", v.GetInt("read_ahead"), "chunks a worker may buffer ahead of its turn")
	fs.Int("max-workers", v.GetInt("max_workers"), "largest worker count a client may request")
	fs.Int("request-cap", v.GetInt("request_cap"), "largest request in bytes")
	fs.Duration("request-timeout", v.GetDuration("request_timeout"), "time allowed for the client request")
	fs.String("admin-addr", "", "admin HTTP address (disabled if empty)")
	fs.String("redis-addr", "", "Redis address for session history (disabled if empty)")
	fs.String("redis-password", "", "Redis password")
	fs.Int("redis-db", 0, "Redis database")
	fs.Int("history-size", v.GetInt("history_size"), "sessions kept in history")
	fs.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	fs.Int("quic-conn-window", 0, "QUIC connection receive window in bytes (0 = default)")
	fs.Int("quic-stream-window", 0, "QUIC stream receive window in bytes (0 = default)")
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}
	if fs.NArg() > 0 {
		return ServerConfig{}, fmt.Errorf("%w: unexpected arguments %v", ErrUsage, fs.Args())
	}
	if err := layer(v, fs); err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		Addr:             v.GetString("addr"),
		Root:             v.GetString("root"),
		ChunkSize:        v.GetInt("chunk_size"),
		ReadAhead:        v.GetInt("read_ahead"),
		MaxWorkers:       v.GetInt("max_workers"),
		RequestCap:       v.GetInt("request_cap"),
		RequestTimeout:   v.GetDuration("request_timeout"),
		AdminAddr:        v.GetString("admin_addr"),
		RedisAddr:        v.GetString("redis_addr"),
		RedisPassword:    v.GetString("redis_password"),
		RedisDB:          v.GetInt("redis_db"),
		HistorySize:      v.GetInt("history_size"),
		LogLevel:         v.GetString("log_level"),
		QUICConnWindow:   v.GetInt("quic_conn_window"),
		QUICStreamWindow: v.GetInt("quic_stream_window"),
	}
	kind, err := transport.ParseKind(v.GetString("transport"))
	if err != nil {
		return ServerConfig{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cfg.Transport = kind
	return cfg, cfg.validate()
}

func (c ServerConfig) validate() error {
	switch {
	case c.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive", ErrUsage)
	case c.ReadAhead <= 0:
		return fmt.Errorf("%w: read ahead must be positive", ErrUsage)
	case c.MaxWorkers <= 0:
		return fmt.Errorf("%w: max workers must be positive", ErrUsage)
	case c.RequestCap <= 0:
		return fmt.Errorf("%w: request cap must be positive", ErrUsage)
	case c.HistorySize <= 0:
		return fmt.Errorf("%w: history size must be positive", ErrUsage)
	case !logging.ValidLevel(c.LogLevel):
		return fmt.Errorf("%w: unknown log level %q", ErrUsage, c.LogLevel)
	}
	return nil
}

// ParseClientConfig parses client configuration and the positional
// <file_name> <worker_count> arguments, with the same precedence as
// ParseServerConfig.
func ParseClientConfig() (ClientConfig, error) {
	return parseClientConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	v := newViper(clientDefaults)

	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("addr", v.GetString("addr"), "server address")
	fs.String("transport", v.GetString("transport"), "transport (tcp, quic, ws)")
	fs.String("out-dir", v.GetString("out_dir"), "directory the received file is written to")
	fs.Int("chunk-size", v.GetInt("chunk_size"), "read buffer size in bytes")
	fs.String("verify", v.GetString("verify"), "digest mismatch handling (fail, warn)")
	fs.Duration("dial-timeout", v.GetDuration("dial_timeout"), "connection timeout")
	fs.Bool("progress", false, "print progress to stderr")
	fs.String("log-level", v.GetString("log_level"), "log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return ClientConfig{}, err
	}
	if err := layer(v, fs); err != nil {
		return ClientConfig{}, err
	}

	cfg := ClientConfig{
		Addr:        v.GetString("addr"),
		OutDir:      v.GetString("out_dir"),
		ChunkSize:   v.GetInt("chunk_size"),
		DialTimeout: v.GetDuration("dial_timeout"),
		Progress:    v.GetBool("progress"),
		LogLevel:    v.GetString("log_level"),
	}
	kind, err := transport.ParseKind(v.GetString("transport"))
	if err != nil {
		return ClientConfig{}, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cfg.Transport = kind
	if cfg.Verify, err = ParseVerifyMode(v.GetString("verify")); err != nil {
		return ClientConfig{}, err
	}
	if cfg.ChunkSize <= 0 {
		return ClientConfig{}, fmt.Errorf("%w: chunk size must be positive", ErrUsage)
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		return ClientConfig{}, fmt.Errorf("%w: unknown log level %q", ErrUsage, cfg.LogLevel)
	}

	if fs.NArg() != 2 {
		return ClientConfig{}, fmt.Errorf("%w: expected <file_name> <worker_count>, got %d arguments", ErrUsage, fs.NArg())
	}
	cfg.Filename = fs.Arg(0)
	workers, err := strconv.Atoi(fs.Arg(1))
	if err != nil || workers <= 0 {
		return ClientConfig{}, fmt.Errorf("%w: worker count must be a positive integer, got %q", ErrUsage, fs.Arg(1))
	}
	cfg.Workers = workers
	return cfg, nil
}

func newViper(defaults func(*viper.Viper)) *viper.Viper {
	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// layer reads the optional config file and then applies every flag set
// explicitly on the command line, which wins over all other sources.
func layer(v *viper.Viper, fs *flag.FlagSet) error {
	path := v.GetString("config")
	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		path = f.Value.String()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: failed to read config %s: %v", ErrUsage, path, err)
		}
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			return
		}
		v.Set(flagKey(f.Name), f.Value.String())
	})
	return nil
}

func flagKey(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
