// Package config loads socbuild settings from socbuild.yaml, SOCBUILD_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/appkins-org/go-socbuild/internal/toolchain"
)

const envPrefix = "SOCBUILD"

type TftpConfig struct {
	Address       string `yaml:"address" mapstructure:"address"`
	Port          int    `yaml:"port" mapstructure:"port"`
	RootDirectory string `yaml:"root_directory" mapstructure:"root_directory"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	Insecure bool   `yaml:"insecure" mapstructure:"insecure"`
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

type Config struct {
	LogLevel  string          `yaml:"log_level" mapstructure:"log_level"`
	LogFormat string          `yaml:"log_format" mapstructure:"log_format"`
	OutputDir string          `yaml:"output_dir" mapstructure:"output_dir"`
	BoardsDir string          `yaml:"boards_dir" mapstructure:"boards_dir"`
	Tools     toolchain.Tools `yaml:"tools" mapstructure:"tools"`
	Tracing   TracingConfig   `yaml:"tracing" mapstructure:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Tftp      TftpConfig      `yaml:"tftp" mapstructure:"tftp"`
	Log       logr.Logger     `yaml:"-" mapstructure:"-"`
}

// Loader owns the viper instance behind a Config.
type Loader struct {
	v    *viper.Viper
	mu   sync.Mutex
	conf *Config
	out  io.Writer
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigName("socbuild")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "socbuild"))
	}
	v.AddConfigPath("/etc/socbuild/")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("output_dir", "build")
	v.SetDefault("boards_dir", "")
	v.SetDefault("tools.vivado", "vivado")
	v.SetDefault("tools.gw_sh", "gw_sh")
	v.SetDefault("tools.openfpgaloader", "openFPGALoader")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("tftp.address", "0.0.0.0")
	v.SetDefault("tftp.port", 69)
	v.SetDefault("tftp.root_directory", "build")

	return &Loader{v: v, out: os.Stderr}
}

// BindFlags binds the persistent flags to their configuration keys.
func (l *Loader) BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default: socbuild.yaml in ., ~/.config/socbuild, /etc/socbuild)")
	fs.String("log-level", l.v.GetString("log_level"), "log level: info or debug")
	fs.String("log-format", l.v.GetString("log_format"), "log format: json or text")
	fs.String("output-dir", l.v.GetString("output_dir"), "directory build trees are written to")
	fs.String("boards-dir", l.v.GetString("boards_dir"), "directory of additional board definitions")
	for key, flag := range map[string]string{
		"log_level":  "log-level",
		"log_format": "log-format",
		"output_dir": "output-dir",
		"boards_dir": "boards-dir",
	} {
		if err := l.v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			log.Fatalf("config: unable to bind flag: %s", err.Error())
		}
	}
}

// Load reads the config file, if any, and the environment. fs may be nil.
func (l *Loader) Load(fs *pflag.FlagSet) (*Config, error) {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			l.v.SetConfigFile(f.Value.String())
		}
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	for _, key := range l.v.AllKeys() {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(key, envKey); err != nil {
			return nil, fmt.Errorf("config: unable to bind env: %w", err)
		}
	}

	conf := &Config{}
	if err := l.v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	conf.Log = NewLogger(l.out, conf.LogLevel, conf.LogFormat)

	l.mu.Lock()
	l.conf = conf
	l.mu.Unlock()
	return conf, nil
}

// Watch reloads the config file when it changes and hands the new Config
// to fn. Invalid files are logged and ignored.
func (l *Loader) Watch(fn func(*Config)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.mu.Lock()
		prev := l.conf
		l.mu.Unlock()

		conf := &Config{}
		if err := l.v.Unmarshal(conf); err != nil {
			prev.Log.Error(err, "config reload failed", "file", e.Name)
			return
		}
		if err := conf.validate(); err != nil {
			prev.Log.Error(err, "config reload failed", "file", e.Name)
			return
		}
		conf.Log = NewLogger(l.out, conf.LogLevel, conf.LogFormat)

		l.mu.Lock()
		l.conf = conf
		l.mu.Unlock()
		conf.Log.Info("config reloaded", "file", e.Name)
		fn(conf)
	})
	l.v.WatchConfig()
}

// File returns the config file in use, or "".
func (l *Loader) File() string { return l.v.ConfigFileUsed() }

func (c *Config) validate() error {
	switch c.LogLevel {
	case "info", "debug":
	default:
		return fmt.Errorf("config: log_level %q, want info or debug", c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: log_format %q, want json or text", c.LogFormat)
	}
	if c.Tftp.Port <= 0 || c.Tftp.Port > 65535 {
		return fmt.Errorf("config: tftp.port %d out of range", c.Tftp.Port)
	}
	return nil
}

// GetLocalIP returns the first non-loopback IPv4 address and its interface.
// SoCs that netboot from this host use it as their remote IP.
func GetLocalIP() (string, string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", err
	}
	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			return "", "", err
		}
		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil && !ip.IsLoopback() && ip.To4() != nil {
				return ip.String(), i.Name, nil
			}
		}
	}
	return "", "", nil
}

// NewLogger returns a logr.Logger writing to w: slog JSON for "json",
// stdr for "text". "debug" enables V(1).
func NewLogger(w io.Writer, level, format string) logr.Logger {
	if format == "text" {
		stdr.SetVerbosity(0)
		if level == "debug" {
			stdr.SetVerbosity(1)
		}
		return stdr.New(log.New(w, "", log.LstdFlags))
	}

	// source file and function can be long. This makes the logs less readable.
	// truncate source file and function to last 3 parts for improved readability.
	customAttr := func(_ []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			ss, ok := a.Value.Any().(*slog.Source)
			if !ok || ss == nil {
				return a
			}
			f := strings.Split(ss.Function, "/")
			if len(f) > 3 {
				ss.Function = filepath.Join(f[len(f)-3:]...)
			}
			p := strings.Split(ss.File, "/")
			if len(p) > 3 {
				ss.File = filepath.Join(p[len(p)-3:]...)
			}
		}
		return a
	}
	opts := &slog.HandlerOptions{AddSource: true, ReplaceAttr: customAttr}
	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		opts.Level = slog.LevelInfo
	}
	return logr.FromSlogHandler(slog.NewJSONHandler(w, opts))
}
