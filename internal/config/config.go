// Package config loads the server configuration from defaults, an optional
// TOML or YAML file, and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultPort is used when neither the config file nor the flags set a port.
const DefaultPort = 8000

// ServerConfig is fixed once the server starts and is shared read-only by
// every connection.
type ServerConfig struct {
	Root        string
	Port        int
	BindAddress string
}

// Addr returns the host:port to listen on.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.BindAddress, strconv.Itoa(c.Port))
}

// Config is everything the process needs at startup.
type Config struct {
	Server   ServerConfig
	LogLevel slog.Level
}

// fileConfig mirrors the config file. Port is a pointer so that an absent
// key can be told apart from port 0.
type fileConfig struct {
	Root     string `toml:"root" yaml:"root"`
	Port     *int   `toml:"port" yaml:"port"`
	Bind     string `toml:"bind" yaml:"bind"`
	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Load parses args (without the program name). A -h or -help flag returns
// flag.ErrHelp after the usage text has been printed to output.
func Load(args []string, output io.Writer) (Config, error) {
	fs := flag.NewFlagSet("servedir", flag.ContinueOnError)
	fs.SetOutput(output)
	port := fs.Int("port", DefaultPort, "Port to serve on")
	bind := fs.String("bind", "", "Address to bind (all interfaces when empty)")
	dir := fs.String("dir", "", "Directory to serve (default: working directory)")
	configPath := fs.String("config", "", "Optional .toml or .yaml config file")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn or error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	fc := fileConfig{}
	if *configPath != "" {
		var err error
		if fc, err = readFile(*configPath); err != nil {
			return Config{}, err
		}
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg := Config{Server: ServerConfig{Port: DefaultPort}}
	levelName := "info"
	if fc.Port != nil {
		cfg.Server.Port = *fc.Port
	}
	cfg.Server.Root = fc.Root
	cfg.Server.BindAddress = fc.Bind
	if fc.LogLevel != "" {
		levelName = fc.LogLevel
	}
	if set["port"] {
		cfg.Server.Port = *port
	}
	if set["bind"] {
		cfg.Server.BindAddress = *bind
	}
	if set["dir"] {
		cfg.Server.Root = *dir
	}
	if set["log-level"] {
		levelName = *logLevel
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(levelName)); err != nil {
		return Config{}, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	if err := cfg.Server.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize makes Root absolute and checks that it is a directory and that
// Port is usable.
func (c *ServerConfig) normalize() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	root := c.Root
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		root = wd
	}
	absDir, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("directory does not exist: %s", absDir)
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory: %s", absDir)
	}
	c.Root = absDir
	return nil
}

func readFile(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("failed to read config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &fc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		return fc, fmt.Errorf("unsupported config format %q", ext)
	}
	if err != nil {
		return fc, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return fc, nil
}
