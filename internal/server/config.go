package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

// Config contains everything needed to serve a directory tree.
type Config struct {
	Host string // Bind address, empty means all interfaces
	Port int    // TCP port, 0 picks an ephemeral port
	Root string // Directory served at "/"
	Fs   afero.Fs

	LiveReload bool // Serve /__events and watch Root for changes
	VerifyWasm bool // Compile .wasm files at startup and on change

	Debounce        time.Duration // Watcher quiet period (default: 300ms)
	ShutdownTimeout time.Duration // Graceful shutdown budget (default: 5s)
}

// DefaultConfig serves the working directory on all interfaces, port 8000.
func DefaultConfig() *Config {
	return &Config{
		Host:            "",
		Port:            8000,
		Root:            ".",
		Fs:              afero.NewOsFs(),
		Debounce:        300 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Addr returns the host:port pair to listen on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Validate checks the port range and fills unset fields with defaults.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 0-65535", c.Port)
	}

	defaults := DefaultConfig()
	if c.Root == "" {
		c.Root = defaults.Root
	}
	if c.Fs == nil {
		c.Fs = defaults.Fs
	}
	if c.Debounce <= 0 {
		c.Debounce = defaults.Debounce
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
	return nil
}
