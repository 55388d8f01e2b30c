// Package config loads PGAdapter's on-disk configuration file and watches it
// for changes, mirroring the ini-file-plus-hot-reload pattern used elsewhere
// in the wider proxy ecosystem this module draws from.
package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/ini.v1"
)

// SSLMode controls whether the server accepts, requires, or refuses
// encrypted client connections.
type SSLMode string

const (
	SSLDisable SSLMode = "disable"
	SSLAllow   SSLMode = "allow"
	SSLRequire SSLMode = "require"
	SSLEnable  SSLMode = "enable"
)

// Config holds the settings read from the PGAdapter ini file, reloadable at
// runtime for the values that are safe to change without a restart.
type Config struct {
	Project         string
	Instance        string
	Database        string
	TCPPort         int
	UnixSocketDir   string
	SSLMode         SSLMode
	MaxBufferedRows int
	MaxBufferedBytes int64
}

// defaultConfig returns the built-in defaults applied before the ini file
// (if any) overrides them.
func defaultConfig() Config {
	return Config{
		TCPPort:          5432,
		SSLMode:          SSLDisable,
		MaxBufferedRows:  1000,
		MaxBufferedBytes: 5 << 20,
	}
}

// Load reads an ini-formatted configuration file at path. An empty path is
// not an error; the defaults are returned unchanged. A file that cannot be
// read or parsed is an error.
func Load(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyFile(&cfg, file)
	return cfg, nil
}

func applyFile(cfg *Config, file *ini.File) {
	section := file.Section("")
	if k := section.Key("project"); k.String() != "" {
		cfg.Project = k.String()
	}
	if k := section.Key("instance"); k.String() != "" {
		cfg.Instance = k.String()
	}
	if k := section.Key("database"); k.String() != "" {
		cfg.Database = k.String()
	}
	if k := section.Key("port"); k.String() != "" {
		cfg.TCPPort = k.MustInt(cfg.TCPPort)
	}
	if k := section.Key("unix_socket_directory"); k.String() != "" {
		cfg.UnixSocketDir = k.String()
	}
	if k := section.Key("ssl"); k.String() != "" {
		cfg.SSLMode = SSLMode(k.String())
	}
	if k := section.Key("max_buffered_rows"); k.String() != "" {
		cfg.MaxBufferedRows = k.MustInt(cfg.MaxBufferedRows)
	}
	if k := section.Key("max_buffered_bytes"); k.String() != "" {
		cfg.MaxBufferedBytes = k.MustInt64(cfg.MaxBufferedBytes)
	}
}

// Watcher reloads Config whenever the backing file changes on disk; callers
// read the latest value with Current.
type Watcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	cur Config
}

// NewWatcher loads path once and starts watching it for further writes.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, logger: logger, cur: cfg}

	if path == "" {
		return w, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting config watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching config file %s: %w", path, err)
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Error("failed to reload config", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			w.cur = cfg
			w.mu.Unlock()
			w.logger.Info("reloaded configuration", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)
		}
	}
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Close stops the underlying file watcher, if any.
func (w *Watcher) Close() error {
	if w.watcher == nil {
		return nil
	}
	return w.watcher.Close()
}
