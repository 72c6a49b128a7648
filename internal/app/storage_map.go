package app

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/internal/storage"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const (
	defaultFilePath   = "./data/builders.json"
	defaultSQLitePath = "./data/friends.db"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "file":
		if path == "" {
			path = defaultFilePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "file", Path: filepath.Clean(path), BusyTimeout: busy}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = defaultSQLitePath
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: filepath.Clean(path), BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// OpenStore opens the store configured in cfg. The CLI uses it without starting the bot.
func OpenStore(cfg *config.Config, log logx.Logger) (builders.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open %s store %s: %w", sc.Driver, sc.Path, err)
	}
	return st, nil
}
