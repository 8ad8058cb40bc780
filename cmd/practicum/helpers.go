package main

import (
	"fmt"

	"practicum/internal/config"
	"practicum/internal/store"
	"practicum/internal/task"
)

func loadConfig() (*config.Config, error) {
	return config.Load(rootFlags.config)
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

func loadTemplates(cfg *config.Config) (*task.Set, error) {
	if cfg.TemplatesPath != "" {
		return task.LoadSetFromPath(cfg.TemplatesPath)
	}
	return task.DefaultSet()
}
