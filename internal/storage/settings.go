// Package storage persists the small set of session settings (token, last
// volume, auto-start) in a flat key-value table.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	keyToken            = "token"
	keyLastVolume       = "last_volume"
	keyAutoStartEnabled = "auto_start_enabled"
)

type Settings struct {
	db    *sql.DB
	mu    sync.Mutex
	debug bool
}

func Open(databasePath string, debug bool) (*Settings, error) {
	dbDir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := openDatabase(databasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Settings{db: db, debug: debug}
	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("[DB] Failed to close database after migration error: %v", closeErr)
		}
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return s, nil
}

func openDatabase(dbPath string) (*sql.DB, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Printf("[DB] Creating new settings database at %s", dbPath)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=memory",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=30000",
		"PRAGMA journal_mode=WAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			if closeErr := db.Close(); closeErr != nil {
				log.Printf("[DB] Failed to close database after pragma error: %v", closeErr)
			}
			return nil, fmt.Errorf("execute pragma %s: %w", pragma, err)
		}
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("[DB] Failed to close database after ping error: %v", closeErr)
		}
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

func (s *Settings) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create settings table: %w", err)
	}
	return nil
}

func (s *Settings) get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Settings) set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("write setting %s: %w", key, err)
	}

	if s.debug {
		log.Printf("[DB] Setting updated: %s", key)
	}
	return nil
}

func (s *Settings) delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete setting %s: %w", key, err)
	}
	return nil
}

func (s *Settings) Token() (string, error) {
	value, _, err := s.get(keyToken)
	return value, err
}

func (s *Settings) SetToken(token string) error {
	return s.set(keyToken, token)
}

func (s *Settings) ClearToken() error {
	return s.delete(keyToken)
}

func (s *Settings) LastVolume() (float64, error) {
	value, ok, err := s.get(keyLastVolume)
	if err != nil || !ok {
		return 0, err
	}
	volume, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parse last_volume: %w", err)
	}
	return volume, nil
}

func (s *Settings) SetLastVolume(volume float64) error {
	return s.set(keyLastVolume, strconv.FormatFloat(volume, 'f', -1, 64))
}

func (s *Settings) AutoStartEnabled() (bool, error) {
	value, ok, err := s.get(keyAutoStartEnabled)
	if err != nil || !ok {
		return false, err
	}
	return value == "true", nil
}

func (s *Settings) SetAutoStartEnabled(enabled bool) error {
	return s.set(keyAutoStartEnabled, strconv.FormatBool(enabled))
}

func (s *Settings) Close() error {
	return s.db.Close()
}
