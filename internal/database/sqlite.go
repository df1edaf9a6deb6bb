package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/professor93/grblctl/internal/defaults"
	"github.com/professor93/grblctl/internal/grbl"
	"github.com/professor93/grblctl/pkg/constants"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrSettingNotFound = errors.New("setting not found")
	ErrInvalidValue    = errors.New("invalid setting value")
)

const metaProfile = "profile"

// DB is the persistent machine settings store
type DB struct {
	conn   *sql.DB
	logger *zap.Logger
	dbPath string
	mu     sync.RWMutex
}

// Config holds database configuration
type Config struct {
	DataDir string // Directory for database file
	Logger  *zap.Logger
}

// StoredSetting is a persisted setting value
type StoredSetting struct {
	ID        grbl.SettingID `json:"id"`
	Key       string         `json:"key"`
	Value     float64        `json:"value"`
	Unit      string         `json:"unit"`
	Kind      grbl.Kind      `json:"kind"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Line renders the stored setting as a `$n=value` assignment
func (s StoredSetting) Line() string {
	line, _ := grbl.FormatSetting(s.ID, s.Value)
	return line
}

// WireLine renders the assignment pushed to the controller
func (s StoredSetting) WireLine() string {
	line, _ := grbl.WireSetting(s.ID, s.Value)
	return line
}

// New opens the settings database and applies migrations
func New(cfg *Config) (*DB, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = constants.DefaultDataDir
	}

	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, constants.DatabaseFileName)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps the pragmas below in effect and serializes writers
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	db := &DB{
		conn:   conn,
		logger: logger.With(zap.String("component", "database")),
		dbPath: dbPath,
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

var gooseMu sync.Mutex

// migrate applies embedded goose migrations. goose keeps package-level state,
// so concurrent opens are serialized.
func (db *DB) migrate() error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db.conn, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Ping checks if the database connection is alive
func (db *DB) Ping() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}

	return db.conn.Ping()
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.dbPath
}

// --- Machine settings ---

// EnsureSeeded copies the profile defaults into storage if no settings have
// been stored yet. It reports whether seeding happened.
func (db *DB) EnsureSeeded(profile defaults.Profile) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM machine_settings").Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count settings: %w", err)
	}
	if count > 0 {
		return false, nil
	}

	if err := db.writeDefaults(profile); err != nil {
		return false, err
	}
	db.logger.Info("Seeded machine settings",
		zap.String("profile", profile.Name),
		zap.Int("settings", len(profile.Settings())))
	return true, nil
}

// Reset overwrites every stored setting with the profile defaults.
func (db *DB) Reset(profile defaults.Profile) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if err := db.writeDefaults(profile); err != nil {
		return err
	}
	db.logger.Info("Restored machine settings to defaults", zap.String("profile", profile.Name))
	return nil
}

// writeDefaults must be called with db.mu held.
func (db *DB) writeDefaults(profile defaults.Profile) error {
	return db.transaction(func(tx *sql.Tx) error {
		upsert := `
			INSERT INTO machine_settings (id, key, value, created_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				key = excluded.key,
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`
		for _, s := range profile.Settings() {
			if _, err := tx.Exec(upsert, int(s.ID), s.Key, s.Value); err != nil {
				return fmt.Errorf("failed to write $%d: %w", s.ID, err)
			}
		}

		meta := `
			INSERT INTO settings_meta (key, value, updated_at)
			VALUES (?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(key) DO UPDATE SET
				value = excluded.value,
				updated_at = CURRENT_TIMESTAMP
		`
		if _, err := tx.Exec(meta, metaProfile, profile.Name); err != nil {
			return fmt.Errorf("failed to record profile: %w", err)
		}
		return nil
	})
}

// SeededProfile returns the name of the profile the stored settings were last
// seeded or reset from.
func (db *DB) SeededProfile() (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var name string
	err := db.conn.QueryRow("SELECT value FROM settings_meta WHERE key = ?", metaProfile).Scan(&name)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query profile: %w", err)
	}
	return name, nil
}

// Get retrieves one stored setting
func (db *DB) Get(id grbl.SettingID) (StoredSetting, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var (
		s       StoredSetting
		rawID   int
		updated string
	)
	query := "SELECT id, key, value, updated_at FROM machine_settings WHERE id = ?"

	err := db.conn.QueryRow(query, int(id)).Scan(&rawID, &s.Key, &s.Value, &updated)
	if err == sql.ErrNoRows {
		return StoredSetting{}, fmt.Errorf("%w: $%d", ErrSettingNotFound, id)
	}
	if err != nil {
		return StoredSetting{}, fmt.Errorf("failed to query setting: %w", err)
	}

	s.ID = grbl.SettingID(rawID)
	s.UpdatedAt = parseTimestamp(updated)
	describe(&s)
	return s, nil
}

// Set validates and stores one setting value
func (db *DB) Set(id grbl.SettingID, value float64) error {
	def, ok := grbl.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: $%d", ErrSettingNotFound, id)
	}
	if err := def.Check(value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	query := `
		INSERT INTO machine_settings (id, key, value, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := db.conn.Exec(query, int(id), def.Key, value); err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}

	db.logger.Debug("Setting updated", zap.Int("id", int(id)), zap.Float64("value", value))
	return nil
}

// All retrieves every stored setting ordered by identifier
func (db *DB) All() ([]StoredSetting, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query("SELECT id, key, value, updated_at FROM machine_settings ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	var settings []StoredSetting
	for rows.Next() {
		var (
			s       StoredSetting
			rawID   int
			updated string
		)
		if err := rows.Scan(&rawID, &s.Key, &s.Value, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		s.ID = grbl.SettingID(rawID)
		s.UpdatedAt = parseTimestamp(updated)
		describe(&s)
		settings = append(settings, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}

	return settings, nil
}

// parseTimestamp accepts both SQLite's CURRENT_TIMESTAMP text and the RFC 3339
// form the driver produces for DATETIME columns.
func parseTimestamp(v string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

func describe(s *StoredSetting) {
	if def, ok := grbl.Lookup(s.ID); ok {
		s.Unit = def.Unit
		s.Kind = def.Kind
	}
}

// transaction executes fn within a database transaction. Callers hold db.mu.
func (db *DB) transaction(fn func(*sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
