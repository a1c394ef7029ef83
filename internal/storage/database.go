package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"docdigitizer/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// One connection keeps the foreign_keys pragma and :memory: databases consistent.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if !strings.Contains(params, "parseTime") {
			if params != "" {
				params += "&"
			}
			params += "parseTime=true"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id TEXT PRIMARY KEY,
				owner_key TEXT NOT NULL,
				name TEXT NOT NULL,
				is_multi_page BOOLEAN NOT NULL DEFAULT 0,
				declared_page_count INTEGER NOT NULL,
				uploaded_at DATETIME NOT NULL,
				document_extracted TEXT,
				extracted_at DATETIME,
				processing_started_at DATETIME,
				processing_finished_at DATETIME,
				extraction_error TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS pages (
				id TEXT NOT NULL,
				document_id TEXT NOT NULL,
				page_number INTEGER NOT NULL,
				filename TEXT NOT NULL,
				original_filename TEXT NOT NULL,
				file_path TEXT NOT NULL,
				extension TEXT NOT NULL,
				mime_type TEXT NOT NULL,
				source TEXT NOT NULL,
				captured_at DATETIME NOT NULL,
				processed BOOLEAN NOT NULL DEFAULT 0,
				processed_at DATETIME,
				extracted TEXT,
				PRIMARY KEY (document_id, id),
				FOREIGN KEY(document_id) REFERENCES documents(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_key, uploaded_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_pages_document ON pages(document_id, page_number)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS documents (
				id VARCHAR(64) NOT NULL,
				owner_key VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				is_multi_page BOOLEAN NOT NULL DEFAULT 0,
				declared_page_count INT NOT NULL,
				uploaded_at DATETIME(6) NOT NULL,
				document_extracted JSON NULL,
				extracted_at DATETIME(6) NULL,
				processing_started_at DATETIME(6) NULL,
				processing_finished_at DATETIME(6) NULL,
				extraction_error TEXT NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_documents_owner (owner_key, uploaded_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS pages (
				id VARCHAR(64) NOT NULL,
				document_id VARCHAR(64) NOT NULL,
				page_number INT NOT NULL,
				filename VARCHAR(255) NOT NULL,
				original_filename VARCHAR(255) NOT NULL,
				file_path TEXT NOT NULL,
				extension VARCHAR(16) NOT NULL,
				mime_type VARCHAR(100) NOT NULL,
				source VARCHAR(255) NOT NULL,
				captured_at DATETIME(6) NOT NULL,
				processed BOOLEAN NOT NULL DEFAULT 0,
				processed_at DATETIME(6) NULL,
				extracted JSON NULL,
				PRIMARY KEY (document_id, id),
				INDEX idx_pages_document (document_id, page_number),
				CONSTRAINT fk_pages_document FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
