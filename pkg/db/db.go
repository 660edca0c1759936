package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

var DB *sql.DB

// DBType represents the database type
type DBType string

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"
	DBTypeMariaDB  DBType = "mariadb"
	DBTypeMySQL    DBType = "mysql"
)

// Current database type
var currentDBType DBType = DBTypeSQLite

// DBConfig holds database configuration
type DBConfig struct {
	Type     DBType `json:"type"`     // sqlite, postgres, mariadb, mysql
	Host     string `json:"host"`     // Database host
	Port     int    `json:"port"`     // Database port
	Database string `json:"database"` // Database name
	Username string `json:"username"` // Database username
	Password string `json:"password"` // Database password
	SSLMode  string `json:"sslMode"`  // SSL mode (for postgres)
	Path     string `json:"path"`     // SQLite file path
}

// Init initializes database with SQLite
func Init(dbPath string) error {
	return InitWithConfig(DBConfig{
		Type: DBTypeSQLite,
		Path: dbPath,
	})
}

// InitWithConfig initializes database with configuration
func InitWithConfig(cfg DBConfig) error {
	var db *sql.DB
	var err error

	dbType := cfg.Type
	if dbType == "" {
		dbType = DBTypeSQLite
	}

	switch dbType {
	case DBTypeSQLite:
		db, err = initSQLite(cfg.Path)
	case DBTypePostgres:
		db, err = initPostgres(cfg)
	case DBTypeMariaDB, DBTypeMySQL:
		db, err = initMySQL(cfg)
	default:
		return fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	currentDBType = dbType
	DB = db
	return createTables()
}

func initSQLite(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return db, nil
}

func initPostgres(cfg DBConfig) (*sql.DB, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, port, cfg.Username, cfg.Password, cfg.Database, sslMode)

	return sql.Open("postgres", dsn)
}

func initMySQL(cfg DBConfig) (*sql.DB, error) {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	// Format: user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		cfg.Username, cfg.Password, cfg.Host, port, cfg.Database)

	return sql.Open("mysql", dsn)
}

// GetDBType returns the current database type
func GetDBType() DBType {
	return currentDBType
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func rebind(query string) string {
	if currentDBType != DBTypePostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func createTables() error {
	var query string
	switch currentDBType {
	case DBTypePostgres:
		query = `
		CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(36) PRIMARY KEY,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			run_id VARCHAR(36) DEFAULT '',
			tool VARCHAR(100) DEFAULT '',
			command TEXT,
			category VARCHAR(20) DEFAULT '',
			dangerous BOOLEAN DEFAULT FALSE,
			success BOOLEAN DEFAULT TRUE,
			exit_code INTEGER DEFAULT 0,
			truncated BOOLEAN DEFAULT FALSE,
			duration_ms BIGINT DEFAULT 0,
			error_msg TEXT DEFAULT ''
		);`
	case DBTypeMariaDB, DBTypeMySQL:
		query = `
		CREATE TABLE IF NOT EXISTS executions (
			id VARCHAR(36) PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			run_id VARCHAR(36) DEFAULT '',
			tool VARCHAR(100) DEFAULT '',
			command TEXT,
			category VARCHAR(20) DEFAULT '',
			dangerous TINYINT(1) DEFAULT 0,
			success TINYINT(1) DEFAULT 1,
			exit_code INTEGER DEFAULT 0,
			truncated TINYINT(1) DEFAULT 0,
			duration_ms BIGINT DEFAULT 0,
			error_msg TEXT
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	default: // SQLite
		query = `
		CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			run_id TEXT DEFAULT '',
			tool TEXT DEFAULT '',
			command TEXT,
			category TEXT DEFAULT '',
			dangerous INTEGER DEFAULT 0,
			success INTEGER DEFAULT 1,
			exit_code INTEGER DEFAULT 0,
			truncated INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			error_msg TEXT DEFAULT ''
		);`
	}
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create executions table: %w", err)
	}

	for _, q := range getIndexQueries() {
		if _, err := DB.Exec(q); err != nil {
			// MySQL has no IF NOT EXISTS for indexes; a rerun fails here.
			log.Debugf("db: index: %v", err)
		}
	}
	return nil
}

func getIndexQueries() []string {
	switch currentDBType {
	case DBTypeMariaDB, DBTypeMySQL:
		return []string{
			"CREATE INDEX idx_exec_created ON executions(created_at);",
			"CREATE INDEX idx_exec_run ON executions(run_id);",
		}
	default:
		return []string{
			"CREATE INDEX IF NOT EXISTS idx_exec_created ON executions(created_at);",
			"CREATE INDEX IF NOT EXISTS idx_exec_run ON executions(run_id);",
		}
	}
}

func Close() error {
	if DB != nil {
		err := DB.Close()
		DB = nil
		return err
	}
	return nil
}
