package database

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // 注册 "sqlite" 驱动

	"github.com/weitek/telegram-channel-meaning/migrations"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// sqlitePragmas 通过 DSN 下发, 每个新连接都会执行。
var sqlitePragmas = []string{
	"foreign_keys(1)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range sqlitePragmas {
		if i == 0 {
			b.WriteString("?")
		} else {
			b.WriteString("&")
		}
		b.WriteString("_pragma=")
		b.WriteString(p)
	}
	return b.String()
}

// OpenSQLite 打开 (必要时创建) 本地归档库并执行内嵌迁移。
// 单写连接: SQLite 同一时刻只允许一个写事务。
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, apperrors.Invalid("database.OpenSQLite", "sqlite path is required")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, apperrors.Wrapf(err, "database.OpenSQLite", "create dir %s", dir)
			}
		}
		path = filepath.Clean(path)
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, apperrors.StoreFailure(err, "database.OpenSQLite", "open")
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.StoreFailure(err, "database.OpenSQLite", "ping")
	}
	if err := MigrateSQLite(ctx, db, migrations.SQLite()); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Infow("sqlite archive opened", logger.FieldPath, path)
	return db, nil
}

// MigrateSQLite 与 Migrate 相同的 schema_version 语义，作用于 SQLite。
func MigrateSQLite(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	if db == nil {
		return apperrors.New("MigrateSQLite", "db is required")
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)
	`); err != nil {
		return apperrors.StoreFailure(err, "MigrateSQLite", "create schema_version table")
	}

	sqlFiles, err := listMigrations(fsys)
	if err != nil {
		return err
	}

	applied := make(map[string]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return apperrors.StoreFailure(err, "MigrateSQLite", "query schema_version")
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return apperrors.StoreFailure(err, "MigrateSQLite", "scan schema_version")
		}
		applied[v] = true
	}
	rows.Close()

	for _, name := range sqlFiles {
		if applied[name] {
			continue
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return apperrors.Wrapf(err, "MigrateSQLite", "read migration %s", name)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return apperrors.Wrapf(err, "MigrateSQLite", "begin tx for %s", name)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return apperrors.Wrapf(err, "MigrateSQLite", "exec migration %s", name)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return apperrors.Wrapf(err, "MigrateSQLite", "record migration %s", name)
		}
		if err := tx.Commit(); err != nil {
			return apperrors.Wrapf(err, "MigrateSQLite", "commit migration %s", name)
		}
		logger.Debugw("sqlite migration applied", logger.FieldVersion, name)
	}
	return nil
}
