package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"TicketMint/internal/config"
	"TicketMint/internal/db"
	"TicketMint/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config yaml")
	dir := pflag.String("dir", "migrations", "directory holding numbered .sql files")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, 1)
	if err != nil {
		logger.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := ensureSchemaTable(ctx, pool); err != nil {
		logger.Fatalf("ensure schema table failed: %v", err)
	}

	files, err := listSQLFiles(*dir)
	if err != nil {
		logger.Fatalf("list migrations failed: %v", err)
	}

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		done, err := isApplied(ctx, pool, name)
		if err != nil {
			logger.Fatalf("check migration failed (%s): %v", name, err)
		}
		if done {
			continue
		}

		if err := applyMigration(ctx, pool, file, name); err != nil {
			logger.Fatalf("apply migration failed (%s): %v", name, err)
		}
		logger.WithField("file", name).Info("migration applied")
		applied++
	}
	logger.WithField("applied", applied).Info("schema up to date")
}

func ensureSchemaTable(ctx context.Context, pool *db.Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".sql") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *db.Pool, file string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func applyMigration(ctx context.Context, pool *db.Pool, file, name string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if sql := strings.TrimSpace(string(data)); sql != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
