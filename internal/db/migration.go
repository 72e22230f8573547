package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// RunMigrations applies the embedded goose migrations to cfg.Schema.
func RunMigrations(cfg Config) error {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	slog.Info("Running database migrations", "schema", schema)

	conn, err := sql.Open("pgx", cfg.Url)
	if err != nil {
		return err
	}
	defer conn.Close()

	// A single connection keeps the search_path set below for goose.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := ensureSchema(conn, schema); err != nil {
		return err
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	slog.Info("Database migrations completed")
	return nil
}

func ensureSchema(conn *sql.DB, schema string) error {
	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := conn.Exec("CREATE SCHEMA IF NOT EXISTS " + ident); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if _, err := conn.Exec("SET search_path TO " + ident); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	return nil
}
