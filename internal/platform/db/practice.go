package db

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	PracticeIDKey contextKey = "practice_id"
	DBConnKey     contextKey = "db_conn"
	DBTxKey       contextKey = "db_tx"
)

var practiceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// SchemaFor returns the postgres schema holding a practice's data.
func SchemaFor(practiceID string) string {
	return "practice_" + practiceID
}

// PracticeMiddleware pins each request to a connection whose search_path
// points at the caller's practice schema.
func PracticeMiddleware(pool *pgxpool.Pool, defaultPractice string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			practiceID := extractPracticeID(c, defaultPractice)
			if !practiceIDPattern.MatchString(practiceID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid practice identifier")
			}

			ctx, release, err := WithPractice(c.Request().Context(), pool, practiceID)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()

			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("practice_id", practiceID)
			return next(c)
		}
	}
}

// WithPractice acquires a pooled connection scoped to the practice schema and
// stores it in the returned context. Callers must invoke release when done.
// Used by the HTTP middleware and by CLI commands such as sweep.
func WithPractice(ctx context.Context, pool *pgxpool.Pool, practiceID string) (context.Context, func(), error) {
	if !practiceIDPattern.MatchString(practiceID) {
		return ctx, func() {}, fmt.Errorf("invalid practice identifier: %s", practiceID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, func() {}, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", SchemaFor(practiceID))); err != nil {
		conn.Release()
		return ctx, func() {}, fmt.Errorf("set search_path: %w", err)
	}
	ctx = context.WithValue(ctx, PracticeIDKey, practiceID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, conn.Release, nil
}

func extractPracticeID(c echo.Context, defaultPractice string) string {
	// JWT claim wins over header, header over query.
	if pid, ok := c.Get("jwt_practice_id").(string); ok && pid != "" {
		return pid
	}
	if pid := c.Request().Header.Get("X-Practice-ID"); pid != "" {
		return pid
	}
	if pid := c.QueryParam("practice_id"); pid != "" {
		return pid
	}
	return defaultPractice
}

// ConnFromContext retrieves the practice-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// PracticeFromContext retrieves the practice ID from context.
func PracticeFromContext(ctx context.Context) string {
	pid, _ := ctx.Value(PracticeIDKey).(string)
	return pid
}

// CreatePracticeSchema creates the schema for a practice and applies all
// migrations to it when a migrator is supplied.
func CreatePracticeSchema(ctx context.Context, pool *pgxpool.Pool, practiceID string, migrator *Migrator) error {
	if !practiceIDPattern.MatchString(practiceID) {
		return fmt.Errorf("invalid practice identifier: %s", practiceID)
	}
	schema := SchemaFor(practiceID)

	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrator != nil {
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}
