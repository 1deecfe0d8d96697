package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	got := PostgresPoolConfig{}.withDefaults()
	if got.MaxOpenConns != 10 || got.MaxIdleConns != 5 {
		t.Fatalf("unexpected pool sizes: %+v", got)
	}
	if got.PingTimeout != 5*time.Second {
		t.Fatalf("unexpected ping timeout: %v", got.PingTimeout)
	}

	custom := PostgresPoolConfig{MaxOpenConns: 4, MaxIdleConns: 8, PingTimeout: time.Second}.withDefaults()
	if custom.MaxOpenConns != 4 || custom.MaxIdleConns != 2 || custom.PingTimeout != time.Second {
		t.Fatalf("expected explicit values to survive: %+v", custom)
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "x:6379"}.withDefaults()
	if got.PoolSize != 20 || got.DialTimeout != 3*time.Second {
		t.Fatalf("unexpected redis defaults: %+v", got)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

func TestEnsureSchema_NilDB(t *testing.T) {
	if err := EnsureSchema(context.Background(), nil, "SELECT 1"); err == nil {
		t.Fatalf("expected error for nil db")
	}
}

func TestOpenPostgres_RequiresDSN(t *testing.T) {
	if _, err := OpenPostgres(context.Background(), "", PostgresPoolConfig{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(dup) {
		t.Fatalf("expected wrapped 23505 to match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation must not match")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain error must not match")
	}
}
