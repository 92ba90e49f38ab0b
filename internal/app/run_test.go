package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("SUPABASE_URL", "")
	t.Setenv("SUPABASE_ANON_KEY", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

// TestRun_ServeFailsWithoutDatabase はDBに接続できない場合にserveがエラーを返すことを検証する。
func TestRun_ServeFailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) should fail when the database is unreachable")
	}
	if !strings.Contains(err.Error(), "failed to connect to database") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRun_MigrateFailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"migrate"}); err == nil {
		t.Fatal("Run(migrate) should fail when the database is unreachable")
	}
}

func TestRun_HealthcheckFailsWhenServerIsDown(t *testing.T) {
	t.Setenv("PORT", "1")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err == nil {
		t.Fatal("healthcheck should fail when nothing listens on the port")
	}
}
