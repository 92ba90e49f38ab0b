package database

import (
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
)

// Options は接続プールとSSLの設定。
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// RequireSSL がtrueでURLにsslmodeが指定されていない場合、sslmode=requireを付与する。
	RequireSSL bool
}

// Open はPostgreSQLデータベース接続プールを開く。
// sql.Openは接続を試行しないため、実際の接続確認にはdb.Ping()を使用すること。
func Open(databaseURL string, opts Options) (*sql.DB, error) {
	dsn, err := applySSLMode(databaseURL, opts.RequireSSL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	return db, nil
}

// applySSLMode はURL形式のDSNにsslmode=requireを付与する。
// 既にsslmodeが指定されている場合はそれを尊重する。
func applySSLMode(databaseURL string, requireSSL bool) (string, error) {
	if !requireSSL {
		return databaseURL, nil
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database url: %w", err)
	}
	q := u.Query()
	if q.Get("sslmode") != "" {
		return databaseURL, nil
	}
	q.Set("sslmode", "require")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
