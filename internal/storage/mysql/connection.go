package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	xerrors "AgentHub/internal/errors"
)

// Config 描述 MySQL 连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Open 建立连接池并执行尚未应用的迁移。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDatabase(ctx context.Context, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "MySQL DSN 不能为空")
	}
	parsed, err := mysqldrv.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析 MySQL DSN 失败")
	}
	// 时间列按 time.Time 扫描，且统一使用 UTC。
	parsed.ParseTime = true
	parsed.Loc = time.UTC

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

func isDuplicate(err error) bool {
	var mysqlErr *mysqldrv.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// nullString 把空字符串存为 NULL，用于带唯一索引的可选列。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func storageErr(err error, msg string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg)
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
