package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// SQLConfig 描述 MySQL 仓库的连接参数。
type SQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLRepository 使用 MySQL 存储命令历史。
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository 创建连接池并初始化数据表。
func NewSQLRepository(ctx context.Context, cfg SQLConfig) (*SQLRepository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
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

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}

	repo := &SQLRepository{db: db}
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

func (s *SQLRepository) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS command_history (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        command_id VARCHAR(64) NOT NULL,
        input TEXT NOT NULL,
        tool VARCHAR(64) DEFAULT '',
        action VARCHAR(32) DEFAULT '',
        success TINYINT(1) NOT NULL,
        message TEXT NOT NULL,
        error TEXT,
        result MEDIUMTEXT,
        elapsed_ms BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        INDEX idx_created_at (created_at),
        INDEX idx_command_id (command_id)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("初始化 command_history 表失败: %w", err)
	}
	return nil
}

// Save 将命令记录写入 MySQL。
func (s *SQLRepository) Save(ctx context.Context, record Record) error {
	const stmt = `INSERT INTO command_history
        (command_id, input, tool, action, success, message, error, result, elapsed_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Input,
		record.Tool,
		record.Action,
		record.Success,
		record.Message,
		record.Error,
		record.Result,
		record.ElapsedMS,
		record.CreatedAt,
	); err != nil {
		return fmt.Errorf("写入 MySQL 失败: %w", err)
	}
	return nil
}

// ListLatest 查询最近的若干条命令记录。
func (s *SQLRepository) ListLatest(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `SELECT command_id, input, tool, action, success, message,
        COALESCE(error, ''), COALESCE(result, ''), elapsed_ms, created_at
        FROM command_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询命令记录失败: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.ID, &record.Input, &record.Tool, &record.Action, &record.Success,
			&record.Message, &record.Error, &record.Result, &record.ElapsedMS, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("解析命令记录失败: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历命令记录失败: %w", err)
	}

	return records, nil
}

// Close 关闭底层数据库连接。
func (s *SQLRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
