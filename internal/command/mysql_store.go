package command

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "HyvBase/internal/errors"
)

// MySQLStore 使用 MySQL 记录命令状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS command_states (
        id VARCHAR(64) PRIMARY KEY,
        input TEXT NOT NULL,
        metadata TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_success TINYINT(1) NOT NULL DEFAULT 0,
        result_message TEXT,
        result_error TEXT,
        result_tool VARCHAR(64) DEFAULT '',
        result_payload TEXT,
        result_elapsed_ms BIGINT NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_command_status (status),
        INDEX idx_command_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 command_states 表失败")
	}
	if _, err := s.db.Exec(`ALTER TABLE command_states ADD COLUMN result_elapsed_ms BIGINT NOT NULL DEFAULT 0 AFTER result_payload`); err != nil {
		var mysqlErr *mysql.MySQLError
		if !(stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1060) {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扩展 command_states.result_elapsed_ms 失败")
		}
	}
	return nil
}

// Create 插入新的命令记录。
func (s *MySQLStore) Create(ctx context.Context, cmd *Command) error {
	if cmd == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "command 不能为空")
	}
	if strings.TrimSpace(cmd.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "命令 ID 不能为空")
	}

	now := time.Now().Unix()
	cmd.CreatedAt = now
	cmd.UpdatedAt = now

	metadataValue, err := marshalMetadata(cmd.Metadata)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码命令 metadata 失败")
	}

	const stmt = `INSERT INTO command_states
        (id, input, metadata, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		cmd.ID,
		cmd.Input,
		metadataValue,
		cmd.Status,
		cmd.Attempts,
		cmd.MaxRetries,
		cmd.CreatedAt,
		cmd.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrCommandConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入命令失败")
	}
	return nil
}

// Get 查询指定命令。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Command, error) {
	const stmt = `SELECT id, input, metadata, status, attempts, max_retries, last_error, error_code,
        result_success, result_message, result_error, result_tool, result_payload, result_elapsed_ms, created_at, updated_at
        FROM command_states WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	cmd, err := scanCommand(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询命令失败")
	}
	return cmd, nil
}

// Claim 将命令标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Command, error) {
	const updateStmt = `UPDATE command_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status = ? AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新命令状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		cmd, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch cmd.Status {
		case StatusSucceeded:
			return cmd, ErrCommandCompleted
		case StatusRunning:
			return cmd, ErrCommandConflict
		case StatusFailed:
			// failed 是终态，不再领取。
			return cmd, ErrCommandExhausted
		default:
			if cmd.Attempts >= cmd.MaxRetries {
				return cmd, ErrCommandExhausted
			}
			return cmd, ErrCommandConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将命令标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result Outcome) error {
	const stmt = `UPDATE command_states SET status = ?, result_success = ?, result_message = ?, result_error = ?,
        result_tool = ?, result_payload = ?, result_elapsed_ms = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.Success,
		result.Message,
		result.Error,
		result.Tool,
		result.Payload,
		result.ElapsedMS,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记命令成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// MarkFailed 记录失败信息。terminal 为真时进入终态 failed，
// 否则回到 pending 等待下一次领取。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE command_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	status := StatusFailed
	if !terminal {
		status = StatusPending
	}

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		status,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记命令失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// List 返回符合过滤条件的命令列表。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Command, error) {
	opts.applyDefaults()

	query := `SELECT id, input, metadata, status, attempts, max_retries, last_error, error_code,
        result_success, result_message, result_error, result_tool, result_payload, result_elapsed_ms, created_at, updated_at FROM command_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询命令列表失败")
	}
	defer rows.Close()

	commands := make([]*Command, 0, opts.Limit)
	for rows.Next() {
		cmd, err := scanCommand(rows.Scan)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析命令记录失败")
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历命令失败")
	}
	return commands, nil
}

// Stats 返回符合过滤条件的命令聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM command_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats Stats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询命令统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanCommand(scan func(dest ...any) error) (*Command, error) {
	var cmd Command
	var result Outcome
	var metadata sql.NullString
	var lastError, resultMessage, resultError, resultPayload sql.NullString

	if err := scan(
		&cmd.ID,
		&cmd.Input,
		&metadata,
		&cmd.Status,
		&cmd.Attempts,
		&cmd.MaxRetries,
		&lastError,
		&cmd.ErrorCode,
		&result.Success,
		&resultMessage,
		&resultError,
		&result.Tool,
		&resultPayload,
		&result.ElapsedMS,
		&cmd.CreatedAt,
		&cmd.UpdatedAt,
	); err != nil {
		return nil, err
	}

	cmd.LastError = lastError.String
	result.Message = resultMessage.String
	result.Error = resultError.String
	result.Payload = resultPayload.String

	decodedMetadata, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, err
	}
	cmd.Metadata = decodedMetadata

	if result.Success || result.Message != "" || result.Error != "" || result.Tool != "" || result.Payload != "" {
		cmd.Result = &result
	}
	return &cmd, nil
}

func marshalMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalMetadata(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(raw.String), &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_success = 1 OR result_message <> '' OR result_error <> '' OR result_tool <> '' OR result_payload <> '')")
		} else {
			conditions = append(conditions, "(result_success = 0 AND (result_message IS NULL OR result_message = '') AND (result_error IS NULL OR result_error = '') AND result_tool = '' AND (result_payload IS NULL OR result_payload = ''))")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(id LIKE ? OR input LIKE ? OR metadata LIKE ? OR last_error LIKE ? OR result_message LIKE ? OR result_error LIKE ? OR result_tool LIKE ? OR result_payload LIKE ?)")
		args = append(args,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
			pattern,
		)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
