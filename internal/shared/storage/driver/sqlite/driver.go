// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机考场部署场景。
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	"exam-monitor/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	result := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflictColumn)
	for i, expr := range updateExprs {
		if i > 0 {
			result += ", "
		}
		result += expr
	}
	return result
}

func (d *Dialect) DateExpr(column string) string {
	return fmt.Sprintf("date(%s)", column)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:exam.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	// 时间值必须以 sqlite 可解析的文本写入，date() 等时间函数才能工作
	if !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- exam_sessions
CREATE TABLE IF NOT EXISTS exam_sessions (
    id VARCHAR(128) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    student_name VARCHAR(200),
    status VARCHAR(32) NOT NULL DEFAULT 'active',
    start_time DATETIME NOT NULL,
    end_time DATETIME,
    ip_address VARCHAR(64),
    machine_info TEXT,
    screen_resolution VARCHAR(32),
    os_info VARCHAR(200),
    browser_version VARCHAR(200),
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON exam_sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_student ON exam_sessions(student_id);

-- exam_remote_commands
CREATE TABLE IF NOT EXISTS exam_remote_commands (
    id VARCHAR(64) PRIMARY KEY,
    session_id VARCHAR(128) NOT NULL REFERENCES exam_sessions(id),
    type VARCHAR(32) NOT NULL,
    payload TEXT,
    status VARCHAR(32) NOT NULL DEFAULT 'pending',
    result TEXT,
    issued_by VARCHAR(64),
    created_at DATETIME DEFAULT (datetime('now')),
    executed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_commands_claim ON exam_remote_commands(session_id, status, created_at);

-- exam_activity_logs
CREATE TABLE IF NOT EXISTS exam_activity_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(128) NOT NULL REFERENCES exam_sessions(id),
    student_id VARCHAR(64),
    type VARCHAR(32) NOT NULL,
    description TEXT,
    metadata TEXT,
    actor VARCHAR(64),
    created_at DATETIME DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_activities_session ON exam_activity_logs(session_id, id);
CREATE INDEX IF NOT EXISTS idx_activities_type ON exam_activity_logs(type);

-- exam_screenshots
CREATE TABLE IF NOT EXISTS exam_screenshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(128) NOT NULL REFERENCES exam_sessions(id),
    student_id VARCHAR(64),
    object_key VARCHAR(500),
    data BLOB,
    file_size INTEGER DEFAULT 0,
    captured_at DATETIME NOT NULL,
    is_flagged INTEGER DEFAULT 0,
    flag_reason TEXT,
    flagged_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_screenshots_session ON exam_screenshots(session_id, captured_at);

-- exam_students
CREATE TABLE IF NOT EXISTS exam_students (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    its_id VARCHAR(64) NOT NULL UNIQUE,
    full_name VARCHAR(200) NOT NULL,
    email VARCHAR(200),
    consent_given INTEGER DEFAULT 0,
    consent_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);

-- exam_admins
CREATE TABLE IF NOT EXISTS exam_admins (
    id VARCHAR(64) PRIMARY KEY,
    username VARCHAR(100) NOT NULL UNIQUE,
    password_hash VARCHAR(200) NOT NULL,
    full_name VARCHAR(200),
    email VARCHAR(200),
    role VARCHAR(32) NOT NULL DEFAULT 'monitor',
    is_active INTEGER DEFAULT 1,
    last_login_at DATETIME,
    created_at DATETIME DEFAULT (datetime('now')),
    updated_at DATETIME DEFAULT (datetime('now'))
);
`
