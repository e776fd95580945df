package datastore

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// 支持的驱动
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

// Store 检测结果与图像帧的 SQL 存储
// 实现 inter.DetectionSink 与 inter.FrameSink
type Store struct {
	db     *sql.DB
	driver string
}

// Open 打开数据库并初始化表结构
func Open(driver, dsn string) (*Store, error) {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = sqliteSchema
	case DriverPgx:
		schema = pgSchema
	default:
		return nil, fmt.Errorf("datastore: 不支持的驱动 %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// 单连接避免 SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db, driver: driver}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("datastore: 初始化表结构失败: %w", err)
		}
	}
	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind 将 ? 占位符改写为 PostgreSQL 的 $n
func (s *Store) rebind(query string) string {
	if s.driver != DriverPgx {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS devices (
   device_id  BIGINT PRIMARY KEY,
   first_seen BIGINT,
   last_seen  BIGINT,
   batches    INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batches (
   id          TEXT PRIMARY KEY,
   device_id   BIGINT,
   ts          BIGINT,
   count       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_batches_device ON batches (device_id, ts);

CREATE TABLE IF NOT EXISTS detections (
   id        INTEGER PRIMARY KEY AUTOINCREMENT,
   batch_id  TEXT,
   device_id BIGINT,
   ts        BIGINT,
   seq       INTEGER,
   type      INTEGER,
   signature INTEGER,
   x         INTEGER,
   y         INTEGER,
   width     INTEGER,
   height    INTEGER,
   angle     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_detections_device ON detections (device_id, id);

CREATE TABLE IF NOT EXISTS frames (
   id        INTEGER PRIMARY KEY AUTOINCREMENT,
   device_id BIGINT,
   ts        BIGINT,
   width     INTEGER,
   height    INTEGER,
   pixels    BLOB
);
CREATE INDEX IF NOT EXISTS idx_frames_device ON frames (device_id, id);

CREATE TABLE IF NOT EXISTS logs (
   id         INTEGER PRIMARY KEY AUTOINCREMENT,
   device_id  BIGINT,
   level      TEXT,
   message    TEXT,
   ts         BIGINT
);
CREATE INDEX IF NOT EXISTS idx_logs_device ON logs (device_id)
`

const pgSchema = `
CREATE TABLE IF NOT EXISTS devices (
   device_id  BIGINT PRIMARY KEY,
   first_seen BIGINT,
   last_seen  BIGINT,
   batches    INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS batches (
   id          TEXT PRIMARY KEY,
   device_id   BIGINT,
   ts          BIGINT,
   count       INTEGER
);
CREATE INDEX IF NOT EXISTS idx_batches_device ON batches (device_id, ts);

CREATE TABLE IF NOT EXISTS detections (
   id        BIGSERIAL PRIMARY KEY,
   batch_id  TEXT,
   device_id BIGINT,
   ts        BIGINT,
   seq       INTEGER,
   type      INTEGER,
   signature INTEGER,
   x         INTEGER,
   y         INTEGER,
   width     INTEGER,
   height    INTEGER,
   angle     INTEGER
);
CREATE INDEX IF NOT EXISTS idx_detections_device ON detections (device_id, id);

CREATE TABLE IF NOT EXISTS frames (
   id        BIGSERIAL PRIMARY KEY,
   device_id BIGINT,
   ts        BIGINT,
   width     INTEGER,
   height    INTEGER,
   pixels    BYTEA
);
CREATE INDEX IF NOT EXISTS idx_frames_device ON frames (device_id, id);

CREATE TABLE IF NOT EXISTS logs (
   id         BIGSERIAL PRIMARY KEY,
   device_id  BIGINT,
   level      TEXT,
   message    TEXT,
   ts         BIGINT
);
CREATE INDEX IF NOT EXISTS idx_logs_device ON logs (device_id)
`
