package datastore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nhirsama/goster-pixy/src/inter"
)

// DeviceRecord 曾经上报过数据的设备
type DeviceRecord struct {
	DeviceID  uint32    `json:"device_id"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Batches   int       `json:"batches"`
}

// Frame 存储的一帧图像
type Frame struct {
	DeviceID   uint32
	CapturedAt time.Time
	Width      int
	Height     int
	Pixels     []byte
}

// LogEntry 设备运行日志
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// SaveBatch 在一个事务中写入一批检测结果，并更新设备的最后上报时间
func (s *Store) SaveBatch(batch inter.DetectionBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	ts := millis(batch.CapturedAt)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	// 中途返回错误时回滚
	defer tx.Rollback()

	if _, err := tx.Exec(s.rebind(`
		INSERT INTO devices (device_id, first_seen, last_seen, batches) VALUES (?, ?, ?, 1)
		ON CONFLICT (device_id) DO UPDATE SET last_seen = excluded.last_seen, batches = devices.batches + 1`),
		int64(batch.DeviceID), ts, ts,
	); err != nil {
		return fmt.Errorf("datastore: 更新设备: %w", err)
	}

	if _, err := tx.Exec(s.rebind("INSERT INTO batches (id, device_id, ts, count) VALUES (?, ?, ?, ?)"),
		batch.ID, int64(batch.DeviceID), ts, len(batch.Detections),
	); err != nil {
		return fmt.Errorf("datastore: 写入批次: %w", err)
	}

	stmt, err := tx.Prepare(s.rebind(`
		INSERT INTO detections (batch_id, device_id, ts, seq, type, signature, x, y, width, height, angle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, d := range batch.Detections {
		if _, err := stmt.Exec(batch.ID, int64(batch.DeviceID), ts, i,
			int(d.Type), int(d.Signature), int(d.X), int(d.Y), int(d.Width), int(d.Height), int(d.Angle),
		); err != nil {
			return fmt.Errorf("datastore: 写入检测结果 %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// RecentDetections 返回设备最近的至多 limit 条检测结果，按到达顺序排列
func (s *Store) RecentDetections(deviceID uint32, limit int) ([]inter.Detection, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT type, signature, x, y, width, height, angle FROM detections
		WHERE device_id = ? ORDER BY id DESC LIMIT ?`), int64(deviceID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []inter.Detection
	for rows.Next() {
		var typ, sig, x, y, w, h, angle int
		if err := rows.Scan(&typ, &sig, &x, &y, &w, &h, &angle); err != nil {
			return nil, err
		}
		out = append(out, inter.Detection{
			Type:      inter.BlockType(typ),
			Signature: uint16(sig),
			X:         uint16(x),
			Y:         uint16(y),
			Width:     uint16(w),
			Height:    uint16(h),
			Angle:     int16(angle),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// 查询按新到旧，翻转为到达顺序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SaveFrame 写入一帧图像
func (s *Store) SaveFrame(deviceID uint32, capturedAt time.Time, pixels []byte) error {
	if len(pixels) != inter.FrameSize {
		return fmt.Errorf("datastore: 图像大小 %d: %w", len(pixels), inter.ErrInvalidParameter)
	}
	_, err := s.db.Exec(s.rebind("INSERT INTO frames (device_id, ts, width, height, pixels) VALUES (?, ?, ?, ?, ?)"),
		int64(deviceID), millis(capturedAt), inter.FrameWidth, inter.FrameHeight, pixels)
	return err
}

// LatestFrame 读取设备最近一帧图像
func (s *Store) LatestFrame(deviceID uint32) (Frame, error) {
	var f Frame
	var ts int64
	err := s.db.QueryRow(s.rebind(`
		SELECT ts, width, height, pixels FROM frames WHERE device_id = ? ORDER BY id DESC LIMIT 1`),
		int64(deviceID)).Scan(&ts, &f.Width, &f.Height, &f.Pixels)
	if errors.Is(err, sql.ErrNoRows) {
		return f, fmt.Errorf("datastore: 设备 0x%08X 没有图像: %w", deviceID, inter.ErrNotFound)
	}
	if err != nil {
		return f, err
	}
	f.DeviceID = deviceID
	f.CapturedAt = fromMillis(ts)
	return f, nil
}

// ListDevices 曾上报过数据的设备，按标识升序
func (s *Store) ListDevices() ([]DeviceRecord, error) {
	rows, err := s.db.Query("SELECT device_id, first_seen, last_seen, batches FROM devices ORDER BY device_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []DeviceRecord
	for rows.Next() {
		var id, first, last int64
		var r DeviceRecord
		if err := rows.Scan(&id, &first, &last, &r.Batches); err != nil {
			return nil, err
		}
		r.DeviceID = uint32(id)
		r.FirstSeen = fromMillis(first)
		r.LastSeen = fromMillis(last)
		records = append(records, r)
	}
	return records, rows.Err()
}

// WriteLog 记录设备运行日志
func (s *Store) WriteLog(deviceID uint32, level, message string) error {
	_, err := s.db.Exec(s.rebind("INSERT INTO logs (device_id, level, message, ts) VALUES (?, ?, ?, ?)"),
		int64(deviceID), level, message, millis(time.Now()))
	return err
}

// Logs 设备最近的至多 limit 条日志，新的在前
func (s *Store) Logs(deviceID uint32, limit int) ([]LogEntry, error) {
	rows, err := s.db.Query(s.rebind(`
		SELECT level, message, ts FROM logs WHERE device_id = ? ORDER BY id DESC LIMIT ?`),
		int64(deviceID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var ts int64
		if err := rows.Scan(&e.Level, &e.Message, &ts); err != nil {
			return nil, err
		}
		e.At = fromMillis(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
