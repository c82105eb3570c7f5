package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/roach88/snapguard/internal/ir"
)

// recordRow is the relational shape of an ImageRecord.
type recordRow struct {
	ID        string   `gorm:"primaryKey;size:64"`
	Name      string   `gorm:"not null"`
	DataURL   string   `gorm:"column:data_url;type:text;not null"`
	CreatedMs int64    `gorm:"column:created_at;not null;index"`
	ViewCount int      `gorm:"column:view_count;not null;default:0"`
	IsViewed  bool     `gorm:"column:is_viewed;not null;default:false"`
	ExpiresMs *int64   `gorm:"column:expires_at"`
	Logs      []logRow `gorm:"foreignKey:RecordID;references:ID"`
}

func (recordRow) TableName() string { return "image_records" }

// logRow is one access log entry. Seq preserves insertion order.
type logRow struct {
	Seq       int64  `gorm:"column:seq;primaryKey;autoIncrement"`
	EntryID   string `gorm:"column:entry_id;size:64;not null;uniqueIndex:idx_access_logs_record_entry,priority:2"`
	RecordID  string `gorm:"column:record_id;size:64;not null;index;uniqueIndex:idx_access_logs_record_entry,priority:1"`
	Timestamp int64  `gorm:"column:timestamp;not null"`
	IP        string `gorm:"column:ip;size:64;not null"`
	Device    string `gorm:"column:device;size:16;not null"`
	UserAgent string `gorm:"column:user_agent;type:text"`
	Platform  string `gorm:"column:platform;size:128"`
}

func (logRow) TableName() string { return "access_logs" }

func toRecordRow(rec ir.ImageRecord) recordRow {
	row := recordRow{
		ID:        rec.ID,
		Name:      rec.Name,
		DataURL:   rec.DataURL,
		CreatedMs: rec.CreatedAt,
		ViewCount: rec.ViewCount,
		IsViewed:  rec.IsViewed,
		ExpiresMs: rec.ExpiresAt,
	}
	for _, entry := range rec.Logs {
		row.Logs = append(row.Logs, toLogRow(rec.ID, entry))
	}
	return row
}

func toLogRow(recordID string, entry ir.AccessLogEntry) logRow {
	return logRow{
		EntryID:   entry.ID,
		RecordID:  recordID,
		Timestamp: entry.Timestamp,
		IP:        entry.IP,
		Device:    string(entry.Device),
		UserAgent: entry.UserAgent,
		Platform:  entry.Platform,
	}
}

func (row recordRow) toRecord() ir.ImageRecord {
	rec := ir.ImageRecord{
		ID:        row.ID,
		Name:      row.Name,
		DataURL:   row.DataURL,
		CreatedAt: row.CreatedMs,
		ViewCount: row.ViewCount,
		IsViewed:  row.IsViewed,
		ExpiresAt: row.ExpiresMs,
		Logs:      make([]ir.AccessLogEntry, 0, len(row.Logs)),
	}
	for _, l := range row.Logs {
		rec.Logs = append(rec.Logs, ir.AccessLogEntry{
			ID:        l.EntryID,
			Timestamp: l.Timestamp,
			IP:        l.IP,
			Device:    ir.DeviceType(l.Device),
			UserAgent: l.UserAgent,
			Platform:  l.Platform,
		})
	}
	return rec
}

// RelationalStore shards the record set into one row per record and one row
// per log entry. AppendLog inserts a single log row instead of rewriting the
// whole set; the per-record read-modify-write still runs as one exclusive
// transaction.
type RelationalStore struct {
	*broadcaster

	db *gorm.DB
	mu sync.Mutex
}

var _ RecordStore = (*RelationalStore)(nil)

// OpenRelational opens (or creates) a GORM-managed SQLite database at path
// and migrates the record and log tables.
func OpenRelational(path string) (*RelationalStore, error) {
	gormLogger := logger.New(
		slog.NewLogLogger(slog.Default().Handler(), slog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(withDSNParam(path, "_txlock=immediate")), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database using GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB from GORM: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := db.AutoMigrate(&recordRow{}, &logRow{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("GORM AutoMigrate failed: %w", err)
	}

	// Entry ids used to be unique across all records.
	if m := db.Migrator(); m.HasIndex(&logRow{}, "idx_access_logs_entry_id") {
		if err := m.DropIndex(&logRow{}, "idx_access_logs_entry_id"); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("failed to drop legacy entry index: %w", err)
		}
	}

	return &RelationalStore{broadcaster: newBroadcaster(), db: db}, nil
}

// Close closes the database connection and all subscriptions.
func (r *RelationalStore) Close() error {
	r.closeAll()
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func preloadLogs(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Logs", func(db *gorm.DB) *gorm.DB {
		return db.Order("seq ASC")
	})
}

// ListAll returns every record, oldest first.
func (r *RelationalStore) ListAll(ctx context.Context) ([]ir.ImageRecord, error) {
	var rows []recordRow
	if err := preloadLogs(r.db.WithContext(ctx)).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, ioError("list", "", err)
	}
	out := make([]ir.ImageRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

// Get returns the record for id.
func (r *RelationalStore) Get(ctx context.Context, id string) (ir.ImageRecord, bool, error) {
	rec, found, err := loadRecord(preloadLogs(r.db.WithContext(ctx)), id)
	if err != nil {
		return ir.ImageRecord{}, false, ioError("get", id, err)
	}
	return rec, found, nil
}

func loadRecord(tx *gorm.DB, id string) (ir.ImageRecord, bool, error) {
	var row recordRow
	err := tx.Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ir.ImageRecord{}, false, nil
	}
	if err != nil {
		return ir.ImageRecord{}, false, err
	}
	return row.toRecord(), true, nil
}

// Create inserts the record and any log entries it already carries.
func (r *RelationalStore) Create(ctx context.Context, rec ir.ImageRecord) error {
	rec, err := prepareCreate(rec)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&recordRow{}).Where("id = ?", rec.ID).Count(&count).Error; err != nil {
			return ioError("create", rec.ID, err)
		}
		if count > 0 {
			return duplicateError(rec.ID)
		}
		row := toRecordRow(rec)
		if err := tx.Create(&row).Error; err != nil {
			return ioError("create", rec.ID, err)
		}
		return nil
	})
	if err != nil {
		return asStoreError("create", rec.ID, err)
	}

	r.publish(ir.EventFor(ir.RecordCreated, rec))
	return nil
}

// Update loads the record, applies mutate and writes back only what changed:
// new log rows are inserted, record columns are updated in place.
func (r *RelationalStore) Update(ctx context.Context, id string, mutate func(*ir.ImageRecord)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		updated ir.ImageRecord
		found   bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		before, ok, err := loadRecord(preloadLogs(tx), id)
		if err != nil {
			return ioError("update", id, err)
		}
		if !ok {
			return nil
		}

		next, err := applyMutation(before, mutate)
		if err != nil {
			return invalidError("update", id, err)
		}

		for _, entry := range next.Logs[len(before.Logs):] {
			row := toLogRow(id, entry)
			if err := tx.Create(&row).Error; err != nil {
				return ioError("update", id, err)
			}
		}

		err = tx.Model(&recordRow{}).Where("id = ?", id).Updates(map[string]any{
			"name":       next.Name,
			"data_url":   next.DataURL,
			"view_count": next.ViewCount,
			"is_viewed":  next.IsViewed,
			"expires_at": next.ExpiresAt,
		}).Error
		if err != nil {
			return ioError("update", id, err)
		}

		updated, found = next, true
		return nil
	})
	if err != nil {
		return false, asStoreError("update", id, err)
	}

	if found {
		r.publish(ir.EventFor(ir.RecordUpdated, updated))
	}
	return found, nil
}

// AppendLog appends an access entry to the record.
func (r *RelationalStore) AppendLog(ctx context.Context, id string, entry ir.AccessLogEntry) (bool, error) {
	return r.Update(ctx, id, appendMutation(entry))
}
