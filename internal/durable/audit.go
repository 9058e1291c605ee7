package durable

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type auditRecord struct {
	ID         string         `gorm:"primaryKey;size:36"`
	Type       string         `gorm:"type:varchar(64);index;not null"`
	UserID     int64          `gorm:"index"`
	Payload    datatypes.JSON `gorm:"not null"`
	OccurredAt time.Time      `gorm:"index"`
	CreatedAt  time.Time
}

func (auditRecord) TableName() string { return "domain_events" }

// AuditEntry is one row of the append-only domain event log. The table is
// written by the event consumer only and is never cached in memory.
type AuditEntry struct {
	ID         string
	Type       string
	UserID     int64
	Payload    []byte
	OccurredAt time.Time
}

type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Append stores e. Redelivered entries with a known ID are ignored, which
// keeps at-least-once delivery idempotent.
func (l *AuditLog) Append(ctx context.Context, e AuditEntry) error {
	if len(e.Payload) == 0 {
		e.Payload = []byte("{}")
	}
	row := auditRecord{
		ID:         e.ID,
		Type:       e.Type,
		UserID:     e.UserID,
		Payload:    datatypes.JSON(e.Payload),
		OccurredAt: e.OccurredAt,
	}
	return l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

// ListByUser returns the newest entries for userID first.
func (l *AuditLog) ListByUser(ctx context.Context, userID int64, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []auditRecord
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("occurred_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, AuditEntry{ID: r.ID, Type: r.Type, UserID: r.UserID, Payload: []byte(r.Payload), OccurredAt: r.OccurredAt})
	}
	return out, nil
}
