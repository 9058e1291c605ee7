package durable

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrKeyRequired = errors.New("durable: filter must name exactly one key")

type document struct {
	Kind      string         `gorm:"primaryKey;type:varchar(32)"`
	Key       int64          `gorm:"primaryKey;autoIncrement:false;column:doc_key"`
	Body      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

func (document) TableName() string { return "documents" }

func (d document) toDocument() Document {
	return Document{Kind: Kind(d.Kind), Key: d.Key, Body: []byte(d.Body), UpdatedAt: d.UpdatedAt}
}

// Migrate creates the tables used by GormStore and AuditLog.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&document{}, &auditRecord{})
}

// GormStore keeps every entity kind in a single documents table keyed by
// (kind, doc_key).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) scoped(ctx context.Context, kind Kind, f Filter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&document{}).Where("kind = ?", string(kind))
	if len(f.Keys) == 1 {
		q = q.Where("doc_key = ?", f.Keys[0])
	} else if len(f.Keys) > 1 {
		q = q.Where("doc_key IN ?", f.Keys)
	}
	return q
}

func (s *GormStore) Find(ctx context.Context, kind Kind, f Filter) ([]Document, error) {
	q := s.scoped(ctx, kind, f)
	if f.Desc {
		q = q.Order("doc_key DESC")
	} else {
		q = q.Order("doc_key ASC")
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []document
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDocument())
	}
	return out, nil
}

func (s *GormStore) FindOne(ctx context.Context, kind Kind, f Filter) (*Document, error) {
	var row document
	if err := s.scoped(ctx, kind, f).Order("doc_key ASC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d := row.toDocument()
	return &d, nil
}

func (s *GormStore) InsertOne(ctx context.Context, doc Document) error {
	row := document{Kind: string(doc.Kind), Key: doc.Key, Body: datatypes.JSON(doc.Body)}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) InsertMany(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]document, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, document{Kind: string(d.Kind), Key: d.Key, Body: datatypes.JSON(d.Body)})
	}
	return s.db.WithContext(ctx).CreateInBatches(rows, 100).Error
}

// UpdateOne replaces the body of the document named by f. With upsert the
// document is inserted when absent.
func (s *GormStore) UpdateOne(ctx context.Context, kind Kind, f Filter, body []byte, upsert bool) error {
	if len(f.Keys) != 1 {
		return ErrKeyRequired
	}

	if upsert {
		row := document{Kind: string(kind), Key: f.Keys[0], Body: datatypes.JSON(body)}
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "doc_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"body", "updated_at"}),
		}).Create(&row).Error
	}

	res := s.scoped(ctx, kind, f).Updates(map[string]any{
		"body":       datatypes.JSON(body),
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOne removes the first document matching f. Deleting a missing
// document is not an error.
func (s *GormStore) DeleteOne(ctx context.Context, kind Kind, f Filter) error {
	doc, err := s.FindOne(ctx, kind, f)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return s.db.WithContext(ctx).
		Where("kind = ? AND doc_key = ?", string(kind), doc.Key).
		Delete(&document{}).Error
}

func (s *GormStore) DeleteMany(ctx context.Context, kind Kind, f Filter) (int64, error) {
	q := s.db.WithContext(ctx).Where("kind = ?", string(kind))
	if len(f.Keys) > 0 {
		q = q.Where("doc_key IN ?", f.Keys)
	}
	res := q.Delete(&document{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) Count(ctx context.Context, kind Kind, f Filter) (int64, error) {
	var n int64
	if err := s.scoped(ctx, kind, f).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
