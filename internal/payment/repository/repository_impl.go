package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/listinglens/listinglens/internal/payment/domain"
	"github.com/listinglens/listinglens/pkg/db"
	"gorm.io/gorm"
)

type repo struct {
	gdb *gorm.DB
}

func Provide(gdb *gorm.DB) paymentdomain.Repository {
	return &repo{gdb: gdb}
}

// InsertEvent appends the inbox row. Returns false when the provider already
// delivered this event id.
func (r *repo) InsertEvent(ctx context.Context, record *paymentdomain.EventRecord) (bool, error) {
	err := r.gdb.WithContext(ctx).Create(record).Error
	if db.IsDuplicateKeyErr(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) LoadEvent(ctx context.Context, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	var record paymentdomain.EventRecord
	err := r.gdb.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", provider, providerEventID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repo) MarkProcessed(ctx context.Context, id snowflake.ID, at time.Time) error {
	return r.gdb.WithContext(ctx).
		Model(&paymentdomain.EventRecord{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}
