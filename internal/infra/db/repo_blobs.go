package db

import (
	"context"
	"errors"
	"time"

	"decertify/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BlobRepository struct {
	db *gorm.DB
}

func NewBlobRepository(db *gorm.DB) *BlobRepository {
	return &BlobRepository{db: db}
}

// Put stores a blob under its digest. Storing the same digest twice is a no-op.
func (r *BlobRepository) Put(ctx context.Context, blob domain.DocumentBlob) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if blob.Digest == "" {
		return errors.New("digest is required")
	}
	if domain.Digest(blob.Data) != blob.Digest {
		return errors.New("digest mismatch")
	}
	createdAt := blob.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	model := DocumentBlobModel{
		Digest:    blob.Digest,
		MediaType: blob.MediaType,
		Size:      int64(len(blob.Data)),
		Data:      copyBytes(blob.Data),
		CreatedAt: createdAt.UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model).Error
}

func (r *BlobRepository) Get(ctx context.Context, digest string) (domain.DocumentBlob, error) {
	if r.db == nil {
		return domain.DocumentBlob{}, errDBUnavailable
	}
	var model DocumentBlobModel
	err := r.db.WithContext(ctx).Where("digest = ?", digest).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.DocumentBlob{}, domain.ErrNotFound
		}
		return domain.DocumentBlob{}, err
	}
	return domain.DocumentBlob{
		Digest:    model.Digest,
		MediaType: model.MediaType,
		Data:      copyBytes(model.Data),
		CreatedAt: model.CreatedAt.UTC(),
	}, nil
}
