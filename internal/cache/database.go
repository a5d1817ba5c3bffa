package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/tenantauth/internal/models"
)

var errDatabaseStoreNil = errors.New("cache: database store not initialised")

// DatabaseStore keeps counters and values in the cache_entries table. It is
// used when Redis is disabled or unreachable; expired rows are removed lazily
// on read and in bulk by PurgeExpired.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore returns nil when db is nil.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *DatabaseStore) conn(ctx context.Context) (*gorm.DB, error) {
	if s == nil || s.db == nil {
		return nil, errDatabaseStoreNil
	}
	return s.db.WithContext(ctxOrBackground(ctx)), nil
}

// IncrementWithTTL bumps the counter under a row lock. A missing or expired
// row starts a new window of the given length.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	entry := models.CacheEntry{Key: key}
	count := int64(1)

	err = db.Transaction(func(tx *gorm.DB) error {
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&entry, "cache_key = ?", key)
		switch {
		case errors.Is(lookup.Error, gorm.ErrRecordNotFound):
			entry.Value, entry.ExpiresAt = encodeCount(count), now.Add(window)
			return tx.Create(&entry).Error
		case lookup.Error != nil:
			return lookup.Error
		}

		if entry.ExpiresAt.After(now) {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
		} else {
			entry.ExpiresAt = now.Add(window)
		}
		entry.Value = encodeCount(count)
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}
	return count, entry.ExpiresAt.Sub(now), nil
}

// Set upserts value. A non-positive ttl stores the value without expiry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

// Get returns the live value for key. Expired rows are deleted and reported missing.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	err = db.Take(&entry, "cache_key = ?", key).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	case s.expired(entry):
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes keys; deleting nothing is not an error.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	db, err := s.conn(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return db.Where("cache_key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// Ping checks the database connection.
func (s *DatabaseStore) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Exec("SELECT 1").Error
}

// PurgeExpired deletes rows whose expiry has passed and returns how many were removed.
func (s *DatabaseStore) PurgeExpired(ctx context.Context) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("expires_at > ? AND expires_at <= ?", time.Time{}, s.now()).
		Delete(&models.CacheEntry{})
	return result.RowsAffected, result.Error
}

func (s *DatabaseStore) expired(entry models.CacheEntry) bool {
	return !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt)
}

func encodeCount(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
