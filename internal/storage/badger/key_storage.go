package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// KeyStorage implements the KeyStorage interface for Badger
type KeyStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKeyStorage creates a new KeyStorage instance
func NewKeyStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyStorage {
	return &KeyStorage{
		db:     db,
		logger: logger,
	}
}

// normalizeCode upper-cases a key code for case-insensitive lookup
func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *KeyStorage) SaveKey(ctx context.Context, key *models.OrderKey) error {
	key.Code = normalizeCode(key.Code)
	if key.Code == "" {
		return fmt.Errorf("key code is required")
	}
	if key.IssuedAt.IsZero() {
		key.IssuedAt = time.Now()
	}

	if err := s.db.Store().Upsert(key.Code, key); err != nil {
		return fmt.Errorf("failed to save order key: %w", err)
	}
	return nil
}

func (s *KeyStorage) GetKey(ctx context.Context, code string) (*models.OrderKey, error) {
	var key models.OrderKey
	if err := s.db.Store().Get(normalizeCode(code), &key); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrKeyNotFound, code)
		}
		return nil, fmt.Errorf("failed to get order key: %w", err)
	}
	return &key, nil
}

// maxRedeemAttempts bounds retries on Badger transaction conflicts
const maxRedeemAttempts = 10

// MarkRedeemed flips the key inside one Badger transaction so two redeemers cannot both win
func (s *KeyStorage) MarkRedeemed(ctx context.Context, code string, orderID string) (*models.OrderKey, error) {
	code = normalizeCode(code)

	var (
		key models.OrderKey
		err error
	)
	for attempt := 0; attempt < maxRedeemAttempts; attempt++ {
		err = s.db.Store().Badger().Update(func(tx *badger.Txn) error {
			key = models.OrderKey{}
			if err := s.db.Store().TxGet(tx, code, &key); err != nil {
				if err == badgerhold.ErrNotFound {
					return fmt.Errorf("%w: %s", models.ErrKeyNotFound, code)
				}
				return err
			}
			if key.Redeemed {
				return fmt.Errorf("%w: %s", models.ErrKeyRedeemed, code)
			}
			key.Redeemed = true
			key.RedeemedAt = time.Now()
			key.OrderID = orderID
			return s.db.Store().TxUpdate(tx, code, &key)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, models.ErrKeyNotFound) || errors.Is(err, models.ErrKeyRedeemed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to redeem order key: %w", err)
	}

	s.logger.Info().Str("key", code).Str("order_id", orderID).Msg("Order key redeemed")
	return &key, nil
}

// ListKeys returns keys oldest first, optionally filtered by redemption state
func (s *KeyStorage) ListKeys(ctx context.Context, redeemed *bool) ([]models.OrderKey, error) {
	query := badgerhold.Where("Code").Ne("")
	if redeemed != nil {
		query = query.And("Redeemed").Eq(*redeemed)
	}

	var keys []models.OrderKey
	if err := s.db.Store().Find(&keys, query.SortBy("IssuedAt")); err != nil {
		return nil, fmt.Errorf("failed to list order keys: %w", err)
	}
	return keys, nil
}
