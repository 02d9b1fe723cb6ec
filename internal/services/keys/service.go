package keys

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/common"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
)

// Service issues keys into storage and redeems them into work requests
type Service struct {
	storage interfaces.KeyStorage
	logger  arbor.ILogger
}

// NewService creates a key service
func NewService(storage interfaces.KeyStorage, logger arbor.ILogger) *Service {
	return &Service{storage: storage, logger: logger}
}

// Issue generates and stores count keys
func (s *Service) Issue(ctx context.Context, class models.DurationClass, operations, count int) ([]models.OrderKey, error) {
	if count < 1 {
		return nil, fmt.Errorf("%w: count must be at least 1", models.ErrInvalidParameters)
	}

	issued := make([]models.OrderKey, 0, count)
	for i := 0; i < count; i++ {
		code, err := Generate(class, operations)
		if err != nil {
			return issued, err
		}
		key := models.OrderKey{
			Code:          code,
			DurationClass: class,
			Operations:    operations,
			IssuedAt:      time.Now(),
		}
		if err := s.storage.SaveKey(ctx, &key); err != nil {
			return issued, err
		}
		issued = append(issued, key)
	}

	s.logger.Info().
		Int("count", count).
		Str("duration_class", class.String()).
		Int("operations", operations).
		Msg("Order keys issued")
	return issued, nil
}

// Prepare checks a key and builds the work request it stands for without spending it.
// The key is only consumed by Confirm, so a request that fails pre-flight leaves it redeemable.
func (s *Service) Prepare(ctx context.Context, code, target string, customization *models.Customization) (*models.WorkRequest, error) {
	class, operations, err := Validate(code)
	if err != nil {
		return nil, err
	}

	stored, err := s.storage.GetKey(ctx, code)
	if err != nil {
		return nil, err
	}
	if stored.DurationClass != class || stored.Operations != operations {
		return nil, fmt.Errorf("%w: stored key does not match its code", ErrInvalidKey)
	}
	if stored.Redeemed {
		return nil, fmt.Errorf("%w: %s", models.ErrKeyRedeemed, stored.Code)
	}

	return &models.WorkRequest{
		Target:        target,
		DurationClass: class,
		Operations:    operations,
		Customization: customization,
		OrderID:       common.NewOrderID(),
	}, nil
}

// Confirm spends the key for orderID. Two confirmations of the same key cannot both succeed.
func (s *Service) Confirm(ctx context.Context, code, orderID string) error {
	key, err := s.storage.MarkRedeemed(ctx, code, orderID)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("order_id", orderID).
		Str("duration_class", key.DurationClass.String()).
		Int("operations", key.Operations).
		Msg("Order key confirmed")
	return nil
}

// Redeem prepares and immediately confirms a key
func (s *Service) Redeem(ctx context.Context, code, target string, customization *models.Customization) (*models.WorkRequest, error) {
	req, err := s.Prepare(ctx, code, target, customization)
	if err != nil {
		return nil, err
	}
	if err := s.Confirm(ctx, code, req.OrderID); err != nil {
		return nil, err
	}
	return req, nil
}
