package interfaces

import (
	"context"

	"github.com/ternarybob/entitle/internal/models"
)

// OrderStorage - interface for finalized report persistence
type OrderStorage interface {
	SaveReport(ctx context.Context, report *models.ResultReport) error
	GetReport(ctx context.Context, orderID string) (*models.ResultReport, error)
	ListReports(ctx context.Context, limit int) ([]models.OrderRecord, error)
	DeleteReport(ctx context.Context, orderID string) error
}

// KeyStorage - interface for issued order keys
type KeyStorage interface {
	SaveKey(ctx context.Context, key *models.OrderKey) error
	GetKey(ctx context.Context, code string) (*models.OrderKey, error)
	// MarkRedeemed atomically flips an unredeemed key; returns models.ErrKeyRedeemed if already redeemed
	MarkRedeemed(ctx context.Context, code string, orderID string) (*models.OrderKey, error)
	ListKeys(ctx context.Context, redeemed *bool) ([]models.OrderKey, error)
}

// StorageManager - interface for the embedded database
type StorageManager interface {
	OrderStorage() OrderStorage
	KeyStorage() KeyStorage
	Close() error
}
