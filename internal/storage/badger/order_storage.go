package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// OrderStorage implements the OrderStorage interface for Badger
type OrderStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewOrderStorage creates a new OrderStorage instance
func NewOrderStorage(db *BadgerDB, logger arbor.ILogger) interfaces.OrderStorage {
	return &OrderStorage{
		db:     db,
		logger: logger,
	}
}

// SaveReport stores a finalized report keyed by order id, replacing any earlier one
func (s *OrderStorage) SaveReport(ctx context.Context, report *models.ResultReport) error {
	if report.OrderID == "" {
		return fmt.Errorf("order ID is required")
	}

	record := models.OrderRecord{
		OrderID:   report.OrderID,
		Success:   report.Success,
		Report:    *report,
		CreatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(report.OrderID, &record); err != nil {
		return fmt.Errorf("failed to save order report: %w", err)
	}

	s.logger.Debug().Str("order_id", report.OrderID).Bool("success", report.Success).Msg("Order report saved")
	return nil
}

func (s *OrderStorage) GetReport(ctx context.Context, orderID string) (*models.ResultReport, error) {
	var record models.OrderRecord
	if err := s.db.Store().Get(orderID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
		}
		return nil, fmt.Errorf("failed to get order report: %w", err)
	}
	return &record.Report, nil
}

// ListReports returns the newest records first. limit <= 0 returns all.
func (s *OrderStorage) ListReports(ctx context.Context, limit int) ([]models.OrderRecord, error) {
	query := badgerhold.Where("OrderID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.OrderRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list order reports: %w", err)
	}
	return records, nil
}

func (s *OrderStorage) DeleteReport(ctx context.Context, orderID string) error {
	err := s.db.Store().Delete(orderID, &models.OrderRecord{})
	if err == badgerhold.ErrNotFound {
		return fmt.Errorf("%w: %s", models.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to delete order report: %w", err)
	}
	return nil
}
