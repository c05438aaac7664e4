package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/divvychat/divvychat/pkg/models"
)

// CostStore handles cost record persistence
type CostStore struct {
	db *DB
}

// NewCostStore creates a new cost store
func NewCostStore(db *DB) *CostStore {
	return &CostStore{db: db}
}

// Record records the cost of one provider call
func (s *CostStore) Record(ctx context.Context, record models.CostRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO costs (id, caller_id, conversation_id, tier, units_in, units_out, amount, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.CallerID,
		record.ConversationID,
		record.Tier.String(),
		record.UnitsIn,
		record.UnitsOut,
		record.Amount,
		record.Currency,
		record.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record cost: %w", err)
	}

	return nil
}

// List returns cost records matching the query, newest first.
func (s *CostStore) List(ctx context.Context, query models.CostQuery, limit int) ([]models.CostRecord, error) {
	sqlQuery := `
		SELECT id, caller_id, conversation_id, tier, units_in, units_out, amount, currency, created_at
		FROM costs
		WHERE 1=1
	`
	var args []interface{}

	if query.CallerID != "" {
		sqlQuery += " AND caller_id = ?"
		args = append(args, query.CallerID)
	}
	if query.ConversationID != "" {
		sqlQuery += " AND conversation_id = ?"
		args = append(args, query.ConversationID)
	}
	if query.Tier != "" {
		sqlQuery += " AND tier = ?"
		args = append(args, query.Tier)
	}
	if !query.StartTime.IsZero() {
		sqlQuery += " AND created_at >= ?"
		args = append(args, query.StartTime)
	}
	if !query.EndTime.IsZero() {
		sqlQuery += " AND created_at < ?"
		args = append(args, query.EndTime)
	}

	sqlQuery += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query costs: %w", err)
	}
	defer rows.Close()

	var records []models.CostRecord
	for rows.Next() {
		var rec models.CostRecord
		var tier string
		if err := rows.Scan(
			&rec.ID,
			&rec.CallerID,
			&rec.ConversationID,
			&tier,
			&rec.UnitsIn,
			&rec.UnitsOut,
			&rec.Amount,
			&rec.Currency,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		if t, err := models.ParseTier(tier); err == nil {
			rec.Tier = t
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate costs: %w", err)
	}

	return records, nil
}

// GetCallerCost returns total cost for a caller in a time period
func (s *CostStore) GetCallerCost(ctx context.Context, callerID string, start, end time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM costs
		WHERE caller_id = ? AND created_at >= ? AND created_at < ?
	`

	var total float64
	err := s.db.QueryRowContext(ctx, query, callerID, start, end).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get caller cost: %w", err)
	}

	return total, nil
}

// GetSummary returns a cost summary for the given query
func (s *CostStore) GetSummary(ctx context.Context, query models.CostQuery) (*models.CostSummary, error) {
	sqlQuery := `
		SELECT
			COALESCE(SUM(amount), 0) as total_cost,
			COUNT(*) as call_count
		FROM costs
		WHERE 1=1
	`

	var args []interface{}

	if query.CallerID != "" {
		sqlQuery += " AND caller_id = ?"
		args = append(args, query.CallerID)
	}
	if query.ConversationID != "" {
		sqlQuery += " AND conversation_id = ?"
		args = append(args, query.ConversationID)
	}
	if !query.StartTime.IsZero() {
		sqlQuery += " AND created_at >= ?"
		args = append(args, query.StartTime)
	}
	if !query.EndTime.IsZero() {
		sqlQuery += " AND created_at < ?"
		args = append(args, query.EndTime)
	}

	summary := &models.CostSummary{
		CallerID:    query.CallerID,
		ByTier:      make(map[string]float64),
		PeriodStart: query.StartTime,
		PeriodEnd:   query.EndTime,
	}

	err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(
		&summary.TotalCost,
		&summary.CallCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get cost summary: %w", err)
	}

	// Get breakdown by tier
	tierQuery := `
		SELECT tier, COALESCE(SUM(amount), 0)
		FROM costs
		WHERE 1=1
	`
	tierArgs := make([]interface{}, 0, len(args))

	if query.CallerID != "" {
		tierQuery += " AND caller_id = ?"
		tierArgs = append(tierArgs, query.CallerID)
	}
	if query.ConversationID != "" {
		tierQuery += " AND conversation_id = ?"
		tierArgs = append(tierArgs, query.ConversationID)
	}
	if !query.StartTime.IsZero() {
		tierQuery += " AND created_at >= ?"
		tierArgs = append(tierArgs, query.StartTime)
	}
	if !query.EndTime.IsZero() {
		tierQuery += " AND created_at < ?"
		tierArgs = append(tierArgs, query.EndTime)
	}

	tierQuery += " GROUP BY tier"

	rows, err := s.db.QueryContext(ctx, tierQuery, tierArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to get tier breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tier string
		var amount float64
		if err := rows.Scan(&tier, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan tier row: %w", err)
		}
		summary.ByTier[tier] = amount
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tier rows: %w", err)
	}

	return summary, nil
}
