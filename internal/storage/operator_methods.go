package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/ccall48/lorawan-analyzer/internal/models"
	"github.com/ccall48/lorawan-analyzer/internal/operators"
)

// ========== Custom Operator Methods ==========

// CreateCustomOperator validates and inserts a user-defined rule. ID and
// CreatedAt are filled in on return.
func (s *PostgresStore) CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error {
	if op.Name == "" {
		return fmt.Errorf("%w: operator name required", ErrInvalidData)
	}
	if _, _, _, err := operators.ParsePrefix(op.Prefix); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if op.Priority == 0 {
		op.Priority = 100
	}

	query := `
        INSERT INTO custom_operators (name, prefix, priority, color)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at`

	err := s.getDB().QueryRowContext(ctx, query,
		op.Name, strings.ToUpper(op.Prefix), op.Priority, op.Color,
	).Scan(&op.ID, &op.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create custom operator: %w", err)
	}
	return nil
}

// ListCustomOperators returns all user-defined rules in insertion order
func (s *PostgresStore) ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error) {
	query := `SELECT id, name, prefix, priority, color, created_at FROM custom_operators ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.CustomOperator
	for rows.Next() {
		op := &models.CustomOperator{}
		if err := rows.Scan(&op.ID, &op.Name, &op.Prefix, &op.Priority, &op.Color, &op.CreatedAt); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteCustomOperator deletes a rule by id
func (s *PostgresStore) DeleteCustomOperator(ctx context.Context, id int64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM custom_operators WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ========== Hide Rule Methods ==========

// CreateHideRule validates and inserts a suppression rule.
func (s *PostgresStore) CreateHideRule(ctx context.Context, rule *models.HideRule) error {
	switch rule.Type {
	case models.HideRuleDevAddr:
		if _, _, _, err := operators.ParsePrefix(rule.Prefix); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	case models.HideRuleJoinEUI:
		// the prefix becomes a LIKE pattern, keep it literal hex
		if !isHexPrefix(rule.Prefix) {
			return fmt.Errorf("%w: join_eui prefix must be 1-16 hex digits", ErrInvalidData)
		}
	default:
		return fmt.Errorf("%w: unknown hide rule type %q", ErrInvalidData, rule.Type)
	}

	query := `
        INSERT INTO hide_rules (rule_type, prefix, description)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`

	err := s.getDB().QueryRowContext(ctx, query,
		rule.Type, strings.ToUpper(rule.Prefix), rule.Description,
	).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("create hide rule: %w", err)
	}
	return nil
}

// ListHideRules returns all suppression rules in insertion order
func (s *PostgresStore) ListHideRules(ctx context.Context) ([]*models.HideRule, error) {
	query := `SELECT id, rule_type, prefix, description, created_at FROM hide_rules ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.HideRule
	for rows.Next() {
		rule := &models.HideRule{}
		if err := rows.Scan(&rule.ID, &rule.Type, &rule.Prefix, &rule.Description, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func isHexPrefix(s string) bool {
	if len(s) == 0 || len(s) > 16 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// DeleteHideRule deletes a rule by id
func (s *PostgresStore) DeleteHideRule(ctx context.Context, id int64) error {
	result, err := s.getDB().ExecContext(ctx, "DELETE FROM hide_rules WHERE id = $1", id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
