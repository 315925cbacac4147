package postgres

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

// nullText creates a pgtype.Text with empty string handling
func nullText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// decimalToNumeric converts decimal.Decimal to pgtype.Numeric
func decimalToNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, fmt.Errorf("convert %s to numeric: %w", d, err)
	}
	return n, nil
}

// pgNumericToDecimal converts pgtype.Numeric to decimal.Decimal
func pgNumericToDecimal(n pgtype.Numeric) (decimal.Decimal, error) {
	var dec decimal.Decimal
	if !n.Valid {
		return decimal.Zero, nil
	}
	str, err := n.MarshalJSON()
	if err != nil {
		return dec, fmt.Errorf("marshal numeric: %w", err)
	}
	// Remove quotes from JSON string
	if len(str) >= 2 && str[0] == '"' && str[len(str)-1] == '"' {
		str = str[1 : len(str)-1]
	}
	return decimal.NewFromString(string(str))
}

// jsonOrNull marshals v, mapping a nil pointer to SQL NULL
func jsonOrNull[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// decodeJSON unmarshals a nullable jsonb column into a fresh value
func decodeJSON[T any](raw []byte) (*T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

const (
	planChangeUpgrade   = "upgrade"
	planChangeDowngrade = "downgrade"
)

// planChangeRecord is the tagged jsonb form of models.PlanChange
type planChangeRecord struct {
	Kind      string                     `json:"kind"`
	Upgrade   *models.PendingUpgrade     `json:"upgrade,omitempty"`
	Downgrade *models.ScheduledDowngrade `json:"downgrade,omitempty"`
}

func encodePlanChange(pc models.PlanChange) ([]byte, error) {
	switch c := pc.(type) {
	case nil:
		return nil, nil
	case *models.PendingUpgrade:
		if c == nil {
			return nil, nil
		}
		return json.Marshal(planChangeRecord{Kind: planChangeUpgrade, Upgrade: c})
	case *models.ScheduledDowngrade:
		if c == nil {
			return nil, nil
		}
		return json.Marshal(planChangeRecord{Kind: planChangeDowngrade, Downgrade: c})
	default:
		return nil, fmt.Errorf("unsupported plan change %T", pc)
	}
}

func decodePlanChange(raw []byte) (models.PlanChange, error) {
	rec, err := decodeJSON[planChangeRecord](raw)
	if err != nil || rec == nil {
		return nil, err
	}
	switch rec.Kind {
	case planChangeUpgrade:
		if rec.Upgrade == nil {
			return nil, errors.New("upgrade plan change without payload")
		}
		return rec.Upgrade, nil
	case planChangeDowngrade:
		if rec.Downgrade == nil {
			return nil, errors.New("downgrade plan change without payload")
		}
		return rec.Downgrade, nil
	default:
		return nil, fmt.Errorf("unknown plan change kind %q", rec.Kind)
	}
}

func remindersToArray(r models.ReminderSet) []int32 {
	out := make([]int32, len(r))
	for i, d := range r {
		out[i] = int32(d)
	}
	return out
}

func remindersFromArray(a []int32) models.ReminderSet {
	if len(a) == 0 {
		return nil
	}
	out := make(models.ReminderSet, len(a))
	for i, d := range a {
		out[i] = int(d)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
