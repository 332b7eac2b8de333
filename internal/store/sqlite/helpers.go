package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// singletonID keys the one-row tables (credentials, copy settings).
const singletonID = "default"

func decFromText(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decPtrFromText(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d := decFromText(*s)
	return &d
}

func decPtrToText(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func marshalMeta(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("sqlite: marshal metadata: %w", err)
	}
	return string(data), nil
}

func unmarshalMeta(s string) map[string]any {
	if s == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}

// applyWindow appends Since/Until filters for a timestamp column. The column
// name is compiled in by the caller, never user input.
func applyWindow(query string, args []any, column string, since, until *time.Time) (string, []any) {
	if since != nil {
		query += " AND " + column + " >= ?"
		args = append(args, since.UTC())
	}
	if until != nil {
		query += " AND " + column + " <= ?"
		args = append(args, until.UTC())
	}
	return query, args
}

// applyLimit appends LIMIT/OFFSET with a sane default page size.
func applyLimit(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	return query, append(args, limit, offset)
}
