package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Results maps a task name to the last output it produced
type Results map[string]json.RawMessage

// TaskList is an ordered list of task names without duplicates
type TaskList []string

// Attempts maps a task name to its consecutive failure count
type Attempts map[string]int

// Leases maps a task name to the time its in-flight claim expires
type Leases map[string]time.Time

// Contains reports whether name is in the list
func (l TaskList) Contains(name string) bool {
	for _, n := range l {
		if n == name {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer
func (r Results) Value() (driver.Value, error) {
	if r == nil {
		return "{}", nil
	}
	return marshalColumn(r)
}

// Scan implements sql.Scanner
func (r *Results) Scan(value interface{}) error {
	return scanColumn(value, r)
}

// Value implements driver.Valuer
func (l TaskList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return marshalColumn(l)
}

// Scan implements sql.Scanner
func (l *TaskList) Scan(value interface{}) error {
	return scanColumn(value, l)
}

// Value implements driver.Valuer
func (a Attempts) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return marshalColumn(a)
}

// Scan implements sql.Scanner
func (a *Attempts) Scan(value interface{}) error {
	return scanColumn(value, a)
}

// Value implements driver.Valuer
func (l Leases) Value() (driver.Value, error) {
	if l == nil {
		return "{}", nil
	}
	return marshalColumn(l)
}

// Scan implements sql.Scanner
func (l *Leases) Scan(value interface{}) error {
	return scanColumn(value, l)
}

func marshalColumn(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(b), nil
}

func scanColumn(value interface{}, dst interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported column type %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}
