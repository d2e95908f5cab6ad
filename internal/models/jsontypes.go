package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a []string stored as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(l))
	if err != nil {
		return nil, fmt.Errorf("marshaling string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// GormDataType returns the GORM data type for StringList.
func (StringList) GormDataType() string {
	return "text"
}

// StringMap is a map[string]string stored as a JSON column.
// Used for external provider identifiers keyed by provider name.
type StringMap map[string]string

// Value implements driver.Valuer.
func (m StringMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, fmt.Errorf("marshaling string map: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *StringMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for StringMap: %T", value)
	}
	if len(data) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(data, (*map[string]string)(m))
}

// GormDataType returns the GORM data type for StringMap.
func (StringMap) GormDataType() string {
	return "text"
}

// LockSet is a set of locked names (metadata fields or asset types) stored
// as a JSON column. A locked name is exempt from automatic overwrites.
type LockSet map[string]bool

// Value implements driver.Valuer.
func (s LockSet) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]bool(s))
	if err != nil {
		return nil, fmt.Errorf("marshaling lock set: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (s *LockSet) Scan(value any) error {
	if value == nil {
		*s = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for LockSet: %T", value)
	}
	if len(data) == 0 {
		*s = nil
		return nil
	}
	return json.Unmarshal(data, (*map[string]bool)(s))
}

// Locked reports whether name is locked.
func (s LockSet) Locked(name string) bool {
	return s[name]
}

// Lock marks name as locked and returns the updated set.
func (s LockSet) Lock(name string) LockSet {
	if s == nil {
		s = make(LockSet)
	}
	s[name] = true
	return s
}

// Unlock removes the lock on name and returns the updated set.
func (s LockSet) Unlock(name string) LockSet {
	delete(s, name)
	return s
}

// GormDataType returns the GORM data type for LockSet.
func (LockSet) GormDataType() string {
	return "text"
}
