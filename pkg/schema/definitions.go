package schema

import (
	"fmt"

	"schemadb/pkg/dberrors"
)

// KeyspaceDef is the definition of a keyspace.
type KeyspaceDef struct {
	Name              string `json:"name"`
	ReplicationFactor int    `json:"replication_factor"`
	DurableWrites     bool   `json:"durable_writes"`
}

// ColumnDef is one named, typed field of a table or user type.
type ColumnDef struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableDef is the definition of a table inside a keyspace.
type TableDef struct {
	Keyspace string      `json:"keyspace"`
	Name     string      `json:"name"`
	Columns  []ColumnDef `json:"columns"`
	Comment  string      `json:"comment,omitempty"`
}

// TypeDef is the definition of a user type inside a keyspace.
type TypeDef struct {
	Keyspace string      `json:"keyspace"`
	Name     string      `json:"name"`
	Fields   []ColumnDef `json:"fields"`
}

func (k *KeyspaceDef) Validate() error {
	if k.Name == "" {
		return fmt.Errorf("keyspace name is empty: %w", dberrors.ErrInvalidChange)
	}
	if k.ReplicationFactor < 1 {
		return fmt.Errorf("keyspace %q: replication factor %d: %w", k.Name, k.ReplicationFactor, dberrors.ErrInvalidChange)
	}
	return nil
}

// ValidateCompatibility checks that next is a legal evolution of the keyspace.
func (k *KeyspaceDef) ValidateCompatibility(next *KeyspaceDef) error {
	if k.Name != next.Name {
		return fmt.Errorf("keyspace rename %q -> %q: %w", k.Name, next.Name, dberrors.ErrInvalidChange)
	}
	return nil
}

func (t *TableDef) Validate() error {
	if t.Keyspace == "" || t.Name == "" {
		return fmt.Errorf("table name %q.%q is incomplete: %w", t.Keyspace, t.Name, dberrors.ErrInvalidChange)
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %q.%q has no columns: %w", t.Keyspace, t.Name, dberrors.ErrInvalidChange)
	}
	return validateColumns(t.Columns)
}

// ValidateCompatibility checks that next is a backward-compatible evolution:
// existing columns keep their type, columns may only be added.
func (t *TableDef) ValidateCompatibility(next *TableDef) error {
	if t.Keyspace != next.Keyspace || t.Name != next.Name {
		return fmt.Errorf("table rename %q.%q -> %q.%q: %w", t.Keyspace, t.Name, next.Keyspace, next.Name, dberrors.ErrInvalidChange)
	}
	nextCols := make(map[string]string, len(next.Columns))
	for _, c := range next.Columns {
		nextCols[c.Name] = c.Type
	}
	for _, c := range t.Columns {
		typ, ok := nextCols[c.Name]
		if !ok {
			return fmt.Errorf("table %q.%q: column %q dropped by update: %w", t.Keyspace, t.Name, c.Name, dberrors.ErrInvalidChange)
		}
		if typ != c.Type {
			return fmt.Errorf("table %q.%q: column %q type %q -> %q: %w", t.Keyspace, t.Name, c.Name, c.Type, typ, dberrors.ErrInvalidChange)
		}
	}
	return nil
}

func (u *TypeDef) Validate() error {
	if u.Keyspace == "" || u.Name == "" {
		return fmt.Errorf("type name %q.%q is incomplete: %w", u.Keyspace, u.Name, dberrors.ErrInvalidChange)
	}
	if len(u.Fields) == 0 {
		return fmt.Errorf("type %q.%q has no fields: %w", u.Keyspace, u.Name, dberrors.ErrInvalidChange)
	}
	return validateColumns(u.Fields)
}

// ValidateCompatibility for user types: fields may only be appended.
func (u *TypeDef) ValidateCompatibility(next *TypeDef) error {
	if u.Keyspace != next.Keyspace || u.Name != next.Name {
		return fmt.Errorf("type rename %q.%q -> %q.%q: %w", u.Keyspace, u.Name, next.Keyspace, next.Name, dberrors.ErrInvalidChange)
	}
	if len(next.Fields) < len(u.Fields) {
		return fmt.Errorf("type %q.%q: fields removed by update: %w", u.Keyspace, u.Name, dberrors.ErrInvalidChange)
	}
	for i, f := range u.Fields {
		if next.Fields[i] != f {
			return fmt.Errorf("type %q.%q: field %q changed by update: %w", u.Keyspace, u.Name, f.Name, dberrors.ErrInvalidChange)
		}
	}
	return nil
}

func validateColumns(cols []ColumnDef) error {
	seen := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		if c.Name == "" || c.Type == "" {
			return fmt.Errorf("column %q of type %q: %w", c.Name, c.Type, dberrors.ErrInvalidChange)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %q: %w", c.Name, dberrors.ErrInvalidChange)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}
