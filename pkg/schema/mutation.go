package schema

import (
	"encoding/json"
	"fmt"

	"schemadb/pkg/types"
)

// ChangeKind is the closed set of definition-change variants.
type ChangeKind uint8

const (
	CreateKeyspace ChangeKind = iota + 1
	UpdateKeyspace
	DropKeyspace
	CreateTable
	UpdateTable
	DropTable
	CreateType
	UpdateType
	DropType
)

func (k ChangeKind) String() string {
	switch k {
	case CreateKeyspace:
		return "create_keyspace"
	case UpdateKeyspace:
		return "update_keyspace"
	case DropKeyspace:
		return "drop_keyspace"
	case CreateTable:
		return "create_table"
	case UpdateTable:
		return "update_table"
	case DropTable:
		return "drop_table"
	case CreateType:
		return "create_type"
	case UpdateType:
		return "update_type"
	case DropType:
		return "drop_type"
	}
	return fmt.Sprintf("change_kind(%d)", uint8(k))
}

// IsDrop reports whether the kind removes its target.
func (k ChangeKind) IsDrop() bool {
	return k == DropKeyspace || k == DropTable || k == DropType
}

func (k ChangeKind) target() targetKind {
	switch k {
	case CreateKeyspace, UpdateKeyspace, DropKeyspace:
		return targetKeyspace
	case CreateTable, UpdateTable, DropTable:
		return targetTable
	default:
		return targetType
	}
}

// Mutation is one atomic definition-change record. Payload carries the
// serialized definition and is empty for drops.
type Mutation struct {
	Kind      ChangeKind
	Keyspace  string
	Name      string // empty when the target is the keyspace itself
	Timestamp types.Timestamp
	Payload   []byte
}

// Batch is an ordered sequence of mutations produced by one administrator
// action and applied to local state as a unit.
type Batch []Mutation

// Equal compares content and order.
func (b Batch) Equal(other Batch) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if b[i].Kind != other[i].Kind ||
			b[i].Keyspace != other[i].Keyspace ||
			b[i].Name != other[i].Name ||
			b[i].Timestamp != other[i].Timestamp ||
			string(b[i].Payload) != string(other[i].Payload) {
			return false
		}
	}
	return true
}

func marshalPayload(def any) []byte {
	data, err := json.Marshal(def)
	if err != nil {
		// all definition types are plain structs; this cannot fail
		panic("schema: marshal definition: " + err.Error())
	}
	return data
}

// KeyspaceBatch builds the single-record batch for a keyspace create or update.
func KeyspaceBatch(kind ChangeKind, def *KeyspaceDef, ts types.Timestamp) Batch {
	return Batch{{Kind: kind, Keyspace: def.Name, Timestamp: ts, Payload: marshalPayload(def)}}
}

// TableBatch builds the single-record batch for a table create or update.
func TableBatch(kind ChangeKind, def *TableDef, ts types.Timestamp) Batch {
	return Batch{{Kind: kind, Keyspace: def.Keyspace, Name: def.Name, Timestamp: ts, Payload: marshalPayload(def)}}
}

// TypeBatch builds the single-record batch for a user type create or update.
func TypeBatch(kind ChangeKind, def *TypeDef, ts types.Timestamp) Batch {
	return Batch{{Kind: kind, Keyspace: def.Keyspace, Name: def.Name, Timestamp: ts, Payload: marshalPayload(def)}}
}

// DropBatch builds the single-record batch removing a target.
func DropBatch(kind ChangeKind, keyspace, name string, ts types.Timestamp) Batch {
	return Batch{{Kind: kind, Keyspace: keyspace, Name: name, Timestamp: ts}}
}
