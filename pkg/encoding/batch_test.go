package encoding

import (
	"encoding/binary"
	"errors"
	"testing"

	"schemadb/pkg/dberrors"
	"schemadb/pkg/schema"
)

func sampleBatch() schema.Batch {
	ks := schema.KeyspaceBatch(schema.CreateKeyspace, &schema.KeyspaceDef{Name: "ks1", ReplicationFactor: 3}, 1000)
	tbl := schema.TableBatch(schema.CreateTable, &schema.TableDef{
		Keyspace: "ks1", Name: "t1",
		Columns: []schema.ColumnDef{{Name: "id", Type: "uuid"}},
	}, 1000)
	drop := schema.DropBatch(schema.DropType, "ks1", "old_type", 1000)
	return append(append(ks, tbl...), drop...)
}

func TestRoundTrip(t *testing.T) {
	b := sampleBatch()
	data, err := EncodeBatch(b)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}

	decoded, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if !decoded.Equal(b) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, b)
	}
}

func TestRoundTrip_EmptyBatch(t *testing.T) {
	data, err := EncodeBatch(nil)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	decoded, err := DecodeBatch(data)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("empty batch decoded to %d records", len(decoded))
	}
}

func TestEncodedSize_MatchesEncoding(t *testing.T) {
	b := sampleBatch()
	data, err := EncodeBatch(b)
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if got := EncodedSize(b); got != len(data) {
		t.Fatalf("EncodedSize = %d, encoded length = %d", got, len(data))
	}
	if got := EncodedSize(nil); got != 4 {
		t.Fatalf("EncodedSize(nil) = %d, want 4", got)
	}
}

func TestDecode_RejectsBadCount(t *testing.T) {
	t.Run("negative count", func(t *testing.T) {
		data := binary.BigEndian.AppendUint32(nil, 0xFFFFFFFF)
		if _, err := DecodeBatch(data); !errors.Is(err, dberrors.ErrCorruptStream) {
			t.Fatalf("want ErrCorruptStream, got %v", err)
		}
	})
	t.Run("implausibly large count", func(t *testing.T) {
		data := binary.BigEndian.AppendUint32(nil, maxBatchRecords+1)
		if _, err := DecodeBatch(data); !errors.Is(err, dberrors.ErrCorruptStream) {
			t.Fatalf("want ErrCorruptStream, got %v", err)
		}
	})
	t.Run("truncated count prefix", func(t *testing.T) {
		if _, err := DecodeBatch([]byte{0, 0}); !errors.Is(err, dberrors.ErrCorruptStream) {
			t.Fatalf("want ErrCorruptStream, got %v", err)
		}
	})
}

func TestDecode_RejectsTruncatedRecord(t *testing.T) {
	data, err := EncodeBatch(sampleBatch())
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	for _, cut := range []int{5, len(data) / 2, len(data) - 1} {
		if _, err := DecodeBatch(data[:cut]); !errors.Is(err, dberrors.ErrCorruptStream) {
			t.Fatalf("cut at %d: want ErrCorruptStream, got %v", cut, err)
		}
	}
}

func TestDecode_RejectsTrailingBytes(t *testing.T) {
	data, err := EncodeBatch(sampleBatch())
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	data = append(data, 0xAB)
	if _, err := DecodeBatch(data); !errors.Is(err, dberrors.ErrCorruptStream) {
		t.Fatalf("want ErrCorruptStream, got %v", err)
	}
}

func TestDecode_RejectsUnknownKind(t *testing.T) {
	data, err := EncodeBatch(sampleBatch())
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	// first record's kind byte sits right after count and record header
	data[8] = 0xEE
	if _, err := DecodeBatch(data); !errors.Is(err, dberrors.ErrCorruptStream) {
		t.Fatalf("want ErrCorruptStream, got %v", err)
	}
}
