// Package encoding carries the wire format for definition-change batches:
// a 4-byte big-endian record count followed by that many length-prefixed,
// self-delimiting mutation records in batch order.
package encoding

import (
	"encoding/binary"
	"fmt"

	"schemadb/pkg/dberrors"
	"schemadb/pkg/schema"
	"schemadb/pkg/types"
)

// maxBatchRecords bounds the declared record count before any allocation.
// One administrator action never produces more than a handful of records;
// a pulled full-state batch is bounded by the number of definitions.
const maxBatchRecords = 1 << 20

const (
	countSize     = 4
	recordHdrSize = 4
	// kind(1) + timestamp(8) + keyspace len(2) + name len(2) + payload len(4)
	recordFixedSize = 1 + 8 + 2 + 2 + 4
)

func recordSize(m schema.Mutation) int {
	return recordFixedSize + len(m.Keyspace) + len(m.Name) + len(m.Payload)
}

// EncodedSize returns the exact encoded size of a batch without serializing
// it. Used for capacity planning.
func EncodedSize(b schema.Batch) int {
	size := countSize
	for _, m := range b {
		size += recordHdrSize + recordSize(m)
	}
	return size
}

// EncodeBatch serializes a batch for the wire.
func EncodeBatch(b schema.Batch) ([]byte, error) {
	if len(b) > maxBatchRecords {
		return nil, fmt.Errorf("batch of %d records: %w", len(b), dberrors.ErrCorruptStream)
	}
	for _, m := range b {
		if len(m.Keyspace) > 0xFFFF || len(m.Name) > 0xFFFF {
			return nil, fmt.Errorf("target name too long in %s record: %w", m.Kind, dberrors.ErrCorruptStream)
		}
	}

	buf := make([]byte, 0, EncodedSize(b))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	for _, m := range b {
		buf = binary.BigEndian.AppendUint32(buf, uint32(recordSize(m)))
		buf = append(buf, byte(m.Kind))
		buf = binary.BigEndian.AppendUint64(buf, uint64(m.Timestamp))
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Keyspace)))
		buf = append(buf, m.Keyspace...)
		buf = binary.BigEndian.AppendUint16(buf, uint16(len(m.Name)))
		buf = append(buf, m.Name...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(m.Payload)))
		buf = append(buf, m.Payload...)
	}
	return buf, nil
}

// DecodeBatch parses an encoded batch. The declared count is validated
// before any storage is allocated for the records.
func DecodeBatch(data []byte) (schema.Batch, error) {
	if len(data) < countSize {
		return nil, fmt.Errorf("truncated count prefix: %w", dberrors.ErrCorruptStream)
	}
	count := binary.BigEndian.Uint32(data)
	if int32(count) < 0 || count > maxBatchRecords {
		return nil, fmt.Errorf("declared record count %d: %w", int32(count), dberrors.ErrCorruptStream)
	}
	data = data[countSize:]

	b := make(schema.Batch, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < recordHdrSize {
			return nil, fmt.Errorf("truncated record %d header: %w", i, dberrors.ErrCorruptStream)
		}
		rlen := int(binary.BigEndian.Uint32(data))
		data = data[recordHdrSize:]
		if rlen < recordFixedSize || rlen > len(data) {
			return nil, fmt.Errorf("record %d length %d: %w", i, rlen, dberrors.ErrCorruptStream)
		}
		m, err := decodeRecord(data[:rlen])
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		b = append(b, m)
		data = data[rlen:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after batch: %w", len(data), dberrors.ErrCorruptStream)
	}
	return b, nil
}

func decodeRecord(data []byte) (schema.Mutation, error) {
	var m schema.Mutation
	m.Kind = schema.ChangeKind(data[0])
	if m.Kind < schema.CreateKeyspace || m.Kind > schema.DropType {
		return m, fmt.Errorf("unknown change kind %d: %w", data[0], dberrors.ErrCorruptStream)
	}
	m.Timestamp = types.Timestamp(binary.BigEndian.Uint64(data[1:]))
	data = data[9:]

	ksLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < ksLen+2 {
		return m, fmt.Errorf("truncated keyspace name: %w", dberrors.ErrCorruptStream)
	}
	m.Keyspace = string(data[:ksLen])
	data = data[ksLen:]

	nameLen := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	if len(data) < nameLen+4 {
		return m, fmt.Errorf("truncated target name: %w", dberrors.ErrCorruptStream)
	}
	m.Name = string(data[:nameLen])
	data = data[nameLen:]

	payloadLen := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) != payloadLen {
		return m, fmt.Errorf("payload length %d, %d bytes remain: %w", payloadLen, len(data), dberrors.ErrCorruptStream)
	}
	if payloadLen > 0 {
		m.Payload = append([]byte(nil), data...)
	}
	return m, nil
}
