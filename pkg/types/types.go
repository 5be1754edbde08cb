package types

// NodeID identifies a node in the cluster by its reachable address ("host:port").
type NodeID string

// Timestamp is a microsecond-precision mutation timestamp used for
// last-write-wins merge of definition changes.
type Timestamp int64

// ProtoVersion is the internode protocol major version a node advertises.
type ProtoVersion int32
