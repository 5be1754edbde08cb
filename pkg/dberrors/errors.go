package dberrors

import "errors"

var (
	ErrAlreadyExists = errors.New("schemadb: already exists")
	ErrNotFound      = errors.New("schemadb: not found")
	ErrInvalidChange = errors.New("schemadb: incompatible schema change")
	ErrCorruptStream = errors.New("schemadb: corrupt mutation stream")
	ErrClosed        = errors.New("schemadb: closed")
)
