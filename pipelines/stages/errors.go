// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package stages

import "fmt"

// ErrNoFile is returned when an upload request carries no file content.
type ErrNoFile struct{}

func (e *ErrNoFile) Error() string {
	return "no file provided"
}

// ErrExtension is returned when an uploaded filename's extension is not
// in the allowed set.
type ErrExtension struct {
	Name string
}

func (e *ErrExtension) Error() string {
	return fmt.Sprintf("file extension of %q not allowed", e.Name)
}

// ErrWriteFile is returned when file I/O operations fail.
type ErrWriteFile struct {
	Op   string // mkdir, write, read
	Path string
	Err  error
}

func (e *ErrWriteFile) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ErrWriteFile) Unwrap() error {
	return e.Err
}

// ErrDatabase is returned when registry operations fail.
type ErrDatabase struct {
	Op  string
	Err error
}

func (e *ErrDatabase) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *ErrDatabase) Unwrap() error {
	return e.Err
}

// Error code constants for logs and API payloads.
const (
	ErrCodeNoFile    = "NO_FILE"
	ErrCodeExtension = "EXTENSION"
	ErrCodeWriteFile = "WRITE_FILE"
	ErrCodeDatabase  = "DATABASE"
	ErrCodeUnknown   = "UNKNOWN"
)

// ErrorCode returns the error code string for a given error.
func ErrorCode(err error) string {
	switch err.(type) {
	case *ErrNoFile:
		return ErrCodeNoFile
	case *ErrExtension:
		return ErrCodeExtension
	case *ErrWriteFile:
		return ErrCodeWriteFile
	case *ErrDatabase:
		return ErrCodeDatabase
	default:
		return ErrCodeUnknown
	}
}
