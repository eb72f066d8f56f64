package blobstore

import "errors"

var (
	// Security and validation errors
	ErrInvalidKey = errors.New("invalid storage key")

	// Object errors
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")

	// Backend errors
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrServiceUnavailable = errors.New("storage service temporarily unavailable")

	// I/O errors
	ErrFailedToWrite = errors.New("failed to write object")
	ErrFailedToRead  = errors.New("failed to read object")
	ErrFailedToMove  = errors.New("failed to move object")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid storage configuration")
)
