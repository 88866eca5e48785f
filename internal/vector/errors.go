package vector

import "errors"

var (
	// ErrAlreadyExists is returned by Store.Create when the collection name is taken.
	ErrAlreadyExists = errors.New("collection already exists")
	// ErrCollectionNotFound is returned when a named collection is not in the store.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrDuplicateID is returned by Add when the id is already present.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrDimensionMismatch is returned when a vector length differs from the collection dimension.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrInvalidDimension is returned when a collection is created with a non-positive dimension.
	ErrInvalidDimension = errors.New("dimension must be positive")
	// ErrUnsupportedMetric is returned for any metric other than cosine.
	ErrUnsupportedMetric = errors.New("unsupported distance metric")
)
