package consolidate

import "errors"

var (
	// ErrFeedIDRequired is returned when a feed spec has no identifier.
	ErrFeedIDRequired = errors.New("feed id required")

	// ErrIdentifierFieldsRequired is returned when a feed spec lists no identifier fields.
	ErrIdentifierFieldsRequired = errors.New("identifier fields required")

	// ErrDuplicateFeed is returned when two feeds share an identifier.
	ErrDuplicateFeed = errors.New("duplicate feed id")
)
