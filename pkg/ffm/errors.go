package ffm

import "errors"

var (
	ErrNoData         = errors.New("ffm: no new data in feed")
	ErrBadMagic       = errors.New("ffm: bad record magic")
	ErrBadHeader      = errors.New("ffm: invalid feed header")
	ErrHeaderMismatch = errors.New("ffm: feed header does not match configuration")
	ErrHeaderTooLarge = errors.New("ffm: stream table does not fit in header record")
	ErrRecordSize     = errors.New("ffm: record has wrong size")
	ErrReadOnly       = errors.New("ffm: feed file is read-only")
	ErrFrameTooLarge  = errors.New("ffm: frame exceeds maximum size")
)
