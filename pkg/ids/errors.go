package ids

import "errors"

var (
	ErrBufferTooSmall = errors.New("ids: destination buffer too small")
	ErrTruncated      = errors.New("ids: source buffer truncated")
	ErrStringTooLong  = errors.New("ids: string exceeds maximum encodable length")
	ErrCapacityExceeded = errors.New("ids: container count exceeds capacity")
)
