package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrStreamNotFound = errors.New("stream not found")
	ErrDuplicateName  = errors.New("duplicate stream name")
	ErrUnknownFeed    = errors.New("unknown feed")
)

// ParseError 설정 파일 파싱 에러 (파일명, 줄 번호 포함)
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}
