package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有语义校验错误的公共哨兵，调用方可用 errors.Is 区分“文件读不到”与“内容不合法”。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 标识出错的字段路径（如 Sendfile.LinkRoute、Download[/x].Header）与原因。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

func downloadField(route, field string) string {
	return fmt.Sprintf("Download[%s].%s", route, field)
}
