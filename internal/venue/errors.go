package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrCancelUnsupported 表示接入点不支持撤销，区别于撤销失败。
	ErrCancelUnsupported = errors.New("venue: cancel unsupported")
	// ErrSignerUnavailable 表示签名能力不可用，属于系统级故障。
	ErrSignerUnavailable = errors.New("venue: signer unavailable")
)

// ErrKind 划分接入点错误类别，决定上层的重试语义。
type ErrKind string

const (
	ErrKindNetwork   ErrKind = "network"
	ErrKindTimeout   ErrKind = "timeout"
	ErrKindRateLimit ErrKind = "rate_limit"
	ErrKindRejected  ErrKind = "rejected"
	ErrKindInvalid   ErrKind = "invalid"
)

// Error 携带接入点与操作上下文的错误。
type Error struct {
	Venue   string
	Op      string
	Kind    ErrKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("venue %s: %s: %s: %v", e.Venue, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("venue %s: %s: %s", e.Venue, e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 构造接入点错误。
func NewError(venueName, op string, kind ErrKind, message string, cause error) *Error {
	return &Error{
		Venue:   venueName,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     cause,
	}
}

// IsRetryable 判断错误是否可在同一路由上重试。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var venueErr *Error
	if errors.As(err, &venueErr) {
		switch venueErr.Kind {
		case ErrKindNetwork, ErrKindTimeout, ErrKindRateLimit:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRejection 判断错误是否为接入点侧的执行拒绝（滑点超限、流动性不足等）。
func IsRejection(err error) bool {
	var venueErr *Error
	if errors.As(err, &venueErr) {
		return venueErr.Kind == ErrKindRejected
	}
	return false
}
