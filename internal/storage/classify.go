package storage

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"
	"gocloud.dev/gcerrors"
)

// ErrorKind describes where an upload failure originated.
type ErrorKind int

const (
	// KindClient covers network failures and anything the service never answered.
	KindClient ErrorKind = iota
	// KindService is an error response from the storage service.
	KindService
	// KindTimeout is a per-request deadline or cancellation.
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindService:
		return "service"
	case KindTimeout:
		return "timeout"
	default:
		return "client"
	}
}

// Classify maps an upload error to its ErrorKind.
func Classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return KindService
	}

	switch gcerrors.Code(err) {
	case gcerrors.OK, gcerrors.Unknown, gcerrors.Internal:
		return KindClient
	default:
		return KindService
	}
}

// ErrorCode returns the service error code when one is available.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	if code := gcerrors.Code(err); code != gcerrors.OK && code != gcerrors.Unknown {
		return code.String()
	}
	return ""
}
