// Copyright 2024 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package moerr

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

const (
	// 0 is OK.
	Ok uint16 = 0

	// Group 1: internal errors
	ErrStart        uint16 = 20100
	ErrInternal     uint16 = 20101
	ErrNotSupported uint16 = 20105
	ErrInvalidState uint16 = 20106

	// Group 2: input errors
	ErrInvalidInput uint16 = 20204

	// Group 4: plan search
	ErrNoPlanFound uint16 = 20401
	ErrRuleFailed  uint16 = 20402

	ErrEnd uint16 = 65535
)

type moErrorMsgItem struct {
	errorCode        uint16
	errorMsgOrFormat string
}

var errorMsgRefer = map[uint16]moErrorMsgItem{
	Ok: {0, "ok"},

	ErrInternal:     {ErrInternal, "internal error: %s"},
	ErrNotSupported: {ErrNotSupported, "not supported: %s"},
	ErrInvalidState: {ErrInvalidState, "invalid state %s"},

	ErrInvalidInput: {ErrInvalidInput, "invalid input: %s"},

	ErrNoPlanFound: {ErrNoPlanFound, "no plan found for required property %s"},
	ErrRuleFailed:  {ErrRuleFailed, "rule %s failed: %s"},
}

// Error is the error type returned by every package of the search engine.
// The code identifies the failure class; callers switch on it with
// IsMoErrCode rather than on the message.
type Error struct {
	code    uint16
	message string
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Succeeded() bool {
	return e.code == Ok
}

// Is reports whether target carries the same error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code
}

func newError(_ context.Context, code uint16, args ...any) *Error {
	item, has := errorMsgRefer[code]
	if !has {
		return &Error{code: ErrInternal, message: fmt.Sprintf("not exist MOErrorCode: %d", code)}
	}
	msg := item.errorMsgOrFormat
	if len(args) > 0 {
		msg = fmt.Sprintf(item.errorMsgOrFormat, args...)
	}
	return &Error{code: item.errorCode, message: msg}
}

// IsMoErrCode reports whether err, or any error it wraps, is an *Error with
// the given code.
func IsMoErrCode(err error, code uint16) bool {
	if err == nil {
		return code == Ok
	}
	var me *Error
	if !errors.As(err, &me) {
		return false
	}
	return me.code == code
}

// GetMoErrCode returns the code carried by err, and false if err is not a
// moerr.
func GetMoErrCode(err error) (uint16, bool) {
	var me *Error
	if !errors.As(err, &me) {
		return 0, false
	}
	return me.code, true
}

func NewInternalError(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInternal, xmsg)
}

func NewInternalErrorNoCtx(msg string, args ...any) *Error {
	return NewInternalError(context.Background(), msg, args...)
}

func NewNotSupported(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrNotSupported, xmsg)
}

func NewInvalidState(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidState, xmsg)
}

func NewInvalidInput(ctx context.Context, msg string, args ...any) *Error {
	xmsg := fmt.Sprintf(msg, args...)
	return newError(ctx, ErrInvalidInput, xmsg)
}

func NewInvalidInputNoCtx(msg string, args ...any) *Error {
	return NewInvalidInput(context.Background(), msg, args...)
}

func NewNoPlanFound(ctx context.Context, required string) *Error {
	return newError(ctx, ErrNoPlanFound, required)
}

func NewRuleFailed(ctx context.Context, rule string, cause string) *Error {
	return newError(ctx, ErrRuleFailed, rule, cause)
}

// ConvertPanicError converts a recovered panic value into an internal
// error, keeping the stack of the panic site in the message.
func ConvertPanicError(ctx context.Context, v any) *Error {
	if e, ok := v.(*Error); ok {
		return e
	}
	if err, ok := v.(error); ok {
		return newError(ctx, ErrInternal, fmt.Sprintf("panic %+v", errors.WithStackDepth(err, 2)))
	}
	return newError(ctx, ErrInternal, fmt.Sprintf("panic %+v", errors.NewWithDepthf(2, "%v", v)))
}
