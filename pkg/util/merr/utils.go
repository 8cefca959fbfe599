// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package merr

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case serdeError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

// KindName 返回错误种类的稳定名称，用于日志与监控标签。
func KindName(err error) string {
	if err == nil {
		return ""
	}
	if se, ok := errors.Cause(err).(serdeError); ok {
		if name, ok := kindNames[se.errCode]; ok {
			return name
		}
	}
	return "unexpected"
}

var kindNames = map[int32]string{
	ErrRegistrationRequired.errCode:  "registration_required",
	ErrInsecure.errCode:              "insecure",
	ErrDuplicateRegistration.errCode: "duplicate_registration",
	ErrUnsupportedType.errCode:       "unsupported_type",
	ErrMetaContextMismatch.errCode:   "meta_context_mismatch",
	ErrClassVersionMismatch.errCode:  "class_version_mismatch",
	ErrMalformedInput.errCode:        "malformed_input",
	ErrMaxDepthExceeded.errCode:      "max_depth_exceeded",
	ErrStreamVersion.errCode:         "stream_version",
	ErrFrameTooLarge.errCode:         "frame_too_large",
	ErrStreamCompression.errCode:     "stream_compression",
	ErrPoolExhaustedTimeout.errCode:  "pool_exhausted_timeout",
	ErrCodecContextReleased.errCode:  "codec_context_released",
	ErrPoolClosed.errCode:            "pool_closed",
	ErrParameterInvalid.errCode:      "parameter_invalid",
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(serdeError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(serdeError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(serdeError); ok {
		return merr.errType
	}

	return SystemError
}

// Registry 相关错误封装。
func WrapErrRegistrationRequired(typeName string, msg ...string) error {
	err := wrapFields(ErrRegistrationRequired, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrInsecure(typeName string, msg ...string) error {
	err := wrapFields(ErrInsecure, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrDuplicateRegistration(typeName string, id any) error {
	return wrapFields(ErrDuplicateRegistration, value("type", typeName), value("id", id))
}

func WrapErrUnsupportedType(typeName string, msg ...string) error {
	err := wrapFields(ErrUnsupportedType, value("type", typeName))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Schema 相关错误封装。
func WrapErrMetaContextMismatch(schemaID any, reason string) error {
	return wrapFieldsWithDesc(ErrMetaContextMismatch, reason, value("schemaID", schemaID))
}

func WrapErrClassVersionMismatch(typeName string, expected, actual uint32) error {
	return wrapFields(ErrClassVersionMismatch,
		value("type", typeName),
		value("expected", fmt.Sprintf("%08x", expected)),
		value("actual", fmt.Sprintf("%08x", actual)),
	)
}

// Decode 相关错误封装。
func WrapErrMalformedInput(reason string, cause ...error) error {
	err := wrapFieldsWithDesc(ErrMalformedInput, reason)
	if len(cause) > 0 && cause[0] != nil {
		err = errors.WithSecondaryError(err, cause[0])
	}
	return err
}

func WrapErrMaxDepthExceeded(depth, limit int) error {
	return wrapFields(ErrMaxDepthExceeded, bound("depth", depth, 0, limit))
}

func WrapErrStreamVersion(local, remote string) error {
	return wrapFields(ErrStreamVersion, value("local", local), value("remote", remote))
}

func WrapErrFrameTooLarge(size, limit uint32) error {
	return wrapFields(ErrFrameTooLarge, bound("size", size, 0, limit))
}

func WrapErrStreamCompression(err error) error {
	return wrapFieldsWithDesc(ErrStreamCompression, err.Error())
}

// Pool 相关错误封装。
func WrapErrPoolExhaustedTimeout(pool string, maxSize int, cause error) error {
	err := wrapFields(ErrPoolExhaustedTimeout, value("pool", pool), value("maxSize", maxSize))
	if cause != nil {
		err = errors.WithSecondaryError(err, cause)
	}
	return err
}

func WrapErrCodecContextReleased(name string) error {
	return wrapFields(ErrCodecContextReleased, value("context", name))
}

func WrapErrPoolClosed(pool string) error {
	return wrapFields(ErrPoolClosed, value("pool", pool))
}

// Parameter 相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func wrapFields(err serdeError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err serdeError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
