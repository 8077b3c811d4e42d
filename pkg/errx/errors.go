package errx

import (
	"errors"
	"fmt"
)

type Code string

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(code Code, msg string) *Error { return &Error{Code: code, Msg: msg} }

func Wrap(code Code, err error, msg string) *Error { return &Error{Code: code, Msg: msg, Err: err} }

func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

const (
	// CodeRequiredFieldMissing 消息定义缺少必填字段
	CodeRequiredFieldMissing Code = "REQUIRED_FIELD_MISSING"
	// CodeNotConfigured 当前配置状态不允许执行该操作
	CodeNotConfigured Code = "NOT_CONFIGURED"
	// CodeServiceUnavailable 依赖的宿主服务不可用
	CodeServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	// CodeBundleInvalid 规则包损坏或缺少规则文件
	CodeBundleInvalid Code = "BUNDLE_INVALID"
	// CodeTransientNetwork 可恢复的网络错误，调用方稍后重试
	CodeTransientNetwork Code = "TRANSIENT_NETWORK"
)
