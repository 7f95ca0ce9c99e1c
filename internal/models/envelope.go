package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Meta 分页信息
type Meta struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	MaxPage int `json:"max_page"`
	Count   int `json:"count"`
}

// Envelope 与 registry 的统一响应格式保持一致
// {status, message, timestamp, data, error?, meta?}
type Envelope[T any] struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp,omitempty"`
	Data      T               `json:"data"`
	Error     json.RawMessage `json:"error,omitempty"`
	Meta      *Meta           `json:"meta,omitempty"`
}

// Page 一页数据 + 分页信息
type Page[T any] struct {
	Items []T
	Meta  *Meta
}

// APIError 失败响应（业务失败、HTTP 错误、传输错误统一成这一种）
type APIError struct {
	StatusCode int    // HTTP 状态码；传输错误时为 0
	Message    string // 面向操作员的消息
	Detail     string // envelope 中的 error 字段或底层错误文本
	Err        error
}

func (e *APIError) Error() string {
	if e.Detail != "" && e.Detail != e.Message {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// IsUnauthorized 401
func (e *APIError) IsUnauthorized() bool { return e.StatusCode == http.StatusUnauthorized }

// AsAPIError errors.As 的便捷封装
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Decode 在边界上把响应解析成成功数据或 *APIError，调用方不需要再检查 status 字段
// fallback: 响应体没有 message 时使用的提示
func Decode[T any](statusCode int, body []byte, fallback string) (T, *Meta, error) {
	var zero T
	var env Envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, nil, &APIError{
			StatusCode: statusCode,
			Message:    fallback,
			Detail:     fmt.Sprintf("invalid response body (http %d)", statusCode),
			Err:        err,
		}
	}

	if !env.Status || statusCode < 200 || statusCode >= 300 {
		msg := env.Message
		if msg == "" {
			msg = fallback
		}
		return zero, nil, &APIError{
			StatusCode: statusCode,
			Message:    msg,
			Detail:     errorDetail(env.Error),
		}
	}
	return env.Data, env.Meta, nil
}

// errorDetail error 字段可能是字符串、对象或缺失
func errorDetail(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
