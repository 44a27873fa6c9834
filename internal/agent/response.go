package agent

import (
	"time"
)

// Response 是所有操作返回的统一响应信封。
// 不变式：Error 非空时 Success 必为 false；Success 为 true 时 Error 必为空。
// 构造函数负责维持该约束，调用方不应直接修改字段。
type Response struct {
	Success   bool           `json:"success"`
	Result    any            `json:"result,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Elapsed   float64        `json:"execution_time,omitempty"`
}

// OK 构造一个成功响应。
func OK(result any, message string) *Response {
	return &Response{
		Success:   true,
		Result:    result,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Fail 构造一个失败响应。
func Fail(message, errText string) *Response {
	if errText == "" {
		errText = message
	}
	return &Response{
		Success:   false,
		Message:   message,
		Error:     errText,
		Timestamp: time.Now(),
	}
}

// FailErr 基于 error 构造失败响应。
func FailErr(message string, err error) *Response {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	return Fail(message, errText)
}

// WithMeta 附加元数据并返回响应自身，便于链式构造。
func (r *Response) WithMeta(key string, value any) *Response {
	if r == nil {
		return nil
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// WithElapsed 记录本次操作耗时（秒）。
func (r *Response) WithElapsed(d time.Duration) *Response {
	if r == nil {
		return nil
	}
	r.Elapsed = d.Seconds()
	return r
}

// Valid 校验信封的互斥约束，主要用于测试与入库前检查。
func (r *Response) Valid() bool {
	if r == nil {
		return false
	}
	if r.Success && r.Error != "" {
		return false
	}
	if !r.Success && r.Error == "" {
		return false
	}
	return true
}
