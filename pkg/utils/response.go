package utils

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody 是所有错误响应的 JSON 结构。
type ErrorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorBody{Error: message})
}

// RespondReason 发送带失败原因的错误响应，供客户端区分 quota、auth 等情况。
func RespondReason(w http.ResponseWriter, status int, message, reason string) {
	RespondJSON(w, status, ErrorBody{Error: message, Reason: reason})
}

// DecodeJSON 将请求体解析到 dst。
func DecodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
