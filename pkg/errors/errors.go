// Package errors 提供房間與轉發層的錯誤分類
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeRoomNotFound 房間不存在（或已被清理）
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeNotAMember 呼叫者不在房間內
	ErrCodeNotAMember = "NOT_A_MEMBER"
	// ErrCodeNotHost 只有房主可以執行
	ErrCodeNotHost = "NOT_HOST"
	// ErrCodeInvalidPayload 事件內容缺少必要欄位或格式錯誤
	ErrCodeInvalidPayload = "INVALID_PAYLOAD"
	// ErrCodeInvalidCoordinates 座標無法解析為數字
	ErrCodeInvalidCoordinates = "INVALID_COORDINATES"
	// ErrCodeCooldownActive 出兵冷卻中（軟性拒絕，客戶端稍後重試即可）
	ErrCodeCooldownActive = "COOLDOWN_ACTIVE"
	// ErrCodeInvalidConfig 配置錯誤
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 實現 errors.Is（以錯誤碼比對）
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 回傳帶有詳細資訊的副本
//
// 預定義錯誤是共享的，不能原地修改。
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
//
// Message 即為回傳給客戶端的 reason 字串，前端依此顯示。
var (
	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeRoomNotFound, "room not found")

	// ErrMissingRoomID 缺少房間 ID
	ErrMissingRoomID = New(ErrCodeInvalidPayload, "missing room_id")

	// ErrNotAMember 不在房間內
	ErrNotAMember = New(ErrCodeNotAMember, "not in room")

	// ErrNotHost 非房主
	ErrNotHost = New(ErrCodeNotHost, "only host can start game")

	// ErrInvalidPayload 事件格式錯誤
	ErrInvalidPayload = New(ErrCodeInvalidPayload, "invalid payload")

	// ErrInvalidCoordinates 座標錯誤
	ErrInvalidCoordinates = New(ErrCodeInvalidCoordinates, "invalid coords")

	// ErrCooldownActive 冷卻中
	ErrCooldownActive = New(ErrCodeCooldownActive, "spawn cooldown")
)

// Code 取出錯誤碼，非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Reason 取出回傳給客戶端的訊息
func Reason(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// IsRoomNotFound 檢查是否為房間不存在錯誤
func IsRoomNotFound(err error) bool {
	return Code(err) == ErrCodeRoomNotFound
}

// IsNotAMember 檢查是否為非成員錯誤
func IsNotAMember(err error) bool {
	return Code(err) == ErrCodeNotAMember
}

// IsNotHost 檢查是否為非房主錯誤
func IsNotHost(err error) bool {
	return Code(err) == ErrCodeNotHost
}

// IsInvalidPayload 檢查是否為格式錯誤
func IsInvalidPayload(err error) bool {
	return Code(err) == ErrCodeInvalidPayload
}

// IsInvalidCoordinates 檢查是否為座標錯誤
func IsInvalidCoordinates(err error) bool {
	return Code(err) == ErrCodeInvalidCoordinates
}

// IsCooldown 檢查是否為冷卻拒絕
//
// 冷卻是軟性拒絕，不是錯誤狀態，呼叫端通常只需要回覆 spawn_rejected。
func IsCooldown(err error) bool {
	return Code(err) == ErrCodeCooldownActive
}
