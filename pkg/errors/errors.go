// Package errors 提供遊戲協調器的錯誤分類
//
// 所有遊戲錯誤都是呼叫端局部錯誤：只回報給發起操作的連線，不廣播，也不改變房間狀態。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeRoomFull 房間已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeNameTaken 名稱已被使用
	ErrCodeNameTaken = "NAME_TAKEN"
	// ErrCodeRoomNotFound 房間不存在或已過期
	ErrCodeRoomNotFound = "ROOM_NOT_FOUND"
	// ErrCodeNotEnoughPlayers 人數不足
	ErrCodeNotEnoughPlayers = "NOT_ENOUGH_PLAYERS"
	// ErrCodeAlreadyStarted 遊戲已開始
	ErrCodeAlreadyStarted = "ALREADY_STARTED"
	// ErrCodeDrawerCannotGuess 畫家不能猜
	ErrCodeDrawerCannotGuess = "DRAWER_CANNOT_GUESS"
	// ErrCodeNotYourTurn 不是畫家
	ErrCodeNotYourTurn = "NOT_YOUR_TURN"
	// ErrCodeInvalidState 當前狀態不允許此操作
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodeNotHost 只有房主可以操作
	ErrCodeNotHost = "NOT_HOST"
	// ErrCodeInvalidInput 無效輸入
	ErrCodeInvalidInput = "INVALID_INPUT"
	// ErrCodeRateLimited 訊息過於頻繁
	ErrCodeRateLimited = "RATE_LIMITED"
	// ErrCodeUnavailable 依賴服務未啟用
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
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

// Is 以錯誤碼比對，讓 errors.Is(err, ErrRoomFull) 對帶有細節的副本也成立
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

// WithDetails 回傳帶有詳細資訊的副本，預定義錯誤本身不會被修改
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// 預定義錯誤
var (
	ErrRoomFull          = New(ErrCodeRoomFull, "room is full")
	ErrNameTaken         = New(ErrCodeNameTaken, "display name already taken in this room")
	ErrRoomNotFound      = New(ErrCodeRoomNotFound, "room not found")
	ErrNotEnoughPlayers  = New(ErrCodeNotEnoughPlayers, "at least two participants are required")
	ErrAlreadyStarted    = New(ErrCodeAlreadyStarted, "game already started")
	ErrDrawerCannotGuess = New(ErrCodeDrawerCannotGuess, "the drawer cannot guess")
	ErrNotYourTurn       = New(ErrCodeNotYourTurn, "only the drawer can do this")
	ErrInvalidState      = New(ErrCodeInvalidState, "operation not valid in the current state")
	ErrNotHost           = New(ErrCodeNotHost, "only the host can do this")
	ErrInvalidInput      = New(ErrCodeInvalidInput, "invalid input")
	ErrRateLimited       = New(ErrCodeRateLimited, "too many messages")
	ErrUnavailable       = New(ErrCodeUnavailable, "service not configured")
	ErrInternal          = New(ErrCodeInternal, "internal error")
)

// CodeOf 取得錯誤碼，nil 回傳空字串，非 AppError 一律視為內部錯誤
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// MessageOf 取得可回報給客戶端的訊息
func MessageOf(err error) string {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrInternal.Message
	}
	if appErr.Details != "" {
		return appErr.Message + ": " + appErr.Details
	}
	return appErr.Message
}

// IsNotFound 檢查是否為房間不存在錯誤
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeRoomNotFound
}
