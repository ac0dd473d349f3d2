// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, partner, account, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeInvalidCredentials     = "INVALID_CREDENTIALS"
	ErrCodeInvalidPassword        = "INVALID_PASSWORD"
	ErrCodeEmailAlreadyRegistered = "EMAIL_ALREADY_REGISTERED"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeRateLimitExceeded      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal               = "INTERNAL_ERROR"

	// パートナー連携の事前条件違反
	ErrCodeAlreadyLinked         = "ALREADY_LINKED"
	ErrCodeRequestAlreadyPending = "REQUEST_ALREADY_PENDING"
	ErrCodeInvalidTarget         = "INVALID_TARGET"
	ErrCodeTargetNotFound        = "TARGET_NOT_FOUND"
	ErrCodeTargetAlreadyLinked   = "TARGET_ALREADY_LINKED"
	ErrCodeTargetRequestPending  = "TARGET_REQUEST_PENDING"
	ErrCodeNoPendingRequest      = "NO_PENDING_REQUEST"
	ErrCodeNotLinked             = "NOT_LINKED"
)

// ErrorCode はエラーチェーン中のAPIErrorのコードを返す。APIErrorでない場合は空文字を返す。
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// IsErrorCode はエラーが指定コードのAPIErrorかどうかを返す。
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// NewValidationError はリクエスト内容の検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewInvalidCredentialsError はログイン失敗エラーを生成する。
// アカウントの有無は区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewInvalidPasswordError は現在のパスワード不一致エラーを生成する。
func NewInvalidPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPassword,
		Message:  "現在のパスワードが正しくありません。",
		Category: "auth",
		Action:   "現在のパスワードを確認してください。",
	}
}

// NewEmailAlreadyRegisteredError はメールアドレス重複エラーを生成する。
func NewEmailAlreadyRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailAlreadyRegistered,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "account",
		Action:   "別のメールアドレスを使用するか、ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAlreadyLinkedError は既にパートナーと連携済みの場合のエラーを生成する。
func NewAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyLinked,
		Message:  "既にパートナーと連携しています。",
		Category: "partner",
		Action:   "新しい申請を送る前に現在のパートナーとの連携を解除してください。",
	}
}

// NewRequestAlreadyPendingError は自分の申請が保留中の場合のエラーを生成する。
func NewRequestAlreadyPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeRequestAlreadyPending,
		Message:  "保留中のパートナー申請があります。",
		Category: "partner",
		Action:   "保留中の申請を承認・拒否・取り消ししてから再度お試しください。",
	}
}

// NewInvalidTargetError は自分自身への申請エラーを生成する。
func NewInvalidTargetError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTarget,
		Message:  "自分自身にパートナー申請を送ることはできません。",
		Category: "partner",
		Action:   "相手のメールアドレスを入力してください。",
	}
}

// NewTargetNotFoundError は申請先アカウントが見つからない場合のエラーを生成する。
func NewTargetNotFoundError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeTargetNotFound,
		Message:  fmt.Sprintf("指定されたメールアドレスのユーザーが見つかりません: %s", email),
		Category: "partner",
		Action:   "メールアドレスを確認してください。",
	}
}

// NewTargetAlreadyLinkedError は申請先が既に連携済みの場合のエラーを生成する。
func NewTargetAlreadyLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeTargetAlreadyLinked,
		Message:  "このユーザーは既に別のパートナーと連携しています。",
		Category: "partner",
		Action:   "別のユーザーを指定してください。",
	}
}

// NewTargetRequestPendingError は申請先に保留中の申請がある場合のエラーを生成する。
func NewTargetRequestPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeTargetRequestPending,
		Message:  "このユーザーには保留中のパートナー申請があります。",
		Category: "partner",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoPendingRequestError は操作対象の保留中申請がない場合のエラーを生成する。
func NewNoPendingRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeNoPendingRequest,
		Message:  "保留中のパートナー申請がありません。",
		Category: "partner",
		Action:   "パートナー状態を再読み込みしてください。",
	}
}

// NewNotLinkedError は連携解除対象のパートナーがいない場合のエラーを生成する。
func NewNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotLinked,
		Message:  "連携中のパートナーがいません。",
		Category: "partner",
		Action:   "パートナー状態を再読み込みしてください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
