package auth

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/fintrack/internal/model"
)

// 入力値の長さ制限
const (
	NameMinLength     = 2
	NameMaxLength     = 50
	PasswordMinLength = 8
	PasswordMaxLength = 100

	// passwordMaxBytes はbcryptが扱える入力の上限。
	passwordMaxBytes = 72
)

// NormalizeEmail は前後の空白を除き小文字にしたメールアドレスを返す。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateName は表示名の長さを検証する。
func ValidateName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n == 0 {
		return model.NewValidationError("名前は必須です")
	}
	if n < NameMinLength || n > NameMaxLength {
		return model.NewValidationError("名前は2文字以上50文字以下で入力してください")
	}
	return nil
}

// ValidateEmail はメールアドレスの形式を検証する。表示名付きの形式は受け付けない。
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("メールアドレスは必須です")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(addr.Address[strings.LastIndex(addr.Address, "@")+1:], ".") {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return nil
}

// ValidatePassword はパスワードの長さを検証する。
func ValidatePassword(password string) error {
	if password == "" {
		return model.NewValidationError("パスワードは必須です")
	}
	n := utf8.RuneCountInString(password)
	if n < PasswordMinLength || n > PasswordMaxLength {
		return model.NewValidationError("パスワードは8文字以上100文字以下で入力してください")
	}
	if len(password) > passwordMaxBytes {
		return model.NewValidationError("パスワードが長すぎます（72バイト以下）")
	}
	return nil
}
