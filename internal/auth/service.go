// Package auth はアカウント登録、パスワードログイン、アクセストークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/repository"
)

// 成功時のメッセージ
const (
	MessageRegistered = "User registered successfully"
	MessageLoggedIn   = "Login successful"
)

// TokenType はレスポンスで返すトークン種別。
const TokenType = "Bearer"

// AccountStore は認証に必要なアカウント操作。
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	Create(ctx context.Context, account *model.Account) error
}

// NameSanitizer は表示名を無害化するインターフェース。
type NameSanitizer interface {
	SanitizeName(name string) string
}

// Recorder は認証まわりのメトリクス記録インターフェース。
type Recorder interface {
	RecordAccountRegistered()
	RecordLoginFailure()
}

type nopRecorder struct{}

func (nopRecorder) RecordAccountRegistered() {}
func (nopRecorder) RecordLoginFailure()      {}

// RegisterInput はアカウント登録の入力。
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// TokenResult はトークン発行結果。
type TokenResult struct {
	Token     string
	Type      string
	ExpiresAt time.Time
	Account   *model.Account
	Message   string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	accounts  AccountStore
	tokens    *TokenManager
	hasher    *PasswordHasher
	sanitizer NameSanitizer
	recorder  Recorder
}

// NewService はServiceを生成する。sanitizerとrecorderはnilでもよい。
func NewService(
	accounts AccountStore,
	tokens *TokenManager,
	hasher *PasswordHasher,
	sanitizer NameSanitizer,
	recorder Recorder,
) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		accounts:  accounts,
		tokens:    tokens,
		hasher:    hasher,
		sanitizer: sanitizer,
		recorder:  recorder,
	}
}

// Register はアカウントを作成し、アクセストークンを発行する。
// メールアドレスは小文字に正規化して保存する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*TokenResult, error) {
	name := strings.TrimSpace(in.Name)
	if s.sanitizer != nil {
		name = s.sanitizer.SanitizeName(name)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	email := NormalizeEmail(in.Email)

	existing, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("アカウントの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailAlreadyRegisteredError()
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	account := &model.Account{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}

	s.recorder.RecordAccountRegistered()
	slog.Info("new account registered",
		slog.String("account_id", account.ID),
	)

	return s.issue(account, MessageRegistered)
}

// Login はメールアドレスとパスワードで認証し、アクセストークンを発行する。
// アカウントの有無や無効化状態は呼び出し側に区別させない。
func (s *Service) Login(ctx context.Context, email, password string) (*TokenResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, model.NewValidationError("メールアドレスとパスワードは必須です")
	}

	account, err := s.accounts.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("アカウントの検索に失敗しました: %w", err)
	}
	if account == nil || !account.Enabled {
		return nil, s.loginFailed("unknown_or_disabled", account)
	}

	ok, err := s.hasher.Compare(account.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.loginFailed("password_mismatch", account)
	}

	slog.Info("account logged in",
		slog.String("account_id", account.ID),
	)
	return s.issue(account, MessageLoggedIn)
}

// ValidateToken はトークンが有効で、かつアカウントが存在するかを返す。
func (s *Service) ValidateToken(ctx context.Context, token string) (bool, error) {
	accountID, err := s.tokens.ParseToken(token)
	if err != nil {
		return false, nil
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return false, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	return account != nil && account.Enabled, nil
}

// ParseToken はトークンを検証してアカウントIDを返す。認証ミドルウェアから使用する。
func (s *Service) ParseToken(token string) (string, error) {
	return s.tokens.ParseToken(token)
}

func (s *Service) issue(account *model.Account, message string) (*TokenResult, error) {
	token, expiresAt, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, fmt.Errorf("トークンの発行に失敗しました: %w", err)
	}
	return &TokenResult{
		Token:     token,
		Type:      TokenType,
		ExpiresAt: expiresAt,
		Account:   account,
		Message:   message,
	}, nil
}

func (s *Service) loginFailed(reason string, account *model.Account) error {
	s.recorder.RecordLoginFailure()
	attrs := []any{slog.String("reason", reason)}
	if account != nil {
		attrs = append(attrs, slog.String("account_id", account.ID))
	}
	slog.Warn("login failed", attrs...)
	return model.NewInvalidCredentialsError()
}
