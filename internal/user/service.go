// Package user はプロフィール管理と退会処理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/fintrack/internal/auth"
	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/repository"
)

// AccountStore はプロフィール管理に必要なアカウント操作。
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*model.Account, error)
	FindByEmail(ctx context.Context, email string) (*model.Account, error)
	UpdateProfile(ctx context.Context, account *model.Account) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// AccountRemover はパートナー連携を解いたうえでアカウントを削除するインターフェース。
type AccountRemover interface {
	DeleteAccount(ctx context.Context, accountID string) error
}

// UpdateProfileInput はプロフィール更新の入力。nilのフィールドは変更しない。
type UpdateProfileInput struct {
	Name  *string
	Email *string
}

// Service はユーザー管理のサービス層。
type Service struct {
	accounts  AccountStore
	remover   AccountRemover
	hasher    *auth.PasswordHasher
	sanitizer auth.NameSanitizer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	accounts AccountStore,
	remover AccountRemover,
	hasher *auth.PasswordHasher,
	sanitizer auth.NameSanitizer,
) *Service {
	return &Service{
		accounts:  accounts,
		remover:   remover,
		hasher:    hasher,
		sanitizer: sanitizer,
	}
}

// Profile は指定アカウントのプロフィールを返す。
func (s *Service) Profile(ctx context.Context, accountID string) (*model.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewUserNotFoundError()
	}
	return account, nil
}

// UpdateProfile は名前とメールアドレスを更新する。
// 空白のみの名前は無視し、メールアドレスは変更がある場合のみ重複を確認する。
func (s *Service) UpdateProfile(ctx context.Context, accountID string, in UpdateProfileInput) (*model.Account, error) {
	account, err := s.Profile(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil && strings.TrimSpace(*in.Name) != "" {
		name := strings.TrimSpace(*in.Name)
		if s.sanitizer != nil {
			name = s.sanitizer.SanitizeName(name)
		}
		if err := auth.ValidateName(name); err != nil {
			return nil, err
		}
		account.Name = name
	}

	if in.Email != nil {
		if err := auth.ValidateEmail(*in.Email); err != nil {
			return nil, err
		}
		email := auth.NormalizeEmail(*in.Email)
		if email != account.Email {
			other, err := s.accounts.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("アカウントの検索に失敗しました: %w", err)
			}
			if other != nil && other.ID != account.ID {
				return nil, model.NewEmailAlreadyRegisteredError()
			}
			account.Email = email
		}
	}

	if err := s.accounts.UpdateProfile(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailAlreadyRegisteredError()
		}
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("account_id", account.ID),
	)
	return account, nil
}

// ChangePassword は現在のパスワードを確認してから新しいパスワードに変更する。
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return model.NewValidationError("現在のパスワードは必須です")
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}

	account, err := s.Profile(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := s.hasher.Compare(account.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		slog.Warn("パスワード変更に失敗しました: 現在のパスワードが一致しません",
			slog.String("account_id", accountID),
		)
		return model.NewInvalidPasswordError()
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, accountID, hash); err != nil {
		return fmt.Errorf("パスワードの更新に失敗しました: %w", err)
	}

	slog.Info("パスワードを変更しました",
		slog.String("account_id", accountID),
	)
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// パートナーとのリンク、送受信中の申請は削除と同じトランザクションで相手側からも取り除かれる。
func (s *Service) Withdraw(ctx context.Context, accountID string) error {
	slog.Info("退会処理を開始します",
		slog.String("account_id", accountID),
	)

	if err := s.remover.DeleteAccount(ctx, accountID); err != nil {
		if model.ErrorCode(err) != "" {
			return err
		}
		return fmt.Errorf("アカウントの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("account_id", accountID),
	)
	return nil
}
