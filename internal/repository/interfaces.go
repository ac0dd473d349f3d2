// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/fintrack/internal/model"
)

// ErrDuplicateEmail はメールアドレスの一意制約違反を表す。
var ErrDuplicateEmail = errors.New("email already exists")

// AccountRepository はアカウントデータの永続化インターフェース。
type AccountRepository interface {
	// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でアカウントを検索する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// Create はアカウントを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, account *model.Account) error

	// UpdateProfile は名前とメールアドレスを更新する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	UpdateProfile(ctx context.Context, account *model.Account) error

	// UpdatePassword はパスワードハッシュを更新する。
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	TxRunner
}

// TxRunner はアカウント行に対するトランザクションを実行するインターフェース。
type TxRunner interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがnilを返した場合のみコミットし、それ以外はロールバックする。
	WithinTx(ctx context.Context, fn func(tx AccountTx) error) error
}

// AccountTx はトランザクション内で使用するアカウント操作。
// パートナー連携の状態遷移はこのインターフェース経由でのみ行う。
type AccountTx interface {
	// FindByID はロックを取らずにアカウントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Account, error)

	// FindByEmail はロックを取らずにメールアドレスでアカウントを検索する。
	FindByEmail(ctx context.Context, email string) (*model.Account, error)

	// LockByIDs は指定IDの行をID昇順で排他ロックし、最新の状態を返す。
	// 存在しないIDは結果のマップに含まれない。
	LockByIDs(ctx context.Context, ids ...string) (map[string]*model.Account, error)

	// UpdatePartnership はパートナー関連の3フィールドを更新する。
	UpdatePartnership(ctx context.Context, account *model.Account) error

	// DeleteByID は指定IDのアカウントを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// HealthChecker はストレージの疎通確認インターフェース。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}
