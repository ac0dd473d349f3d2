package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/fintrack/internal/model"
)

// MemoryAccountRepo はプロセス内メモリにアカウントを保持するリポジトリ。
// DATA_BACKEND=memory のローカル起動とテストで使用する。
//
// WithinTx は実行中ずっと単一のミューテックスを保持するため、トランザクションは直列化される。
// fn の中から MemoryAccountRepo 自身のメソッドを呼ぶとデッドロックする。
type MemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[string]*model.Account
}

// NewMemoryAccountRepo はMemoryAccountRepoを生成する。
func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{accounts: make(map[string]*model.Account)}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByID(_ context.Context, id string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.accounts[id]; ok {
		return a.Clone(), nil
	}
	return nil, nil
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *MemoryAccountRepo) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a := r.findByEmailLocked(email, nil); a != nil {
		return a.Clone(), nil
	}
	return nil, nil
}

// Create はアカウントを作成する。
func (r *MemoryAccountRepo) Create(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[account.ID]; ok {
		return fmt.Errorf("account already exists: %s", account.ID)
	}
	if r.findByEmailLocked(account.Email, nil) != nil {
		return ErrDuplicateEmail
	}
	r.accounts[account.ID] = account.Clone()
	return nil
}

// UpdateProfile は名前とメールアドレスを更新する。
func (r *MemoryAccountRepo) UpdateProfile(_ context.Context, account *model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[account.ID]
	if !ok {
		return fmt.Errorf("account not found: %s", account.ID)
	}
	if other := r.findByEmailLocked(account.Email, nil); other != nil && other.ID != account.ID {
		return ErrDuplicateEmail
	}
	account.UpdatedAt = time.Now()
	stored.Name = account.Name
	stored.Email = account.Email
	stored.UpdatedAt = account.UpdatedAt
	return nil
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *MemoryAccountRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.accounts[id]
	if !ok {
		return fmt.Errorf("account not found: %s", id)
	}
	stored.PasswordHash = passwordHash
	stored.UpdatedAt = time.Now()
	return nil
}

// WithinTx はfnを排他的に実行し、fnがnilを返した場合のみ書き込みを反映する。
func (r *MemoryAccountRepo) WithinTx(ctx context.Context, fn func(tx AccountTx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryAccountTx{
		repo:    r,
		staged:  make(map[string]*model.Account),
		deleted: make(map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id := range tx.deleted {
		delete(r.accounts, id)
	}
	for id, a := range tx.staged {
		r.accounts[id] = a
	}
	return nil
}

// PingContext は常に成功する。
func (r *MemoryAccountRepo) PingContext(ctx context.Context) error {
	return ctx.Err()
}

// Len は保持しているアカウント数を返す。
func (r *MemoryAccountRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// findByEmailLocked はr.muを保持した状態で呼び出す。
// visibleが指定された場合は、ステージ済みの内容を優先して判定する。
func (r *MemoryAccountRepo) findByEmailLocked(email string, visible func(id string) (*model.Account, bool)) *model.Account {
	email = strings.TrimSpace(email)
	ids := make([]string, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		a := r.accounts[id]
		if visible != nil {
			var ok bool
			if a, ok = visible(id); !ok {
				continue
			}
		}
		if strings.EqualFold(a.Email, email) {
			return a
		}
	}
	return nil
}

// memoryAccountTx はMemoryAccountRepoのトランザクション。
// 書き込みはstagedに溜め、コミット時にまとめて反映する。
type memoryAccountTx struct {
	repo    *MemoryAccountRepo
	staged  map[string]*model.Account
	deleted map[string]bool
}

// lookup はトランザクション内から見えるアカウントを返す。
func (t *memoryAccountTx) lookup(id string) (*model.Account, bool) {
	if t.deleted[id] {
		return nil, false
	}
	if a, ok := t.staged[id]; ok {
		return a, true
	}
	a, ok := t.repo.accounts[id]
	return a, ok
}

func (t *memoryAccountTx) FindByID(_ context.Context, id string) (*model.Account, error) {
	if a, ok := t.lookup(id); ok {
		return a.Clone(), nil
	}
	return nil, nil
}

func (t *memoryAccountTx) FindByEmail(_ context.Context, email string) (*model.Account, error) {
	if a := t.repo.findByEmailLocked(email, t.lookup); a != nil {
		return a.Clone(), nil
	}
	return nil, nil
}

// LockByIDs はトランザクション全体が排他されているため、現在の状態を返すだけでよい。
func (t *memoryAccountTx) LockByIDs(_ context.Context, ids ...string) (map[string]*model.Account, error) {
	result := make(map[string]*model.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.lookup(id); ok {
			result[id] = a.Clone()
		}
	}
	return result, nil
}

func (t *memoryAccountTx) UpdatePartnership(_ context.Context, account *model.Account) error {
	current, ok := t.lookup(account.ID)
	if !ok {
		return fmt.Errorf("account not found: %s", account.ID)
	}
	account.UpdatedAt = time.Now()

	next := current.Clone()
	next.PartnerID = account.PartnerID
	next.PartnerRequestSentTo = account.PartnerRequestSentTo
	next.PartnerRequestReceivedFrom = account.PartnerRequestReceivedFrom
	next.UpdatedAt = account.UpdatedAt
	t.staged[account.ID] = next.Clone()
	return nil
}

func (t *memoryAccountTx) DeleteByID(_ context.Context, id string) error {
	if _, ok := t.lookup(id); !ok {
		return fmt.Errorf("account not found: %s", id)
	}
	delete(t.staged, id)
	t.deleted[id] = true
	return nil
}

// compile-time interface check
var (
	_ AccountRepository = (*MemoryAccountRepo)(nil)
	_ HealthChecker     = (*MemoryAccountRepo)(nil)
	_ AccountTx         = (*memoryAccountTx)(nil)
)
