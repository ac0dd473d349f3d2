package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/fintrack/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

const accountColumns = `id, name, email, password_hash, enabled,
	partner_id, partner_request_sent_to, partner_request_received_from,
	created_at, updated_at`

// queryer は*sql.DBと*sql.Txに共通するクエリ操作。
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowScanner は*sql.Rowと*sql.Rowsに共通するScan操作。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByID は指定IDのアカウントを取得する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return findAccountByID(ctx, r.db, id)
}

// FindByEmail はメールアドレスでアカウントを検索する。見つからない場合はnilを返す。
func (r *PostgresAccountRepo) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return findAccountByEmail(ctx, r.db, email)
}

// Create はアカウントを作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		account.ID, account.Name, account.Email, account.PasswordHash, account.Enabled,
		account.CreatedAt, account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// UpdateProfile は名前とメールアドレスを更新する。
func (r *PostgresAccountRepo) UpdateProfile(ctx context.Context, account *model.Account) error {
	account.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET name = $2, email = $3, updated_at = $4 WHERE id = $1`,
		account.ID, account.Name, account.Email, account.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to update account profile: %w", err)
	}
	return expectOneRow(result, account.ID)
}

// UpdatePassword はパスワードハッシュを更新する。
func (r *PostgresAccountRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return expectOneRow(result, id)
}

// WithinTx はfnを1つのトランザクション内で実行する。
func (r *PostgresAccountRepo) WithinTx(ctx context.Context, fn func(tx AccountTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&postgresAccountTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PingContext はデータベースへの疎通を確認する。
func (r *PostgresAccountRepo) PingContext(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// postgresAccountTx はトランザクション内のアカウント操作。
type postgresAccountTx struct {
	tx *sql.Tx
}

func (t *postgresAccountTx) FindByID(ctx context.Context, id string) (*model.Account, error) {
	return findAccountByID(ctx, t.tx, id)
}

func (t *postgresAccountTx) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return findAccountByEmail(ctx, t.tx, email)
}

// LockByIDs は指定IDの行をID昇順でSELECT ... FOR UPDATEする。
// 全トランザクションが同じ順序でロックを取るため、ペア間でデッドロックしない。
func (t *postgresAccountTx) LockByIDs(ctx context.Context, ids ...string) (map[string]*model.Account, error) {
	valid := uniqueUUIDs(ids)
	result := make(map[string]*model.Account, len(valid))
	if len(valid) == 0 {
		return result, nil
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = ANY($1::uuid[]) ORDER BY id FOR UPDATE`,
		pq.Array(valid),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan locked account: %w", err)
		}
		result[account.ID] = account
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate locked accounts: %w", err)
	}
	return result, nil
}

// UpdatePartnership はパートナー関連の3フィールドを更新する。
func (t *postgresAccountTx) UpdatePartnership(ctx context.Context, account *model.Account) error {
	account.UpdatedAt = time.Now()
	result, err := t.tx.ExecContext(ctx,
		`UPDATE users
		 SET partner_id = $2, partner_request_sent_to = $3, partner_request_received_from = $4, updated_at = $5
		 WHERE id = $1`,
		account.ID,
		nullableID(account.PartnerID),
		nullableID(account.PartnerRequestSentTo),
		nullableID(account.PartnerRequestReceivedFrom),
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update partnership: %w", err)
	}
	return expectOneRow(result, account.ID)
}

// DeleteByID は指定IDのアカウントを削除する。
func (t *postgresAccountTx) DeleteByID(ctx context.Context, id string) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return expectOneRow(result, id)
}

func findAccountByID(ctx context.Context, q queryer, id string) (*model.Account, error) {
	// uuid型カラムに不正な文字列を渡すとクエリ自体がエラーになるため、存在しない扱いにする
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	account, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by ID: %w", err)
	}
	return account, nil
}

func findAccountByEmail(ctx context.Context, q queryer, email string) (*model.Account, error) {
	account, err := scanAccount(q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM users WHERE lower(email) = lower($1)`,
		strings.TrimSpace(email),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}
	return account, nil
}

func scanAccount(s rowScanner) (*model.Account, error) {
	var (
		account                         model.Account
		partnerID, sentTo, receivedFrom sql.NullString
	)
	err := s.Scan(
		&account.ID, &account.Name, &account.Email, &account.PasswordHash, &account.Enabled,
		&partnerID, &sentTo, &receivedFrom,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.PartnerID = fromNullString(partnerID)
	account.PartnerRequestSentTo = fromNullString(sentTo)
	account.PartnerRequestReceivedFrom = fromNullString(receivedFrom)
	return &account, nil
}

// uniqueUUIDs は重複と不正なUUIDを除いたIDを昇順で返す。
func uniqueUUIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return model.IDRef(ns.String)
}

func nullableID(id *string) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *id, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

func expectOneRow(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("account not found: %s", id)
	}
	return nil
}

// compile-time interface check
var (
	_ AccountRepository = (*PostgresAccountRepo)(nil)
	_ HealthChecker     = (*PostgresAccountRepo)(nil)
	_ AccountTx         = (*postgresAccountTx)(nil)
)
