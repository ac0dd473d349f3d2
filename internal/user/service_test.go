package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/fintrack/internal/auth"
	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/partner"
	"github.com/hitoshi/fintrack/internal/repository"
	"github.com/hitoshi/fintrack/internal/security"
)

// --- モック ---

type mockRemover struct {
	deleteAccountFn func(ctx context.Context, accountID string) error
}

func (m *mockRemover) DeleteAccount(ctx context.Context, accountID string) error {
	return m.deleteAccountFn(ctx, accountID)
}

// --- ヘルパー ---

type fixture struct {
	repo   *repository.MemoryAccountRepo
	svc    *Service
	hasher *auth.PasswordHasher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := repository.NewMemoryAccountRepo()
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)
	svc := NewService(repo, partner.NewService(repo, nil), hasher, security.NewNameSanitizer())
	return &fixture{repo: repo, svc: svc, hasher: hasher}
}

func (f *fixture) account(t *testing.T, email string) *model.Account {
	t.Helper()
	hash, err := f.hasher.Hash("password123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	now := time.Now()
	a := &model.Account{
		ID:           uuid.NewString(),
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := f.repo.Create(context.Background(), a); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return a
}

func strPtr(s string) *string { return &s }

// --- テスト ---

func TestService_Profile(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "a@example.com")

	got, err := f.svc.Profile(context.Background(), a.ID)
	if err != nil || got.ID != a.ID {
		t.Fatalf("Profile = %+v, %v", got, err)
	}

	_, err = f.svc.Profile(context.Background(), uuid.NewString())
	if !model.IsErrorCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_UpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "a@example.com")
	f.account(t, "b@example.com")

	got, err := f.svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{
		Name:  strPtr(" <em>Alice</em> "),
		Email: strPtr("Alice@Example.com"),
	})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" {
		t.Errorf("updated = %q / %q", got.Name, got.Email)
	}

	// 空白のみの名前は無視される
	got, err = f.svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{Name: strPtr("   ")})
	if err != nil || got.Name != "Alice" {
		t.Errorf("blank name: %+v, %v", got, err)
	}

	_, err = f.svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{Email: strPtr("B@example.com")})
	if !model.IsErrorCode(err, model.ErrCodeEmailAlreadyRegistered) {
		t.Errorf("err = %v, want EMAIL_ALREADY_REGISTERED", err)
	}

	_, err = f.svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{Email: strPtr("broken")})
	if !model.IsErrorCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}

	_, err = f.svc.UpdateProfile(ctx, a.ID, UpdateProfileInput{Name: strPtr("X")})
	if !model.IsErrorCode(err, model.ErrCodeInvalidRequest) {
		t.Errorf("err = %v, want INVALID_REQUEST", err)
	}
}

func TestService_ChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "a@example.com")

	err := f.svc.ChangePassword(ctx, a.ID, "wrong-password", "newpassword123")
	if !model.IsErrorCode(err, model.ErrCodeInvalidPassword) {
		t.Fatalf("err = %v, want INVALID_PASSWORD", err)
	}

	err = f.svc.ChangePassword(ctx, a.ID, "password123", "short")
	if !model.IsErrorCode(err, model.ErrCodeInvalidRequest) {
		t.Fatalf("err = %v, want INVALID_REQUEST", err)
	}

	if err := f.svc.ChangePassword(ctx, a.ID, "password123", "newpassword123"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	stored, _ := f.repo.FindByID(ctx, a.ID)
	if ok, _ := f.hasher.Compare(stored.PasswordHash, "newpassword123"); !ok {
		t.Error("new password should match the stored hash")
	}
}

// TestService_Withdraw は退会時にパートナーのリンクが解除されることを検証する。
func TestService_Withdraw(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "a@example.com")
	b := f.account(t, "b@example.com")

	ps := partner.NewService(f.repo, nil)
	if _, err := ps.SendRequest(ctx, a.ID, "b@example.com"); err != nil {
		t.Fatalf("SendRequest failed: %v", err)
	}
	if _, err := ps.AcceptRequest(ctx, b.ID); err != nil {
		t.Fatalf("AcceptRequest failed: %v", err)
	}

	if err := f.svc.Withdraw(ctx, a.ID); err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}

	if got, _ := f.repo.FindByID(ctx, a.ID); got != nil {
		t.Error("account should be deleted")
	}
	got, _ := f.repo.FindByID(ctx, b.ID)
	if got.HasPartner() {
		t.Error("partner should be unlinked after withdraw")
	}
}

// TestService_Withdraw_Errors は削除失敗時のエラーの扱いを検証する。
func TestService_Withdraw_Errors(t *testing.T) {
	t.Run("not found is passed through", func(t *testing.T) {
		svc := NewService(nil, &mockRemover{
			deleteAccountFn: func(context.Context, string) error { return model.NewUserNotFoundError() },
		}, nil, nil)
		if err := svc.Withdraw(context.Background(), "x"); !model.IsErrorCode(err, model.ErrCodeUserNotFound) {
			t.Errorf("err = %v, want USER_NOT_FOUND", err)
		}
	})

	t.Run("infrastructure error is wrapped", func(t *testing.T) {
		dbErr := errors.New("db down")
		svc := NewService(nil, &mockRemover{
			deleteAccountFn: func(context.Context, string) error { return dbErr },
		}, nil, nil)
		err := svc.Withdraw(context.Background(), "x")
		if !errors.Is(err, dbErr) {
			t.Errorf("err = %v, want wrapped db error", err)
		}
	})
}
