package partner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/repository"
)

// maxAttempts はロック後に参照先が変わっていた場合の再試行上限。
const maxAttempts = 3

var (
	// ErrConcurrentUpdate はロック対象の再解決を繰り返しても状態が安定しなかったことを表す。
	ErrConcurrentUpdate = errors.New("partner state changed concurrently")

	// ErrInconsistentState は相手側の行が対称性を満たしていないことを表す。
	ErrInconsistentState = errors.New("partner state is inconsistent")

	// errStale はロック前に解決した参照先とロック後の参照先が異なることを表す。
	errStale = errors.New("resolved counterparts changed before lock")
)

// outcome は遷移の結果。
type outcome struct {
	operation     Operation
	message       string
	counterpartID string
}

// transition は1回のトランザクションで行う状態遷移。
type transition struct {
	operation Operation

	// resolve はロックを取らずに相手側のIDを解決する。
	resolve func(ctx context.Context, tx repository.AccountTx, current *model.Account) ([]string, error)

	// apply はロック済みの行で事前条件を評価し、行を書き換える。
	// エラーを返した場合は何も書き込まれない。
	apply func(rows *lockedRows) (outcome, error)
}

// lockedRows はトランザクション内でロック済みの行の集合。
type lockedRows struct {
	resolved      map[string]bool
	rows          map[string]*model.Account
	current       *model.Account
	touched       []*model.Account
	deleteCurrent bool
}

func newLockedRows(ids []string, rows map[string]*model.Account) *lockedRows {
	resolved := make(map[string]bool, len(ids))
	for _, id := range ids {
		resolved[id] = true
	}
	return &lockedRows{resolved: resolved, rows: rows}
}

// counterpart はロック済みの相手アカウントを返す。
// ロック前に解決していないIDの場合はerrStaleを返し、行が存在しない場合はnilを返す。
func (r *lockedRows) counterpart(id string) (*model.Account, error) {
	if !r.resolved[id] {
		return nil, errStale
	}
	return r.rows[id], nil
}

// requireCounterpart はcounterpartと同じだが、行が存在しない場合はErrInconsistentStateを返す。
func (r *lockedRows) requireCounterpart(id string) (*model.Account, error) {
	a, err := r.counterpart(id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: account %s is referenced but missing", ErrInconsistentState, id)
	}
	return a, nil
}

// touch は書き込み対象の行を記録する。
func (r *lockedRows) touch(accounts ...*model.Account) {
	for _, a := range accounts {
		seen := false
		for _, t := range r.touched {
			if t.ID == a.ID {
				seen = true
				break
			}
		}
		if !seen {
			r.touched = append(r.touched, a)
		}
	}
}

func (r *lockedRows) lookup(id string) (*model.Account, error) {
	return r.rows[id], nil
}

// run はtransitionを実行する。参照先がロック前後で変わっていた場合はトランザクションごと再試行する。
func (s *Service) run(ctx context.Context, accountID string, t transition) (*model.PartnerResult, error) {
	start := time.Now()
	defer func() {
		s.recorder.RecordTransitionLatency(time.Since(start))
	}()

	var (
		result *model.PartnerResult
		done   outcome
		err    error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = s.txRunner.WithinTx(ctx, func(tx repository.AccountTx) error {
			var txErr error
			result, done, txErr = s.attempt(ctx, tx, accountID, t)
			return txErr
		})
		if !errors.Is(err, errStale) {
			break
		}
		slog.Debug("ロック後に参照先が変わったため再試行します",
			slog.String("account_id", accountID),
			slog.String("operation", string(t.operation)),
			slog.Int("attempt", attempt),
		)
	}
	if errors.Is(err, errStale) {
		err = fmt.Errorf("%s: %w", t.operation, ErrConcurrentUpdate)
	}
	if err != nil {
		return nil, s.rejected(t.operation, accountID, err)
	}

	s.recorder.RecordPartnerTransition(string(done.operation))
	slog.Info("パートナー状態を更新しました",
		slog.String("account_id", accountID),
		slog.String("counterpart_id", done.counterpartID),
		slog.String("operation", string(done.operation)),
	)
	return result, nil
}

func (s *Service) attempt(ctx context.Context, tx repository.AccountTx, accountID string, t transition) (*model.PartnerResult, outcome, error) {
	current, err := tx.FindByID(ctx, accountID)
	if err != nil {
		return nil, outcome{}, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if current == nil {
		return nil, outcome{}, model.NewUserNotFoundError()
	}

	ids := []string{current.ID}
	if t.resolve != nil {
		extra, err := t.resolve(ctx, tx, current)
		if err != nil {
			return nil, outcome{}, err
		}
		ids = append(ids, extra...)
	}

	locked, err := tx.LockByIDs(ctx, ids...)
	if err != nil {
		return nil, outcome{}, fmt.Errorf("アカウントのロックに失敗しました: %w", err)
	}
	rows := newLockedRows(ids, locked)
	if rows.current = locked[accountID]; rows.current == nil {
		return nil, outcome{}, model.NewUserNotFoundError()
	}

	done, err := t.apply(rows)
	if err != nil {
		return nil, outcome{}, err
	}
	if done.operation == "" {
		done.operation = t.operation
	}

	for _, a := range rows.touched {
		if rows.deleteCurrent && a.ID == accountID {
			continue
		}
		if err := tx.UpdatePartnership(ctx, a); err != nil {
			return nil, outcome{}, fmt.Errorf("パートナー状態の更新に失敗しました: %w", err)
		}
	}

	if rows.deleteCurrent {
		if err := tx.DeleteByID(ctx, accountID); err != nil {
			return nil, outcome{}, fmt.Errorf("アカウントの削除に失敗しました: %w", err)
		}
		return nil, done, nil
	}

	status, err := buildStatus(rows.current, rows.lookup)
	if err != nil {
		return nil, outcome{}, err
	}
	return &model.PartnerResult{Message: done.message, Status: status}, done, nil
}

// rejected は失敗した遷移をログとメトリクスに記録して、そのままエラーを返す。
func (s *Service) rejected(op Operation, accountID string, err error) error {
	if code := model.ErrorCode(err); code != "" {
		s.recorder.RecordPartnerRejection(string(op), code)
		slog.Warn("パートナー操作の事前条件を満たしていません",
			slog.String("account_id", accountID),
			slog.String("operation", string(op)),
			slog.String("code", code),
		)
		return err
	}
	s.recorder.RecordPartnerRejection(string(op), model.ErrCodeInternal)
	slog.Error("パートナー操作に失敗しました",
		slog.String("account_id", accountID),
		slog.String("operation", string(op)),
		slog.String("error", err.Error()),
	)
	return err
}

// buildStatus は現在のアカウントから状態の投影を組み立てる。
// 参照先が見つからない場合、その項目はnilになる。
func buildStatus(current *model.Account, lookup func(id string) (*model.Account, error)) (model.PartnerStatus, error) {
	info := func(id *string) (*model.PartnerInfo, error) {
		if id == nil {
			return nil, nil
		}
		a, err := lookup(*id)
		if err != nil {
			return nil, fmt.Errorf("関連アカウントの取得に失敗しました: %w", err)
		}
		return model.NewPartnerInfo(a), nil
	}

	var (
		status model.PartnerStatus
		err    error
	)
	if status.CurrentPartner, err = info(current.PartnerID); err != nil {
		return model.PartnerStatus{}, err
	}
	if status.OutgoingRequest, err = info(current.PartnerRequestSentTo); err != nil {
		return model.PartnerStatus{}, err
	}
	if status.IncomingRequest, err = info(current.PartnerRequestReceivedFrom); err != nil {
		return model.PartnerStatus{}, err
	}
	status.HasPartner = current.HasPartner()
	status.HasPendingRequest = current.HasPendingRequest()
	return status, nil
}

// link は2つのアカウントをリンクし、双方の申請フィールドをすべてクリアする。
func link(a, b *model.Account) {
	a.PartnerID = model.IDRef(b.ID)
	a.PartnerRequestSentTo = nil
	a.PartnerRequestReceivedFrom = nil

	b.PartnerID = model.IDRef(a.ID)
	b.PartnerRequestSentTo = nil
	b.PartnerRequestReceivedFrom = nil
}

func refersTo(ref *string, id string) bool {
	return ref != nil && *ref == id
}
