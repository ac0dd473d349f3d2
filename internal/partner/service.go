// Package partner は2つのアカウント間のパートナー連携の状態遷移を提供する。
//
// 各操作は1つのトランザクションで、関係する行をID昇順にロックしてから事前条件を評価する。
// 同じペアに対する並行操作は直列化され、後続の操作は更新後の状態で評価される。
package partner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/fintrack/internal/model"
	"github.com/hitoshi/fintrack/internal/repository"
)

// Operation はパートナー連携の操作種別。ログとメトリクスのラベルに使う。
type Operation string

const (
	OpSendRequest   Operation = "send_request"
	OpMutualAccept  Operation = "mutual_accept"
	OpAccept        Operation = "accept"
	OpReject        Operation = "reject"
	OpCancel        Operation = "cancel"
	OpUnlink        Operation = "unlink"
	OpDeleteAccount Operation = "delete_account"
)

// 操作成功時のメッセージ
const (
	MessageRequestSent     = "Partner request sent successfully"
	MessageMutualAccepted  = "Partner request accepted! You are now connected."
	MessageRequestAccepted = "Partner request accepted successfully"
	MessageRequestRejected = "Partner request rejected successfully"
	MessageRequestCanceled = "Partner request canceled successfully"
	MessageUnlinked        = "Successfully unlinked from partner"
)

// Recorder はパートナー操作のメトリクス記録インターフェース。
type Recorder interface {
	RecordPartnerTransition(operation string)
	RecordPartnerRejection(operation, code string)
	RecordTransitionLatency(duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordPartnerTransition(string)        {}
func (nopRecorder) RecordPartnerRejection(string, string) {}
func (nopRecorder) RecordTransitionLatency(time.Duration) {}

// Service はパートナー連携のサービス層。
type Service struct {
	txRunner repository.TxRunner
	recorder Recorder
}

// NewService はServiceの新しいインスタンスを生成する。
// recorderがnilの場合はメトリクスを記録しない。
func NewService(txRunner repository.TxRunner, recorder Recorder) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{txRunner: txRunner, recorder: recorder}
}

// SendRequest はtargetEmailのアカウントにパートナー申請を送る。
//
// 相手が既に自分へ申請を送っている場合は、申請を作らずにその場で双方をリンクする。
// この場合、自分の受信中の申請は事前条件違反として扱わない。
func (s *Service) SendRequest(ctx context.Context, accountID, targetEmail string) (*model.PartnerResult, error) {
	email := strings.TrimSpace(targetEmail)
	if email == "" {
		return nil, s.rejected(OpSendRequest, accountID, model.NewValidationError("partnerEmail は必須です"))
	}

	var targetID string
	return s.run(ctx, accountID, transition{
		operation: OpSendRequest,
		resolve: func(ctx context.Context, tx repository.AccountTx, _ *model.Account) ([]string, error) {
			targetID = ""
			target, err := tx.FindByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("申請先アカウントの検索に失敗しました: %w", err)
			}
			if target == nil {
				return nil, nil
			}
			targetID = target.ID
			return []string{target.ID}, nil
		},
		apply: func(rows *lockedRows) (outcome, error) {
			cur := rows.current

			if cur.HasPartner() {
				return outcome{}, model.NewAlreadyLinkedError()
			}
			if cur.PartnerRequestSentTo != nil {
				return outcome{}, model.NewRequestAlreadyPendingError()
			}
			mutual := targetID != "" && refersTo(cur.PartnerRequestReceivedFrom, targetID)
			if cur.PartnerRequestReceivedFrom != nil && !mutual {
				return outcome{}, model.NewRequestAlreadyPendingError()
			}
			if strings.EqualFold(cur.Email, email) {
				return outcome{}, model.NewInvalidTargetError()
			}
			if targetID == "" {
				return outcome{}, model.NewTargetNotFoundError(email)
			}
			if targetID == cur.ID {
				return outcome{}, model.NewInvalidTargetError()
			}

			target, err := rows.counterpart(targetID)
			if err != nil {
				return outcome{}, err
			}
			if target == nil || !strings.EqualFold(target.Email, email) {
				// 解決後に削除またはメールアドレス変更された
				return outcome{}, errStale
			}
			if target.HasPartner() {
				return outcome{}, model.NewTargetAlreadyLinkedError()
			}

			if refersTo(target.PartnerRequestSentTo, cur.ID) {
				link(cur, target)
				rows.touch(cur, target)
				return outcome{operation: OpMutualAccept, message: MessageMutualAccepted, counterpartID: target.ID}, nil
			}
			if mutual {
				return outcome{}, fmt.Errorf("%w: %s does not point back to %s", ErrInconsistentState, target.ID, cur.ID)
			}
			if target.HasPendingRequest() {
				return outcome{}, model.NewTargetRequestPendingError()
			}

			cur.PartnerRequestSentTo = model.IDRef(target.ID)
			target.PartnerRequestReceivedFrom = model.IDRef(cur.ID)
			rows.touch(cur, target)
			return outcome{message: MessageRequestSent, counterpartID: target.ID}, nil
		},
	})
}

// AcceptRequest は受信中の申請を承認し、申請者とリンクする。
func (s *Service) AcceptRequest(ctx context.Context, accountID string) (*model.PartnerResult, error) {
	return s.run(ctx, accountID, transition{
		operation: OpAccept,
		resolve:   resolveReceivedFrom,
		apply: func(rows *lockedRows) (outcome, error) {
			cur, sender, err := incomingPair(rows)
			if err != nil {
				return outcome{}, err
			}

			cur.PartnerID = model.IDRef(sender.ID)
			cur.PartnerRequestReceivedFrom = nil
			sender.PartnerID = model.IDRef(cur.ID)
			sender.PartnerRequestSentTo = nil
			rows.touch(cur, sender)
			return outcome{message: MessageRequestAccepted, counterpartID: sender.ID}, nil
		},
	})
}

// RejectRequest は受信中の申請を拒否する。
func (s *Service) RejectRequest(ctx context.Context, accountID string) (*model.PartnerResult, error) {
	return s.run(ctx, accountID, transition{
		operation: OpReject,
		resolve:   resolveReceivedFrom,
		apply: func(rows *lockedRows) (outcome, error) {
			cur, sender, err := incomingPair(rows)
			if err != nil {
				return outcome{}, err
			}

			cur.PartnerRequestReceivedFrom = nil
			sender.PartnerRequestSentTo = nil
			rows.touch(cur, sender)
			return outcome{message: MessageRequestRejected, counterpartID: sender.ID}, nil
		},
	})
}

// CancelRequest は送信中の申請を取り消す。
func (s *Service) CancelRequest(ctx context.Context, accountID string) (*model.PartnerResult, error) {
	return s.run(ctx, accountID, transition{
		operation: OpCancel,
		resolve: func(_ context.Context, _ repository.AccountTx, cur *model.Account) ([]string, error) {
			return optionalIDs(cur.PartnerRequestSentTo), nil
		},
		apply: func(rows *lockedRows) (outcome, error) {
			cur := rows.current
			if cur.PartnerRequestSentTo == nil {
				return outcome{}, model.NewNoPendingRequestError()
			}
			target, err := rows.requireCounterpart(*cur.PartnerRequestSentTo)
			if err != nil {
				return outcome{}, err
			}
			if !refersTo(target.PartnerRequestReceivedFrom, cur.ID) {
				return outcome{}, fmt.Errorf("%w: %s has no request from %s", ErrInconsistentState, target.ID, cur.ID)
			}

			cur.PartnerRequestSentTo = nil
			target.PartnerRequestReceivedFrom = nil
			rows.touch(cur, target)
			return outcome{message: MessageRequestCanceled, counterpartID: target.ID}, nil
		},
	})
}

// Unlink はパートナーとのリンクを解除する。共有データには触れない。
func (s *Service) Unlink(ctx context.Context, accountID string) (*model.PartnerResult, error) {
	return s.run(ctx, accountID, transition{
		operation: OpUnlink,
		resolve: func(_ context.Context, _ repository.AccountTx, cur *model.Account) ([]string, error) {
			return optionalIDs(cur.PartnerID), nil
		},
		apply: func(rows *lockedRows) (outcome, error) {
			cur := rows.current
			if cur.PartnerID == nil {
				return outcome{}, model.NewNotLinkedError()
			}
			partner, err := rows.requireCounterpart(*cur.PartnerID)
			if err != nil {
				return outcome{}, err
			}
			if !refersTo(partner.PartnerID, cur.ID) {
				return outcome{}, fmt.Errorf("%w: %s is not linked to %s", ErrInconsistentState, partner.ID, cur.ID)
			}

			cur.PartnerID = nil
			partner.PartnerID = nil
			rows.touch(cur, partner)
			return outcome{message: MessageUnlinked, counterpartID: partner.ID}, nil
		},
	})
}

// DeleteAccount はアカウントを削除する。
// 同じトランザクションで、パートナーのリンクと送受信中の申請を相手側からも取り除く。
func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := s.run(ctx, accountID, transition{
		operation: OpDeleteAccount,
		resolve: func(_ context.Context, _ repository.AccountTx, cur *model.Account) ([]string, error) {
			ids := optionalIDs(cur.PartnerID)
			ids = append(ids, optionalIDs(cur.PartnerRequestSentTo)...)
			ids = append(ids, optionalIDs(cur.PartnerRequestReceivedFrom)...)
			return ids, nil
		},
		apply: func(rows *lockedRows) (outcome, error) {
			cur := rows.current
			var done outcome

			if cur.PartnerID != nil {
				partner, err := rows.counterpart(*cur.PartnerID)
				if err != nil {
					return outcome{}, err
				}
				if partner != nil && refersTo(partner.PartnerID, cur.ID) {
					partner.PartnerID = nil
					rows.touch(partner)
					done.counterpartID = partner.ID
				}
			}
			if cur.PartnerRequestSentTo != nil {
				target, err := rows.counterpart(*cur.PartnerRequestSentTo)
				if err != nil {
					return outcome{}, err
				}
				if target != nil && refersTo(target.PartnerRequestReceivedFrom, cur.ID) {
					target.PartnerRequestReceivedFrom = nil
					rows.touch(target)
				}
			}
			if cur.PartnerRequestReceivedFrom != nil {
				sender, err := rows.counterpart(*cur.PartnerRequestReceivedFrom)
				if err != nil {
					return outcome{}, err
				}
				if sender != nil && refersTo(sender.PartnerRequestSentTo, cur.ID) {
					sender.PartnerRequestSentTo = nil
					rows.touch(sender)
				}
			}

			rows.deleteCurrent = true
			return done, nil
		},
	})
	return err
}

// Status は現在のパートナー状態を返す。
func (s *Service) Status(ctx context.Context, accountID string) (*model.PartnerStatus, error) {
	var status model.PartnerStatus
	err := s.txRunner.WithinTx(ctx, func(tx repository.AccountTx) error {
		cur, err := tx.FindByID(ctx, accountID)
		if err != nil {
			return fmt.Errorf("アカウントの取得に失敗しました: %w", err)
		}
		if cur == nil {
			return model.NewUserNotFoundError()
		}
		status, err = buildStatus(cur, func(id string) (*model.Account, error) {
			return tx.FindByID(ctx, id)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// resolveReceivedFrom は受信中の申請の送信者IDを解決する。
func resolveReceivedFrom(_ context.Context, _ repository.AccountTx, cur *model.Account) ([]string, error) {
	return optionalIDs(cur.PartnerRequestReceivedFrom), nil
}

// incomingPair は受信中の申請について、自分と申請者のロック済みの行を返す。
func incomingPair(rows *lockedRows) (*model.Account, *model.Account, error) {
	cur := rows.current
	if cur.PartnerRequestReceivedFrom == nil {
		return nil, nil, model.NewNoPendingRequestError()
	}
	sender, err := rows.requireCounterpart(*cur.PartnerRequestReceivedFrom)
	if err != nil {
		return nil, nil, err
	}
	if !refersTo(sender.PartnerRequestSentTo, cur.ID) {
		return nil, nil, fmt.Errorf("%w: %s has no request to %s", ErrInconsistentState, sender.ID, cur.ID)
	}
	return cur, sender, nil
}

func optionalIDs(id *string) []string {
	if id == nil {
		return nil
	}
	return []string{*id}
}
