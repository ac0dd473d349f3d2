// Package model はドメインモデルを定義する。
package model

import "time"

// PartnerState はパートナー連携におけるアカウントの状態を表す。
type PartnerState string

const (
	// PartnerStateUnlinked は未連携・申請なしの状態。
	PartnerStateUnlinked PartnerState = "UNLINKED"
	// PartnerStateRequestSent は申請を送信し応答待ちの状態。
	PartnerStateRequestSent PartnerState = "REQUEST_SENT"
	// PartnerStateRequestReceived は申請を受信し応答待ちの状態。
	PartnerStateRequestReceived PartnerState = "REQUEST_RECEIVED"
	// PartnerStateLinked はパートナーと連携済みの状態。
	PartnerStateLinked PartnerState = "LINKED"
)

// PartnerInfo は相手アカウントの公開情報。
type PartnerInfo struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// PartnerStatus はアカウントのパートナー状態の射影。
// CurrentPartner と各申請が同時に設定されることはない。
type PartnerStatus struct {
	CurrentPartner    *PartnerInfo
	OutgoingRequest   *PartnerInfo
	IncomingRequest   *PartnerInfo
	HasPartner        bool
	HasPendingRequest bool
}

// PartnerResult は状態遷移の結果メッセージと遷移後のステータス。
type PartnerResult struct {
	Message string
	Status  PartnerStatus
}

// NewPartnerInfo はAccountから公開情報を生成する。aがnilの場合はnilを返す。
func NewPartnerInfo(a *Account) *PartnerInfo {
	if a == nil {
		return nil
	}
	return &PartnerInfo{
		ID:        a.ID,
		Name:      a.Name,
		Email:     a.Email,
		CreatedAt: a.CreatedAt,
	}
}
