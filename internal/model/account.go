// Package model はドメインモデルを定義する。
package model

import "time"

// Account はサービス利用アカウントを表す。
// パートナー関連の3フィールドは partner パッケージの遷移でのみ更新される。
type Account struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Enabled      bool

	// PartnerID はリンク済みパートナーのID。相手側も必ず自分を指す。
	PartnerID *string
	// PartnerRequestSentTo は自分が申請を送った相手のID。
	PartnerRequestSentTo *string
	// PartnerRequestReceivedFrom は自分に申請を送ってきた相手のID。
	PartnerRequestReceivedFrom *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPartner はパートナーとリンク済みかどうかを返す。
func (a *Account) HasPartner() bool {
	return a.PartnerID != nil
}

// HasPendingRequest は送信・受信いずれかの申請が保留中かどうかを返す。
func (a *Account) HasPendingRequest() bool {
	return a.PartnerRequestSentTo != nil || a.PartnerRequestReceivedFrom != nil
}

// PartnerState はアカウントのパートナー状態を返す。
func (a *Account) PartnerState() PartnerState {
	switch {
	case a.PartnerID != nil:
		return PartnerStateLinked
	case a.PartnerRequestSentTo != nil:
		return PartnerStateRequestSent
	case a.PartnerRequestReceivedFrom != nil:
		return PartnerStateRequestReceived
	default:
		return PartnerStateUnlinked
	}
}

// Clone はポインタフィールドも含めたディープコピーを返す。
func (a *Account) Clone() *Account {
	c := *a
	c.PartnerID = cloneID(a.PartnerID)
	c.PartnerRequestSentTo = cloneID(a.PartnerRequestSentTo)
	c.PartnerRequestReceivedFrom = cloneID(a.PartnerRequestReceivedFrom)
	return &c
}

func cloneID(id *string) *string {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

// IDRef はIDのポインタを返す。パートナー関連フィールドへの代入用。
func IDRef(id string) *string {
	return &id
}
