// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はユーザーが入力する表示名からHTMLタグを取り除く。
// 表示名はパートナー状態の応答で相手にも表示されるため、保存前に無害化する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizer は表示名のサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有してよい。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はすべてのタグを除去するポリシーでNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName はタグを除去し、連続する空白を1つにまとめた表示名を返す。
// エンティティはプレーンテキストに戻す。JSONで返すため再エスケープは不要。
func (s *NameSanitizer) SanitizeName(name string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(name))
	return strings.Join(strings.Fields(stripped), " ")
}
