// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はOAuthプロバイダーやサインアップで受け取った表示名を
// プレーンテキストに正規化する。bluemondayのStrictPolicyで全タグを除去し、
// エスケープされた実体参照は元の文字に戻す（出力側で改めてエスケープされる前提）。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数（rune数）。
const MaxNameLength = 100

// NameSanitizer は表示名の無害化を行う。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有してよい。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer は新しいNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeName は表示名からHTMLタグと制御文字を除去し、空白を1つにまとめて返す。
// MaxNameLengthを超える場合は切り詰める。空文字列の入力には空文字列を返す。
func (s *NameSanitizer) SanitizeName(name string) string {
	if name == "" {
		return ""
	}

	stripped := html.UnescapeString(s.policy.Sanitize(name))

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)

	cleaned = strings.Join(strings.Fields(cleaned), " ")

	runes := []rune(cleaned)
	if len(runes) > MaxNameLength {
		cleaned = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return cleaned
}
