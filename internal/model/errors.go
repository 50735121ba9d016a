// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// 利用者向けの文言はチャンネルの視聴者に合わせてポルトガル語で返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotSignedIn         = "NOT_SIGNED_IN"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidCredentials  = "INVALID_CREDENTIALS"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeInvalidTier         = "INVALID_TIER"
	ErrCodeOAuthStateMismatch  = "OAUTH_STATE_MISMATCH"
	ErrCodeUnsupportedProvider = "UNSUPPORTED_PROVIDER"
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeCSRF                = "CSRF_FAILED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeSignOutFailed       = "SIGN_OUT_FAILED"
	ErrCodeLinkRequiresSignIn  = "LINK_REQUIRES_SIGN_IN"
)

// NewNotSignedInError は未ログインエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "Você precisa estar logado.",
		Category: "auth",
		Action:   "Entre com seu e-mail ou conta Google.",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Acesso restrito a administradores.",
		Category: "auth",
		Action:   "Entre com uma conta de administrador.",
	}
}

// NewInvalidCredentialsError は認証情報不一致エラーを生成する。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "E-mail ou senha inválidos.",
		Category: "auth",
		Action:   "Confira seus dados e tente novamente.",
	}
}

// NewEmailTakenError はメールアドレス重複エラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "Este e-mail já está cadastrado.",
		Category: "auth",
		Action:   "Faça login ou use outro e-mail.",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Requisição inválida: %s", reason),
		Category: "validation",
		Action:   "Verifique os campos enviados.",
	}
}

// NewInvalidTierError は未知のティア指定エラーを生成する。
func NewInvalidTierError(tier string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTier,
		Message:  fmt.Sprintf("Nível de membro desconhecido: %s", tier),
		Category: "validation",
		Action:   "Use free, bronze, prata, ouro ou diamante.",
	}
}

// NewOAuthStateMismatchError はOAuth stateの検証失敗エラーを生成する。
func NewOAuthStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeOAuthStateMismatch,
		Message:  "Sessão de login expirada ou inválida.",
		Category: "auth",
		Action:   "Inicie o login com Google novamente.",
	}
}

// NewUnsupportedProviderError は未対応プロバイダーエラーを生成する。
func NewUnsupportedProviderError(provider string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedProvider,
		Message:  fmt.Sprintf("Provedor de login não suportado: %s", provider),
		Category: "validation",
		Action:   "Use o login com Google.",
	}
}

// NewAuthFailedError は認証処理の失敗エラーを生成する。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "Erro ao conectar com Google. Tente novamente.",
		Category: "auth",
		Action:   "Aguarde alguns instantes e tente novamente.",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRF,
		Message:  "Token de segurança inválido.",
		Category: "auth",
		Action:   "Recarregue a página e tente novamente.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Muitas requisições. Tente novamente mais tarde.",
		Category: "system",
		Action:   "Aguarde o tempo indicado e tente novamente.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Ocorreu um erro interno.",
		Category: "system",
		Action:   "Aguarde alguns instantes e tente novamente.",
	}
}

// NewSignOutFailedError はリモートのサインアウト失敗エラーを生成する。
// ローカルの状態はクリア済みであることを利用者に伝える。
func NewSignOutFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSignOutFailed,
		Message:  "Você saiu deste dispositivo, mas não foi possível encerrar a sessão no servidor.",
		Category: "system",
		Action:   "Se necessário, saia novamente mais tarde.",
	}
}

// NewLinkRequiresSignInError は既存アカウントへの自動連携を拒否したエラーを生成する。
func NewLinkRequiresSignInError() *APIError {
	return &APIError{
		Code:     ErrCodeLinkRequiresSignIn,
		Message:  "Já existe uma conta com este e-mail.",
		Category: "auth",
		Action:   "Entre com e-mail e senha e depois conecte sua conta Google.",
	}
}
