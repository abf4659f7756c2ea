// Package apperr はサービス共通のエラー分類を提供する。
//
// 認可エラー、入力検証エラー、存在しないリソースへのアクセス、
// 通知配信エラーの4種類を型として表現し、HTTPステータスへの
// 対応付けを一箇所にまとめる。
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthReason は認可エラーの理由を表す。
type AuthReason string

const (
	// InvalidKey はテナントキーに一致するテナントが存在しないことを表す。
	InvalidKey AuthReason = "InvalidKey"
	// InsufficientRole は操作ユーザーがadminロールを持たないことを表す。
	InsufficientRole AuthReason = "InsufficientRole"
)

// AuthError はテナントキーまたはロールによる認可の失敗。
type AuthError struct {
	// Reason は認可に失敗した理由。
	Reason AuthReason
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("認可エラー: %s", e.Reason)
}

// ValidationReason は入力検証エラーの理由を表す。
type ValidationReason string

const (
	// MissingField は必須項目の欠落または列挙値の範囲外を表す。
	MissingField ValidationReason = "MissingField"
	// CrossTenantUser は別テナントに属するユーザーが指定されたことを表す。
	CrossTenantUser ValidationReason = "CrossTenantUser"
	// DuplicateIdentity はユーザー名やメールアドレスの重複を表す。
	DuplicateIdentity ValidationReason = "DuplicateIdentity"
)

// ValidationError はリクエスト内容の検証エラー。
type ValidationError struct {
	// Reason は検証に失敗した理由。
	Reason ValidationReason
	// Field は問題のあった項目名。特定できない場合は空。
	Field string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("検証エラー: %s", e.Reason)
	}
	return fmt.Sprintf("検証エラー: %s (%s)", e.Reason, e.Field)
}

// NotFoundReason は対象が存在しない理由を表す。
type NotFoundReason string

const (
	// UnknownTenant はテナントが存在しないことを表す。
	UnknownTenant NotFoundReason = "UnknownTenant"
	// UnknownRecipient は通知サービスに受信者が登録されていないことを表す。
	UnknownRecipient NotFoundReason = "UnknownRecipient"
	// UnknownUser はユーザーが存在しないことを表す。
	UnknownUser NotFoundReason = "UnknownUser"
)

// NotFoundError は参照先が存在しないことを表すエラー。
type NotFoundError struct {
	// Reason は存在しなかった対象の種類。
	Reason NotFoundReason
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("対象が見つかりません: %s", e.Reason)
}

// DeliveryReason は通知配信エラーの理由を表す。
type DeliveryReason string

const (
	// Timeout は配信呼び出しがタイムアウトしたことを表す。
	Timeout DeliveryReason = "Timeout"
	// Unreachable は配信先に接続できなかったことを表す。
	Unreachable DeliveryReason = "Unreachable"
	// NonSuccessResponse は配信先が2xx以外を返したことを表す。
	NonSuccessResponse DeliveryReason = "NonSuccessResponse"
)

// DeliveryError は受信者1人への通知配信の失敗。
// ディスパッチャー内部でのみ扱い、アラーム発報の呼び出し元には返さない。
type DeliveryError struct {
	// Reason は配信に失敗した理由。
	Reason DeliveryReason
	// RecipientID は配信先の受信者ID。
	RecipientID int64
	// Err は元になったエラー。
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("配信エラー: recipient=%d, reason=%s: %v", e.RecipientID, e.Reason, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// NewAuth はAuthErrorを生成する。
func NewAuth(reason AuthReason) error {
	return &AuthError{Reason: reason}
}

// NewValidation はValidationErrorを生成する。
func NewValidation(reason ValidationReason, field string) error {
	return &ValidationError{Reason: reason, Field: field}
}

// NewNotFound はNotFoundErrorを生成する。
func NewNotFound(reason NotFoundReason) error {
	return &NotFoundError{Reason: reason}
}

// HTTPStatus はエラーに対応するHTTPステータスコードを返す。
// 分類に該当しないエラーは500として扱う。
func HTTPStatus(err error) int {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return http.StatusForbidden
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		switch validationErr.Reason {
		case CrossTenantUser:
			return http.StatusForbidden
		case DuplicateIdentity:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	}

	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return http.StatusNotFound
	}

	return http.StatusInternalServerError
}

// IsReason はエラーが指定した理由を持つ分類済みエラーかどうかを判定する。
func IsReason[T ~string](err error, reason T) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) && string(authErr.Reason) == string(reason) {
		return true
	}
	var validationErr *ValidationError
	if errors.As(err, &validationErr) && string(validationErr.Reason) == string(reason) {
		return true
	}
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) && string(notFoundErr.Reason) == string(reason) {
		return true
	}
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr) && string(deliveryErr.Reason) == string(reason)
}
