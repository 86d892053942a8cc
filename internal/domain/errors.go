package domain

import "errors"

var (
	// ErrValidation текст сна вне допустимых границ, запрос не уходит наружу.
	ErrValidation = errors.New("validation failed")
	// ErrCollaboratorUnavailable внешний сервис не сконфигурирован.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
	// ErrCollaboratorFailure внешний сервис ответил ошибкой или не ответил.
	ErrCollaboratorFailure = errors.New("collaborator failure")
	// ErrRateLimited превышен лимит внешнего сервиса.
	ErrRateLimited = errors.New("rate limited")
	// ErrTimeout сторожевой таймер сработал раньше результата.
	ErrTimeout = errors.New("interpretation timed out")
	// ErrSuperseded запуск отменён более новым запросом.
	ErrSuperseded = errors.New("superseded by a newer submission")

	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrUnknownInvoice      = errors.New("unknown invoice")
	ErrNothingToPay        = errors.New("nothing to pay for")
	ErrUnknownProduct      = errors.New("unknown product")
	ErrGuestPayment        = errors.New("guests cannot pay")

	ErrNoCredits           = errors.New("no free credits")
	ErrInvalidReferralCode = errors.New("invalid referral code")
	ErrAlreadyReferred     = errors.New("user already referred")
	ErrSelfReferral        = errors.New("self referral is not allowed")
	ErrReferrerNotFound    = errors.New("referrer not found")

	ErrNoResult        = errors.New("no interpretation in session")
	ErrNotSavable      = errors.New("result cannot be saved")
	ErrDuplicateAction = errors.New("duplicate action")

	ErrUserNotFound = errors.New("user not found")
)

// IsRetryable сообщает, стоит ли показывать пользователю кнопку повтора.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCollaboratorFailure) || errors.Is(err, ErrPaymentNotCompleted) || errors.Is(err, ErrTimeout)
}

var errorCodes = []struct {
	code string
	err  error
}{
	{"validation", ErrValidation},
	{"not_configured", ErrCollaboratorUnavailable},
	{"rate_limited", ErrRateLimited},
	{"unknown_product", ErrUnknownProduct},
	{"guest_payment", ErrGuestPayment},
	{"no_credits", ErrNoCredits},
	{"invalid_referral_code", ErrInvalidReferralCode},
	{"already_referred", ErrAlreadyReferred},
	{"self_referral", ErrSelfReferral},
	{"referrer_not_found", ErrReferrerNotFound},
	{"user_not_found", ErrUserNotFound},
}

// ErrorCode возвращает машинный код ошибки для ответа сервиса. Пустая строка для неизвестных.
func ErrorCode(err error) string {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return ""
}

// ErrorForCode обратное ErrorCode. nil для неизвестного кода.
func ErrorForCode(code string) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}
