package domain

import (
	"strconv"
	"strings"
)

const (
	// ReferralCodePrefix префикс реферального кода.
	ReferralCodePrefix = "ONEIRO-"
	// ReferralThreshold количество приглашённых для бесплатного прочтения.
	ReferralThreshold = 3
)

// ReferralProgress прогресс реферальной программы пользователя.
type ReferralProgress struct {
	ReferralCount     int `json:"referralCount"`
	FreeCreditsEarned int `json:"freeCreditsEarned"`
}

// ReferralOutcome ответ сервиса рефералов.
type ReferralOutcome struct {
	Success          bool `json:"success"`
	ReferralCount    int  `json:"referralCount"`
	FreeCreditEarned bool `json:"freeCreditEarned"`
}

// ReferralCodeFor возвращает код для известного пользователя.
func ReferralCodeFor(viewerID int64) string {
	return ReferralCodePrefix + strconv.FormatInt(viewerID, 10)
}

// ParseReferralCode проверяет формат ONEIRO-<suffix> и возвращает нормализованный код.
func ParseReferralCode(raw string) (string, bool) {
	code := strings.TrimSpace(raw)
	if !strings.HasPrefix(code, ReferralCodePrefix) {
		return "", false
	}
	if strings.TrimSpace(strings.TrimPrefix(code, ReferralCodePrefix)) == "" {
		return "", false
	}
	return code, true
}

// ReferralCredit описывает начисление кредита после нового приглашения.
type ReferralCredit struct {
	Count   int
	Credits int
	Granted bool
}

// CreditForReferralProgress применяет правило начисления к реферреру.
// Кредит выдаётся один раз за всё время, когда счётчик впервые достигает порога.
func CreditForReferralProgress(count, credits int, everGranted bool) ReferralCredit {
	next := count + 1
	out := ReferralCredit{Count: next, Credits: credits}
	if next >= ReferralThreshold && !everGranted {
		out.Credits = credits + 1
		out.Granted = true
	}
	return out
}
