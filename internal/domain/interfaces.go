package domain

import (
	"context"
	"time"
)

// User пользователь в реферальном реестре.
type User struct {
	TGUserID          int64
	ReferralCode      string
	ReferredBy        *int64
	ReferralCount     int
	FreeCreditsEarned int
	CreditGranted     bool
	FreeReadingsUsed  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Interpreter толкует сон. Возвращает ErrCollaboratorUnavailable, если не сконфигурирован.
type Interpreter interface {
	Interpret(ctx context.Context, submission DreamSubmission, viewer Viewer) (InterpretationResult, error)
}

// InvoiceIssuer выставляет счета через платёжного провайдера.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, product Product, viewerID int64) (Invoice, error)
}

// CreditLedger читает и списывает бесплатные прочтения.
type CreditLedger interface {
	Progress(ctx context.Context, viewerID int64) (ReferralProgress, error)
	ConsumeCredit(ctx context.Context, viewerID int64) (int, error)
}

// ReferralService засчитывает приглашения.
type ReferralService interface {
	ApplyReferral(ctx context.Context, viewerID int64, code string) (ReferralOutcome, error)
}

// ImageGenerator создаёт изображение по сну.
type ImageGenerator interface {
	Visualize(ctx context.Context, req VisualizationRequest) (Visualization, error)
}

// SymbolSource отдаёт символ дня.
type SymbolSource interface {
	DailySymbol(ctx context.Context, date string) (DailySymbol, error)
}

// JournalRepo хранит дневник снов.
type JournalRepo interface {
	AppendJournalEntry(ctx context.Context, entry JournalEntry) error
	ListJournal(ctx context.Context, viewerID int64, limit int) ([]JournalEntry, error)
}

// LedgerRepo хранит пользователей, приглашения и кредиты.
type LedgerRepo interface {
	EnsureUser(ctx context.Context, tgUserID int64) (User, bool, error)
	ApplyReferral(ctx context.Context, tgUserID int64, code string) (ReferralOutcome, error)
	ReferralProgress(ctx context.Context, tgUserID int64) (ReferralProgress, error)
	ConsumeCredit(ctx context.Context, tgUserID int64) (int, error)
}

// ReadingRepo учитывает прочтения для правила первого бесплатного.
type ReadingRepo interface {
	// RegisterReading увеличивает счётчик и возвращает true для первого прочтения пользователя.
	RegisterReading(ctx context.Context, tgUserID int64) (bool, error)
}

// PurchaseRepo хранит подтверждённые покупки.
type PurchaseRepo interface {
	RecordPurchase(ctx context.Context, purchase Purchase) (Purchase, bool, error)
	HasPurchase(ctx context.Context, tgUserID int64, product Product, since time.Time) (bool, error)
}

// DreamRepo сохраняет толкования на стороне сервиса интерпретации.
type DreamRepo interface {
	SaveDream(ctx context.Context, record DreamRecord) (int64, error)
}

// Cache используется для простых TTL-хранилищ.
type Cache interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// RateWindow скользящее окно лимитов.
type RateWindow interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
