package presentation

import (
	"context"

	"oneiro-bot/internal/domain"
	"oneiro-bot/internal/usecase/entitlement"
)

// Unlocked итог открытия вместе с пересчитанным представлением.
type Unlocked struct {
	Outcome entitlement.UnlockOutcome
	View    View
}

// Presenter связывает гейт доступа и представление.
type Presenter struct{}

// Unlock передаёт решение гейту и сразу пересчитывает представление.
func (Presenter) Unlock(ctx context.Context, gate *entitlement.Gate, reading Reading, product domain.Product) (Unlocked, error) {
	outcome, err := gate.Unlock(ctx, product)
	if err != nil {
		return Unlocked{View: BuildView(reading.Result, gate.State())}, err
	}
	return Unlocked{Outcome: outcome, View: BuildView(reading.Result, gate.State())}, nil
}

// Confirm применяет статус оплаты и пересчитывает представление.
func (Presenter) Confirm(gate *entitlement.Gate, reading Reading, invoiceID string, status domain.PaymentStatus) (View, error) {
	err := gate.ConfirmPayment(invoiceID, status)
	return BuildView(reading.Result, gate.State()), err
}
