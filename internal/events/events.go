package events

import (
	"context"
	"errors"

	"retailpos/backend/internal/domain"
)

// Publisher delivers stock events after the movements behind them have
// committed. Delivery is best effort; callers log failures and move on.
type Publisher interface {
	Publish(ctx context.Context, events []domain.StockEvent) error
}

type Noop struct{}

func (Noop) Publish(_ context.Context, _ []domain.StockEvent) error {
	return nil
}

// Multi fans every batch out to each publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, events []domain.StockEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func eventKey(e domain.StockEvent) string {
	return e.ProductID + ":" + e.LocationID
}
