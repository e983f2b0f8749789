package clients

import (
	"context"

	"github.com/rs/zerolog/log"
)

// CreditCheck is the external service streaming credit status changes for subscribed clients
type CreditCheck interface {
	Subscribe(ctx context.Context, clientID string) error
	Unsubscribe(ctx context.Context, clientID string) error
}

// StubCreditCheck accepts every request and only logs it
type StubCreditCheck struct{}

func (StubCreditCheck) Subscribe(ctx context.Context, clientID string) error {
	log.Info().Str("component", "credit_check").Str("client_id", clientID).Msg("credit check subscribed")
	return nil
}

func (StubCreditCheck) Unsubscribe(ctx context.Context, clientID string) error {
	log.Info().Str("component", "credit_check").Str("client_id", clientID).Msg("credit check unsubscribed")
	return nil
}
