package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/apperr"
	"github.com/smarttransit/booking-saga/internal/models"
	"github.com/smarttransit/booking-saga/pkg/clock"
)

// Decision is the buyer's answer to a price change: Resume or Abort
type Decision interface {
	decision()
}

// Resume accepts the new price and continues under a new attempt key
type Resume struct{}

// Abort declines the new price; nothing is persisted
type Abort struct{}

func (Resume) decision() {}
func (Abort) decision() {}

// Resolution is the outcome of Resolve
type Resolution struct {
	Aborted        bool
	IdempotencyKey string
	ValidatedOffer *models.ValidatedOffer
}

// PriceChangeNegotiator holds an attempt paused on a price change until the buyer decides
type PriceChangeNegotiator struct {
	store  QuoteStore
	issuer *IdempotencyKeyIssuer
	clock  clock.Clock
	logger *logrus.Logger
}

// NewPriceChangeNegotiator creates a PriceChangeNegotiator
func NewPriceChangeNegotiator(store QuoteStore, issuer *IdempotencyKeyIssuer, clk clock.Clock, logger *logrus.Logger) *PriceChangeNegotiator {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &PriceChangeNegotiator{store: store, issuer: issuer, clock: clk, logger: logger}
}

// Suspend records that the attempt under key is waiting on a price decision.
// Any offer validated earlier under key is dropped so the old price cannot be booked.
func (n *PriceChangeNegotiator) Suspend(ctx context.Context, key string, old, updated models.ValidatedOffer) error {
	if err := n.store.DeleteValidated(ctx, key); err != nil {
		return fmt.Errorf("failed to drop superseded offer: %w", err)
	}
	err := n.store.SaveSuspension(ctx, key, PriceSuspension{Old: old, New: updated, SuspendedAt: n.clock.Now()})
	if err != nil {
		return fmt.Errorf("failed to suspend attempt: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"idempotency_key": key,
		"old_price":       old.Price.String(),
		"new_price":       updated.Price.String(),
	}).Info("Attempt suspended on price change")
	return nil
}

// Resolve applies the buyer's decision to a suspended attempt.
// Resume mints a new key so the old key's state cannot leak into the new attempt.
func (n *PriceChangeNegotiator) Resolve(ctx context.Context, key string, d Decision) (*Resolution, error) {
	sus, err := n.store.GetSuspension(ctx, key)
	if err != nil {
		return nil, err
	}
	if sus == nil {
		return nil, fmt.Errorf("%w: no price change pending for this attempt", apperr.ErrNotFound)
	}

	switch d.(type) {
	case Resume:
		if sus.New.IsExpired(n.clock.Now()) {
			if err := n.store.DeleteSuspension(ctx, key); err != nil {
				return nil, err
			}
			return nil, apperr.ErrHoldExpired
		}

		newKey := n.issuer.Issue()
		offer := sus.New
		if err := n.store.SaveValidated(ctx, newKey, offer); err != nil {
			return nil, fmt.Errorf("failed to record accepted offer: %w", err)
		}
		if err := n.store.DeleteSuspension(ctx, key); err != nil {
			return nil, err
		}

		n.logger.WithFields(logrus.Fields{
			"old_key":   key,
			"new_key":   newKey,
			"new_price": offer.Price.String(),
		}).Info("Price change accepted")
		return &Resolution{IdempotencyKey: newKey, ValidatedOffer: &offer}, nil

	case Abort:
		if err := n.store.DeleteSuspension(ctx, key); err != nil {
			return nil, err
		}
		n.logger.WithField("idempotency_key", key).Info("Price change rejected")
		return &Resolution{Aborted: true}, nil

	default:
		return nil, fmt.Errorf("unknown price change decision %T", d)
	}
}
