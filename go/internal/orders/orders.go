// Package orders implements mission order submission with tiered group
// discounts and the affiliate earnings report.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/zaclabs/spawnsync/go/internal/identity"
	"github.com/zaclabs/spawnsync/go/internal/models"
	"github.com/zaclabs/spawnsync/go/internal/store"
)

// Collection is the store prefix holding orders.
const Collection = "orders"

// AffiliateCut is the affiliate's share of a completed sale.
const AffiliateCut = 0.1

// ErrInvalidOrder rejects submissions missing a player name or mission.
var ErrInvalidOrder = errors.New("orders: player name and mission are required")

// Mailer is the outbound email collaborator, notified after a successful
// submission. Failures are logged, never surfaced: email is best-effort.
type Mailer interface {
	OrderSubmitted(ctx context.Context, o models.Order) error
}

// Input is a submission before pricing.
type Input struct {
	Player       string
	Mission      string
	BasePrice    int
	PlayersCount int
	Affiliate    string
}

// Discount returns the group discount fraction for a party size.
func Discount(players int) float64 {
	switch {
	case players >= 5:
		return 0.2
	case players >= 2:
		return 0.1
	default:
		return 0
	}
}

// FinalPrice applies the group discount to base price times party size,
// rounded to the nearest whole point.
func FinalPrice(basePrice, players int) int {
	if players < 1 {
		players = 1
	}
	total := float64(basePrice * players)
	return int(math.Round(total * (1 - Discount(players))))
}

// Service submits orders and computes affiliate earnings.
type Service struct {
	st     store.Store
	clock  clockwork.Clock
	mailer Mailer
}

// NewService builds the order service. mailer may be nil.
func NewService(st store.Store, clock clockwork.Clock, mailer Mailer) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{st: st, clock: clock, mailer: mailer}
}

// Submit validates, prices and appends the order. The store is only touched
// once the order is valid, so a rejected submission leaves no trace.
func (s *Service) Submit(ctx context.Context, in Input) (models.Order, error) {
	if in.Player == "" || in.Mission == "" {
		return models.Order{}, ErrInvalidOrder
	}
	players := in.PlayersCount
	if players < 1 {
		players = 1
	}

	order := models.Order{
		Player:       in.Player,
		Mission:      in.Mission,
		PlayersCount: players,
		FinalPrice:   FinalPrice(in.BasePrice, players),
		Affiliate:    in.Affiliate,
		Timestamp:    s.clock.Now().UnixMilli(),
		Status:       models.OrderStatusPending,
	}

	key, err := s.st.Append(ctx, Collection, order)
	if err != nil {
		return models.Order{}, fmt.Errorf("submit order: %w", err)
	}
	log.Info().
		Str("key", key).
		Str("player", order.Player).
		Str("mission", order.Mission).
		Int("final_price", order.FinalPrice).
		Msg("order submitted")

	if s.mailer != nil {
		if err := s.mailer.OrderSubmitted(ctx, order); err != nil {
			log.Warn().Err(err).Msg("order email failed")
		}
	}
	return order, nil
}

// Earning is one completed affiliate sale.
type Earning struct {
	Order  models.Order
	Points float64
}

// Report is the affiliate earnings summary for one nickname.
type Report struct {
	Earnings []Earning
	Total    float64
}

// Earnings reads the order set once and computes the report for nickname.
// A session with no resolvable nickname gets ErrNoNickname so the caller can
// disable the report with an explanation instead of crashing.
func (s *Service) Earnings(ctx context.Context, nickname string) (Report, error) {
	if nickname == "" {
		return Report{}, identity.ErrNoNickname
	}

	w, err := s.st.WatchPrefix(ctx, Collection)
	if err != nil {
		return Report{}, fmt.Errorf("read orders: %w", err)
	}
	defer w.Cancel()

	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case snap, ok := <-w.Snapshots():
		if !ok {
			return Report{}, fmt.Errorf("read orders: %w", store.ErrClosed)
		}
		return buildReport(snap, nickname), nil
	}
}

func buildReport(snap store.Snapshot, nickname string) Report {
	var rep Report
	for key, raw := range snap {
		var o models.Order
		if err := json.Unmarshal(raw, &o); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("malformed order record")
			continue
		}
		if o.Affiliate != nickname || o.Status != models.OrderStatusCompleted {
			continue
		}
		points := float64(o.FinalPrice) * AffiliateCut
		rep.Earnings = append(rep.Earnings, Earning{Order: o, Points: points})
		rep.Total += points
	}
	return rep
}
