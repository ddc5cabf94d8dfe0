package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

var (
	ErrNoSecurityKey    = errors.New("position needs at least one security key")
	ErrDuplicateTradeID = errors.New("trade appears twice in one position")
)

// TradePayload is one trade as stored with a position row. ObjectID is stable
// across position versions; zero marks a trade that has not been stored yet.
type TradePayload struct {
	ObjectID        int64               `json:"object_id,omitempty"`
	Quantity        decimal.Decimal     `json:"quantity"`
	TradeInstant    time.Time           `json:"trade_instant" validate:"required"`
	Counterparty    uid.ExternalID      `json:"counterparty" validate:"required"`
	ProviderID      uid.ExternalID      `json:"provider_id,omitzero"`
	Premium         decimal.NullDecimal `json:"premium"`
	PremiumCurrency string              `json:"premium_currency,omitempty" validate:"omitempty,len=3,uppercase"`
	Attributes      map[string]string   `json:"attributes,omitempty"`
}

// PositionPayload is the content of one position row, trades included. Any
// change to the trade set is a new position version.
type PositionPayload struct {
	PortfolioID  int64                `json:"portfolio_id" validate:"gt=0"`
	ParentNodeID int64                `json:"parent_node_id" validate:"gt=0"`
	Quantity     decimal.Decimal      `json:"quantity"`
	SecurityKeys uid.ExternalIDBundle `json:"security_keys"`
	ProviderID   uid.ExternalID       `json:"provider_id,omitzero"`
	Attributes   map[string]string    `json:"attributes,omitempty"`
	Trades       []TradePayload       `json:"trades,omitempty" validate:"dive"`
}

func (p PositionPayload) Validate() error {
	if len(p.SecurityKeys) == 0 {
		return ErrNoSecurityKey
	}
	if err := p.SecurityKeys.Validate(); err != nil {
		return err
	}
	if !p.ProviderID.IsZero() {
		if err := p.ProviderID.Validate(); err != nil {
			return err
		}
	}
	seen := make(map[int64]struct{}, len(p.Trades))
	for i, t := range p.Trades {
		if err := t.Counterparty.Validate(); err != nil {
			return fmt.Errorf("trade %d: %w", i, err)
		}
		if t.Premium.Valid && t.PremiumCurrency == "" {
			return fmt.Errorf("trade %d: premium needs a currency", i)
		}
		if !t.Premium.Valid && t.PremiumCurrency != "" {
			return fmt.Errorf("trade %d: premium currency without a premium", i)
		}
		if t.ObjectID == 0 {
			continue
		}
		if _, dup := seen[t.ObjectID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateTradeID, t.ObjectID)
		}
		seen[t.ObjectID] = struct{}{}
	}
	return nil
}

func ClonePositionPayload(p PositionPayload) PositionPayload {
	p.SecurityKeys = slices.Clone(p.SecurityKeys)
	p.Attributes = maps.Clone(p.Attributes)
	p.Trades = slices.Clone(p.Trades)
	for i := range p.Trades {
		p.Trades[i].Attributes = maps.Clone(p.Trades[i].Attributes)
	}
	return p
}

// Trade is the caller-facing view of one trade of one position version.
type Trade struct {
	UniqueID        uid.UniqueID        `json:"unique_id"`
	PositionID      uid.UniqueID        `json:"position_id"`
	Quantity        decimal.Decimal     `json:"quantity"`
	TradeInstant    time.Time           `json:"trade_instant"`
	CounterpartyID  uid.ExternalID      `json:"counterparty_id"`
	ProviderID      uid.ExternalID      `json:"provider_id,omitzero"`
	Premium         decimal.NullDecimal `json:"premium"`
	PremiumCurrency string              `json:"premium_currency,omitempty"`
	Attributes      map[string]string   `json:"attributes,omitempty"`
}

// Position is the caller-facing view of one position row. PortfolioID is
// derived from the parent node; when set on input it must name the node's
// portfolio.
type Position struct {
	UniqueID     uid.UniqueID         `json:"unique_id"`
	PortfolioID  uid.ObjectID         `json:"portfolio_id"`
	ParentNodeID uid.ObjectID         `json:"parent_node_id"`
	Quantity     decimal.Decimal      `json:"quantity"`
	SecurityKeys uid.ExternalIDBundle `json:"security_keys"`
	ProviderID   uid.ExternalID       `json:"provider_id,omitzero"`
	Attributes   map[string]string    `json:"attributes,omitempty"`
	Trades       []*Trade             `json:"trades,omitempty"`
}

// Trade returns the trade with object id oid.
func (p *Position) Trade(oid uid.ObjectID) *Trade {
	for _, t := range p.Trades {
		if t.UniqueID.ObjectID() == oid {
			return t
		}
	}
	return nil
}

type PositionDocument struct {
	UniqueID uid.UniqueID `json:"unique_id"`
	Position *Position    `json:"position"`
	bitemporal.Instants
}

// PositionFromRow renders a stored row. Positions and trades share scheme;
// portfolioScheme names the portfolio and node ids.
func PositionFromRow(scheme, portfolioScheme string, row bitemporal.Row[PositionPayload]) *PositionDocument {
	positionUID := uid.NewUniqueID(scheme, row.ObjectID, row.VersionID)
	p := &Position{
		UniqueID:     positionUID,
		PortfolioID:  uid.NewObjectID(portfolioScheme, row.Payload.PortfolioID),
		ParentNodeID: uid.NewObjectID(portfolioScheme, row.Payload.ParentNodeID),
		Quantity:     row.Payload.Quantity,
		SecurityKeys: slices.Clone(row.Payload.SecurityKeys),
		ProviderID:   row.Payload.ProviderID,
		Attributes:   maps.Clone(row.Payload.Attributes),
	}
	for _, t := range row.Payload.Trades {
		p.Trades = append(p.Trades, &Trade{
			UniqueID:        uid.NewUniqueID(scheme, t.ObjectID, row.VersionID),
			PositionID:      positionUID,
			Quantity:        t.Quantity,
			TradeInstant:    t.TradeInstant,
			CounterpartyID:  t.Counterparty,
			ProviderID:      t.ProviderID,
			Premium:         t.Premium,
			PremiumCurrency: t.PremiumCurrency,
			Attributes:      maps.Clone(t.Attributes),
		})
	}
	return &PositionDocument{UniqueID: positionUID, Position: p, Instants: row.Instants}
}
