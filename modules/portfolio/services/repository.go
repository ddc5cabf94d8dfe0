package services

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

type (
	PortfolioRow = bitemporal.Row[domain.PortfolioPayload]
	PositionRow  = bitemporal.Row[domain.PositionPayload]
)

// PortfolioRepository stores portfolio rows together with their node tables.
// Closing a portfolio row's version or correction closes its nodes with it.
type PortfolioRepository interface {
	bitemporal.Store[domain.PortfolioPayload]
	// PortfolioOfNode returns the portfolio that has ever held nodeID.
	PortfolioOfNode(ctx context.Context, nodeID int64) (int64, error)
	// Search returns one page of rows matching c ordered by object id, and the total.
	Search(ctx context.Context, c PortfolioCriteria) ([]PortfolioRow, int, error)
}

// PositionRepository stores position rows together with their trades.
type PositionRepository interface {
	bitemporal.Store[domain.PositionPayload]
	// PositionOfTrade returns the position that has ever held tradeID.
	PositionOfTrade(ctx context.Context, tradeID int64) (int64, error)
	Search(ctx context.Context, c PositionCriteria) ([]PositionRow, int, error)
	// LockCurrentUnderNodes returns the current rows of positions whose parent
	// node is one of nodeIDs, locked for update, ordered by object id.
	LockCurrentUnderNodes(ctx context.Context, nodeIDs []int64) ([]PositionRow, error)
}

// PortfolioCriteria is a portfolio search in storage terms.
type PortfolioCriteria struct {
	NamePattern string
	ObjectIDs   []int64
	VersionAsOf time.Time
	CorrectedTo time.Time
	Paging      paging.Request
}

func (c PortfolioCriteria) Matches(row PortfolioRow) bool {
	if !row.Contains(c.VersionAsOf, c.CorrectedTo) {
		return false
	}
	if len(c.ObjectIDs) > 0 && !slices.Contains(c.ObjectIDs, row.ObjectID) {
		return false
	}
	return c.NamePattern == "" || MatchWildcard(c.NamePattern, row.Payload.Name)
}

// PositionCriteria is a position search in storage terms. Zero fields do not
// filter; SecurityKeys filter only when KeySearch is set.
type PositionCriteria struct {
	PortfolioID     int64
	ParentNodeID    int64
	ObjectIDs       []int64
	TradeIDs        []int64
	SecurityKeys    uid.ExternalIDBundle
	KeySearch       uid.SearchType
	ValuePattern    string
	ProviderID      uid.ExternalID
	TradeProviderID uid.ExternalID
	MinQuantity     decimal.NullDecimal
	MaxQuantity     decimal.NullDecimal
	VersionAsOf     time.Time
	CorrectedTo     time.Time
	Paging          paging.Request
}

func (c PositionCriteria) Matches(row PositionRow) bool {
	p := row.Payload
	switch {
	case !row.Contains(c.VersionAsOf, c.CorrectedTo):
		return false
	case c.PortfolioID != 0 && p.PortfolioID != c.PortfolioID:
		return false
	case c.ParentNodeID != 0 && p.ParentNodeID != c.ParentNodeID:
		return false
	case len(c.ObjectIDs) > 0 && !slices.Contains(c.ObjectIDs, row.ObjectID):
		return false
	case c.KeySearch != "" && !p.SecurityKeys.Matches(c.KeySearch, c.SecurityKeys):
		return false
	case c.ValuePattern != "" && !slices.ContainsFunc(p.SecurityKeys, func(k uid.ExternalID) bool {
		return MatchWildcard(c.ValuePattern, k.Value)
	}):
		return false
	case !c.ProviderID.IsZero() && p.ProviderID != c.ProviderID:
		return false
	case len(c.TradeIDs) > 0 && !slices.ContainsFunc(p.Trades, func(t domain.TradePayload) bool {
		return slices.Contains(c.TradeIDs, t.ObjectID)
	}):
		return false
	case !c.TradeProviderID.IsZero() && !slices.ContainsFunc(p.Trades, func(t domain.TradePayload) bool {
		return t.ProviderID == c.TradeProviderID
	}):
		return false
	case c.MinQuantity.Valid && p.Quantity.LessThan(c.MinQuantity.Decimal):
		return false
	case c.MaxQuantity.Valid && p.Quantity.GreaterThan(c.MaxQuantity.Decimal):
		return false
	}
	return true
}

// MatchWildcard matches s against pattern case-insensitively, where * matches
// any run of characters and ? exactly one.
func MatchWildcard(pattern, s string) bool {
	p, t := []rune(strings.ToLower(pattern)), []rune(strings.ToLower(s))
	pi, ti := 0, 0
	star, mark := -1, 0
	for ti < len(t) {
		switch {
		case pi < len(p) && (p[pi] == '?' || p[pi] == t[ti]):
			pi++
			ti++
		case pi < len(p) && p[pi] == '*':
			star, mark = pi, ti
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ti = mark
		default:
			return false
		}
	}
	for pi < len(p) && p[pi] == '*' {
		pi++
	}
	return pi == len(p)
}

// WildcardToLike turns a wildcard pattern into an ILIKE pattern escaped with backslash.
func WildcardToLike(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteByte('%')
		case '?':
			b.WriteByte('_')
		case '%', '_', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
