package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// PortfolioSearchRequest selects portfolios as of one instant pair. Name may
// hold the wildcards * and ?.
type PortfolioSearchRequest struct {
	Name              string
	PortfolioIDs      []uid.ObjectID
	VersionCorrection uid.VersionCorrection
	Paging            paging.Request
}

type PortfolioSearchResult struct {
	Documents []*PortfolioDocument `json:"documents"`
	Paging    paging.Paging        `json:"paging"`
}

// PositionSearchRequest selects positions as of one instant pair. Zero fields
// do not filter and quantity bounds are inclusive. A non-nil but empty id list
// matches nothing, as do empty SecurityKeys unless SecurityKeySearch is NONE.
// SecurityKeySearch defaults to ANY; SecurityValue may hold * and ? and is
// matched against the value of every security key.
type PositionSearchRequest struct {
	PortfolioID       uid.ObjectID
	ParentNodeID      uid.ObjectID
	PositionIDs       []uid.ObjectID
	TradeIDs          []uid.ObjectID
	SecurityKeys      uid.ExternalIDBundle
	SecurityKeySearch uid.SearchType
	SecurityValue     string
	ProviderID        uid.ExternalID
	TradeProviderID   uid.ExternalID
	MinQuantity       decimal.NullDecimal
	MaxQuantity       decimal.NullDecimal
	VersionCorrection uid.VersionCorrection
	Paging            paging.Request
}

type PositionSearchResult struct {
	Documents []*PositionDocument `json:"documents"`
	Paging    paging.Paging       `json:"paging"`
}

// HistoryRequest bounds a history read. Zero instants are unbounded.
type HistoryRequest struct {
	ObjectID               uid.ObjectID
	VersionsFromInstant    time.Time
	VersionsToInstant      time.Time
	CorrectionsFromInstant time.Time
	CorrectionsToInstant   time.Time
	Paging                 paging.Request
}

type PortfolioHistoryResult struct {
	Documents []*PortfolioDocument `json:"documents"`
	Paging    paging.Paging        `json:"paging"`
}

type PositionHistoryResult struct {
	Documents []*PositionDocument `json:"documents"`
	Paging    paging.Paging       `json:"paging"`
}

// FullNode is a node with the positions live under it at the read instants.
type FullNode struct {
	Node      *PortfolioNode `json:"node"`
	Positions []*Position    `json:"positions,omitempty"`
	Children  []*FullNode    `json:"children,omitempty"`
}

// FullPortfolio is a portfolio resolved together with every position of every
// node, all from one snapshot.
type FullPortfolio struct {
	Portfolio *Portfolio `json:"portfolio"`
	Root      *FullNode  `json:"root"`
}
