package persistence

import (
	"context"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
	"github.com/iota-uz/portfolio-master/pkg/repo"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

const (
	insertKeyQuery = `
INSERT INTO pos_idkey (position_oid, position_ver, key_scheme, key_value)
VALUES ($1, $2, $3, $4)`

	insertTradeQuery = `
INSERT INTO pos_trade (
	position_oid, position_ver, oid, seq, quantity, trade_instant,
	cparty_scheme, cparty_value, provider_scheme, provider_value,
	premium, premium_currency, attributes
) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11::numeric, $12, $13::jsonb)`

	selectKeysQuery = `
SELECT k.position_oid, k.position_ver, k.key_scheme, k.key_value
FROM pos_idkey k
JOIN unnest($1::bigint[], $2::bigint[]) AS r(oid, ver) ON k.position_oid = r.oid AND k.position_ver = r.ver
ORDER BY k.position_oid, k.position_ver, k.key_scheme, k.key_value`

	selectTradesQuery = `
SELECT t.position_oid, t.position_ver, t.oid, t.quantity, t.trade_instant,
	t.cparty_scheme, t.cparty_value, t.provider_scheme, t.provider_value,
	t.premium, t.premium_currency, t.attributes
FROM pos_trade t
JOIN unnest($1::bigint[], $2::bigint[]) AS r(oid, ver) ON t.position_oid = r.oid AND t.position_ver = r.ver
ORDER BY t.position_oid, t.position_ver, t.seq`
)

// PositionRepository stores position rows in pos_position with their security
// keys in pos_idkey and their trades in pos_trade.
type PositionRepository struct {
	*Table[domain.PositionPayload]
}

var _ services.PositionRepository = (*PositionRepository)(nil)

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{Table: &Table[domain.PositionPayload]{
		name: "pos_position",
		columns: []column{
			{name: "portfolio_oid"},
			{name: "parent_node_oid"},
			{name: "quantity", cast: "::numeric"},
			{name: "provider_scheme"},
			{name: "provider_value"},
			{name: "attributes", cast: "::jsonb"},
		},
		values: func(p domain.PositionPayload) []any {
			return []any{
				p.PortfolioID,
				p.ParentNodeID,
				p.Quantity.String(),
				p.ProviderID.Scheme,
				p.ProviderID.Value,
				attributesJSON(p.Attributes),
			}
		},
		dest: func(p *domain.PositionPayload) []any {
			return []any{
				&p.PortfolioID,
				&p.ParentNodeID,
				&p.Quantity,
				&p.ProviderID.Scheme,
				&p.ProviderID.Value,
				&p.Attributes,
			}
		},
		save: saveChildren,
		load: loadChildren,
	}}
}

func saveChildren(ctx context.Context, tx repo.Tx, row services.PositionRow) error {
	b := &pgx.Batch{}
	for _, k := range row.Payload.SecurityKeys {
		b.Queue(insertKeyQuery, row.ObjectID, row.VersionID, k.Scheme, k.Value)
	}
	for i, t := range row.Payload.Trades {
		b.Queue(insertTradeQuery,
			row.ObjectID, row.VersionID, t.ObjectID, i,
			t.Quantity.String(), toDB(t.TradeInstant),
			t.Counterparty.Scheme, t.Counterparty.Value,
			t.ProviderID.Scheme, t.ProviderID.Value,
			nullDecimal(t.Premium), t.PremiumCurrency,
			attributesJSON(t.Attributes),
		)
	}
	return sendBatch(ctx, tx, b)
}

func loadChildren(ctx context.Context, tx repo.Tx, rows []services.PositionRow) error {
	oids, vers := refs(rows)
	index := make(map[bitemporal.Ref]*domain.PositionPayload, len(rows))
	for i := range rows {
		rows[i].Payload.SecurityKeys = nil
		rows[i].Payload.Trades = nil
		index[rows[i].Ref()] = &rows[i].Payload
	}

	keys, err := tx.Query(ctx, selectKeysQuery, oids, vers)
	if err != nil {
		return mapPgError(err)
	}
	for keys.Next() {
		var (
			ref bitemporal.Ref
			k   uid.ExternalID
		)
		if err := keys.Scan(&ref.ObjectID, &ref.VersionID, &k.Scheme, &k.Value); err != nil {
			keys.Close()
			return mapPgError(err)
		}
		if p := index[ref]; p != nil {
			p.SecurityKeys = append(p.SecurityKeys, k)
		}
	}
	keys.Close()
	if err := keys.Err(); err != nil {
		return mapPgError(err)
	}

	trades, err := tx.Query(ctx, selectTradesQuery, oids, vers)
	if err != nil {
		return mapPgError(err)
	}
	defer trades.Close()
	for trades.Next() {
		var (
			ref bitemporal.Ref
			t   domain.TradePayload
		)
		err := trades.Scan(
			&ref.ObjectID, &ref.VersionID, &t.ObjectID, &t.Quantity, &t.TradeInstant,
			&t.Counterparty.Scheme, &t.Counterparty.Value,
			&t.ProviderID.Scheme, &t.ProviderID.Value,
			&t.Premium, &t.PremiumCurrency, &t.Attributes,
		)
		if err != nil {
			return mapPgError(err)
		}
		t.TradeInstant = t.TradeInstant.UTC()
		if p := index[ref]; p != nil {
			p.Trades = append(p.Trades, t)
		}
	}
	return mapPgError(trades.Err())
}

func (r *PositionRepository) PositionOfTrade(ctx context.Context, tradeID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var oid int64
	err = tx.QueryRow(ctx, `SELECT position_oid FROM pos_trade WHERE oid = $1 LIMIT 1`, tradeID).Scan(&oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, gerrors.Wrapf(bitemporal.ErrNotFound, "pos_trade %d", tradeID)
	}
	if err != nil {
		return 0, mapPgError(err)
	}
	return oid, nil
}

func (r *PositionRepository) Search(ctx context.Context, c services.PositionCriteria) ([]services.PositionRow, int, error) {
	var w where
	w.contains(c.VersionAsOf, c.CorrectedTo)
	if c.PortfolioID != 0 {
		w.eq("portfolio_oid", c.PortfolioID)
	}
	if c.ParentNodeID != 0 {
		w.eq("parent_node_oid", c.ParentNodeID)
	}
	if len(c.ObjectIDs) > 0 {
		w.add("oid = ANY(" + w.arg(c.ObjectIDs) + ")")
	}
	if !c.ProviderID.IsZero() {
		w.eq("provider_scheme", c.ProviderID.Scheme)
		w.eq("provider_value", c.ProviderID.Value)
	}
	if c.MinQuantity.Valid {
		w.add("quantity >= " + w.arg(c.MinQuantity.Decimal.String()) + "::numeric")
	}
	if c.MaxQuantity.Valid {
		w.add("quantity <= " + w.arg(c.MaxQuantity.Decimal.String()) + "::numeric")
	}
	if c.KeySearch != "" {
		w.add(keySearch(&w, c.KeySearch, c.SecurityKeys))
	}
	if c.ValuePattern != "" {
		w.add(`EXISTS (SELECT 1 FROM pos_idkey k WHERE ` + ofRow("k") + ` AND k.key_value ILIKE ` +
			w.arg(services.WildcardToLike(c.ValuePattern)) + ` ESCAPE '\')`)
	}
	if len(c.TradeIDs) > 0 {
		w.add(`EXISTS (SELECT 1 FROM pos_trade t WHERE ` + ofRow("t") + ` AND t.oid = ANY(` + w.arg(c.TradeIDs) + `))`)
	}
	if !c.TradeProviderID.IsZero() {
		w.add(`EXISTS (SELECT 1 FROM pos_trade t WHERE ` + ofRow("t") + ` AND t.provider_scheme = ` +
			w.arg(c.TradeProviderID.Scheme) + ` AND t.provider_value = ` + w.arg(c.TradeProviderID.Value) + `)`)
	}
	return r.search(ctx, &w, c.Paging, "oid")
}

func (r *PositionRepository) LockCurrentUnderNodes(ctx context.Context, nodeIDs []int64) ([]services.PositionRow, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	var w where
	w.add("parent_node_oid = ANY(" + w.arg(nodeIDs) + ")")
	w.current()
	return r.query(ctx, `WHERE `+w.sql()+` ORDER BY oid FOR UPDATE`, w.args...)
}

// ofRow ties a child table alias to the pos_position row being filtered.
func ofRow(alias string) string {
	return alias + ".position_oid = pos_position.oid AND " + alias + ".position_ver = pos_position.ver"
}

// keySearch renders the security key condition for t. keys must be free of
// duplicates so that matched counts compare with len(keys).
func keySearch(w *where, t uid.SearchType, keys uid.ExternalIDBundle) string {
	schemes := make([]string, len(keys))
	values := make([]string, len(keys))
	for i, k := range keys {
		schemes[i], values[i] = k.Scheme, k.Value
	}
	matched := `SELECT COUNT(*) FROM pos_idkey k
	JOIN unnest(` + w.arg(schemes) + `::text[], ` + w.arg(values) + `::text[]) AS s(scheme, value)
		ON k.key_scheme = s.scheme AND k.key_value = s.value
	WHERE ` + ofRow("k")
	switch t {
	case uid.SearchAll:
		return `(` + matched + `) = ` + w.arg(len(keys))
	case uid.SearchExact:
		n := w.arg(len(keys))
		return `(` + matched + `) = ` + n + ` AND (SELECT COUNT(*) FROM pos_idkey k WHERE ` + ofRow("k") + `) = ` + n
	case uid.SearchNone:
		return `(` + matched + `) = 0`
	default:
		return `(` + matched + `) > 0`
	}
}

func nullDecimal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
