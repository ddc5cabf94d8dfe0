package persistence

import (
	"context"
	"encoding/json"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/composables"
	"github.com/iota-uz/portfolio-master/pkg/nestedset"
	"github.com/iota-uz/portfolio-master/pkg/repo"
)

const insertNodeQuery = `
INSERT INTO prt_node (portfolio_oid, portfolio_ver, oid, parent_oid, tree_left, tree_right, depth, name)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const selectNodesQuery = `
SELECT n.portfolio_oid, n.portfolio_ver, n.oid, COALESCE(n.parent_oid, 0), n.tree_left, n.tree_right, n.depth, n.name
FROM prt_node n
JOIN unnest($1::bigint[], $2::bigint[]) AS r(oid, ver) ON n.portfolio_oid = r.oid AND n.portfolio_ver = r.ver
ORDER BY n.portfolio_oid, n.portfolio_ver, n.tree_left`

// PortfolioRepository stores portfolio rows in prt_portfolio and their node
// tables in prt_node, one node row per portfolio version.
type PortfolioRepository struct {
	*Table[domain.PortfolioPayload]
}

var _ services.PortfolioRepository = (*PortfolioRepository)(nil)

func NewPortfolioRepository() *PortfolioRepository {
	return &PortfolioRepository{Table: &Table[domain.PortfolioPayload]{
		name:    "prt_portfolio",
		columns: []column{{name: "name"}, {name: "attributes", cast: "::jsonb"}},
		values: func(p domain.PortfolioPayload) []any {
			return []any{p.Name, attributesJSON(p.Attributes)}
		},
		dest: func(p *domain.PortfolioPayload) []any {
			return []any{&p.Name, &p.Attributes}
		},
		save: saveNodes,
		load: loadNodes,
	}}
}

func saveNodes(ctx context.Context, tx repo.Tx, row services.PortfolioRow) error {
	b := &pgx.Batch{}
	for _, n := range row.Payload.Nodes.Nodes() {
		b.Queue(insertNodeQuery, row.ObjectID, row.VersionID, n.ID, nullID(n.ParentID), n.Left, n.Right, n.Depth, n.Value.Name)
	}
	return sendBatch(ctx, tx, b)
}

func loadNodes(ctx context.Context, tx repo.Tx, rows []services.PortfolioRow) error {
	oids, vers := refs(rows)
	res, err := tx.Query(ctx, selectNodesQuery, oids, vers)
	if err != nil {
		return mapPgError(err)
	}
	defer res.Close()

	nodes := make(map[bitemporal.Ref][]nestedset.Node[domain.NodeData], len(rows))
	for res.Next() {
		var (
			ref bitemporal.Ref
			n   nestedset.Node[domain.NodeData]
		)
		if err := res.Scan(&ref.ObjectID, &ref.VersionID, &n.ID, &n.ParentID, &n.Left, &n.Right, &n.Depth, &n.Value.Name); err != nil {
			return mapPgError(err)
		}
		nodes[ref] = append(nodes[ref], n)
	}
	if err := res.Err(); err != nil {
		return mapPgError(err)
	}
	for i := range rows {
		rows[i].Payload.Nodes = nestedset.Load(nodes[rows[i].Ref()])
	}
	return nil
}

func (r *PortfolioRepository) PortfolioOfNode(ctx context.Context, nodeID int64) (int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var oid int64
	err = tx.QueryRow(ctx, `SELECT portfolio_oid FROM prt_node WHERE oid = $1 LIMIT 1`, nodeID).Scan(&oid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, gerrors.Wrapf(bitemporal.ErrNotFound, "prt_node %d", nodeID)
	}
	if err != nil {
		return 0, mapPgError(err)
	}
	return oid, nil
}

func (r *PortfolioRepository) Search(ctx context.Context, c services.PortfolioCriteria) ([]services.PortfolioRow, int, error) {
	var w where
	w.contains(c.VersionAsOf, c.CorrectedTo)
	if len(c.ObjectIDs) > 0 {
		w.add("oid = ANY(" + w.arg(c.ObjectIDs) + ")")
	}
	if c.NamePattern != "" {
		w.add("name ILIKE " + w.arg(services.WildcardToLike(c.NamePattern)) + ` ESCAPE '\'`)
	}
	return r.search(ctx, &w, c.Paging, "oid")
}

// attributesJSON renders attributes for a JSONB column; nil maps are stored as NULL.
func attributesJSON(attrs map[string]string) []byte {
	if attrs == nil {
		return nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		// a map of strings always marshals
		panic(err)
	}
	return b
}

func nullID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
