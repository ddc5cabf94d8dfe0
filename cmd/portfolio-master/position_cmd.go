package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

func newPositionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "position",
		Short: "Read positions and trades",
	}
	cmd.AddCommand(newPositionGetCmd(a), newPositionSearchCmd(a))
	return cmd
}

func newPositionGetCmd(a *app) *cobra.Command {
	var (
		id   string
		asOf asOfFlags
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Resolve a position with its trades as of an instant pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := uid.ParseObjectID(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			vc, err := asOf.versionCorrection()
			if err != nil {
				return err
			}
			m, err := a.master(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := m.Master.Positions.GetFullPosition(cmd.Context(), oid, vc)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "position get", start, res)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Position object id, SCHEME~VALUE (required)")
	asOf.register(cmd)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPositionSearchCmd(a *app) *cobra.Command {
	var (
		portfolioID, nodeID, provider string
		tradeProvider, keySearch      string
		securityValue                 string
		keys, trades                  []string
		minQty, maxQty                string
		asOf                          asOfFlags
		page                          pageFlags
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search positions by portfolio, node, security key and quantity",
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := asOf.versionCorrection()
			if err != nil {
				return err
			}
			req := domain.PositionSearchRequest{VersionCorrection: vc, Paging: page.request()}
			if portfolioID != "" {
				if req.PortfolioID, err = uid.ParseObjectID(portfolioID); err != nil {
					return fmt.Errorf("invalid --portfolio: %w", err)
				}
			}
			if nodeID != "" {
				if req.ParentNodeID, err = uid.ParseObjectID(nodeID); err != nil {
					return fmt.Errorf("invalid --node: %w", err)
				}
			}
			if provider != "" {
				if req.ProviderID, err = parseExternalID("--provider", provider); err != nil {
					return err
				}
			}
			if tradeProvider != "" {
				if req.TradeProviderID, err = parseExternalID("--trade-provider", tradeProvider); err != nil {
					return err
				}
			}
			for _, tr := range trades {
				oid, err := uid.ParseObjectID(tr)
				if err != nil {
					return fmt.Errorf("invalid --trade: %w", err)
				}
				req.TradeIDs = append(req.TradeIDs, oid)
			}
			req.SecurityKeySearch = uid.SearchType(keySearch)
			req.SecurityValue = securityValue
			for _, k := range keys {
				id, err := parseExternalID("--key", k)
				if err != nil {
					return err
				}
				req.SecurityKeys = append(req.SecurityKeys, id)
			}
			if req.MinQuantity, err = parseDecimal("--min-quantity", minQty); err != nil {
				return err
			}
			if req.MaxQuantity, err = parseDecimal("--max-quantity", maxQty); err != nil {
				return err
			}
			m, err := a.master(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := m.Master.Positions.SearchPositions(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "position search", start, res)
		},
	}
	cmd.Flags().StringVar(&portfolioID, "portfolio", "", "Portfolio object id")
	cmd.Flags().StringVar(&nodeID, "node", "", "Parent node object id")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider id, SCHEME~VALUE")
	cmd.Flags().StringVar(&tradeProvider, "trade-provider", "", "Provider id of a trade, SCHEME~VALUE")
	cmd.Flags().StringSliceVar(&trades, "trade", nil, "Trade object id held by the position")
	cmd.Flags().StringSliceVar(&keys, "key", nil, "Security key, SCHEME~VALUE")
	cmd.Flags().StringVar(&keySearch, "key-search", "", "How --key values match: ANY (default), ALL, EXACT or NONE")
	cmd.Flags().StringVar(&securityValue, "security-value", "", "Security key value, * and ? allowed")
	cmd.Flags().StringVar(&minQty, "min-quantity", "", "Inclusive lower quantity bound")
	cmd.Flags().StringVar(&maxQty, "max-quantity", "", "Inclusive upper quantity bound")
	asOf.register(cmd)
	page.register(cmd)
	return cmd
}
