package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

func newPortfolioCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Read and repair portfolios",
	}
	cmd.AddCommand(
		newPortfolioGetCmd(a),
		newPortfolioHistoryCmd(a),
		newPortfolioSearchCmd(a),
		newPortfolioRenumberCmd(a),
	)
	return cmd
}

func newPortfolioGetCmd(a *app) *cobra.Command {
	var (
		id   string
		asOf asOfFlags
		full bool
	)
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Resolve a portfolio as of an instant pair",
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
			var res any
			if full {
				res, err = m.Master.Portfolios.GetFullPortfolio(cmd.Context(), oid, vc)
			} else {
				res, err = m.Master.Portfolios.GetPortfolioAsOf(cmd.Context(), oid, vc)
			}
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "portfolio get", start, res)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Portfolio object id, SCHEME~VALUE (required)")
	cmd.Flags().BoolVar(&full, "full", false, "Include the positions under every node")
	asOf.register(cmd)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPortfolioHistoryCmd(a *app) *cobra.Command {
	var (
		id                     string
		versionsFrom, versions string
		correctionsFrom, corrs string
		page                   pageFlags
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the stored versions and corrections of a portfolio",
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := uid.ParseObjectID(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			req := domain.HistoryRequest{ObjectID: oid, Paging: page.request()}
			if req.VersionsFromInstant, err = parseInstant("--versions-from", versionsFrom); err != nil {
				return err
			}
			if req.VersionsToInstant, err = parseInstant("--versions-to", versions); err != nil {
				return err
			}
			if req.CorrectionsFromInstant, err = parseInstant("--corrections-from", correctionsFrom); err != nil {
				return err
			}
			if req.CorrectionsToInstant, err = parseInstant("--corrections-to", corrs); err != nil {
				return err
			}
			m, err := a.master(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := m.Master.Portfolios.PortfolioHistory(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "portfolio history", start, res)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Portfolio object id, SCHEME~VALUE (required)")
	cmd.Flags().StringVar(&versionsFrom, "versions-from", "", "Lower version bound (RFC 3339)")
	cmd.Flags().StringVar(&versions, "versions-to", "", "Upper version bound (RFC 3339)")
	cmd.Flags().StringVar(&correctionsFrom, "corrections-from", "", "Lower correction bound (RFC 3339)")
	cmd.Flags().StringVar(&corrs, "corrections-to", "", "Upper correction bound (RFC 3339)")
	page.register(cmd)
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func newPortfolioSearchCmd(a *app) *cobra.Command {
	var (
		name string
		ids  []string
		asOf asOfFlags
		page pageFlags
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search portfolios by name and id",
		RunE: func(cmd *cobra.Command, args []string) error {
			vc, err := asOf.versionCorrection()
			if err != nil {
				return err
			}
			req := domain.PortfolioSearchRequest{Name: name, VersionCorrection: vc, Paging: page.request()}
			for _, s := range ids {
				oid, err := uid.ParseObjectID(s)
				if err != nil {
					return fmt.Errorf("invalid --id: %w", err)
				}
				req.PortfolioIDs = append(req.PortfolioIDs, oid)
			}
			m, err := a.master(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := m.Master.Portfolios.SearchPortfolios(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "portfolio search", start, res)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name pattern; * and ? are wildcards")
	cmd.Flags().StringSliceVar(&ids, "id", nil, "Restrict to these portfolio object ids")
	asOf.register(cmd)
	page.register(cmd)
	return cmd
}

func newPortfolioRenumberCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "renumber",
		Short: "Recompute drifted tree bounds as a correction of the current version",
		RunE: func(cmd *cobra.Command, args []string) error {
			oid, err := uid.ParseObjectID(id)
			if err != nil {
				return fmt.Errorf("invalid --id: %w", err)
			}
			m, err := a.master(cmd.Context())
			if err != nil {
				return err
			}

			start := time.Now()
			doc, changed, err := m.Master.Portfolios.RenumberPortfolio(cmd.Context(), oid, time.Now().UTC())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "portfolio renumber", start, map[string]any{
				"changed":   changed,
				"portfolio": doc,
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Portfolio object id, SCHEME~VALUE (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
