package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/iota-uz/portfolio-master/pkg/paging"
	"github.com/iota-uz/portfolio-master/pkg/uid"
)

// asOfFlags select the instant pair of a read. Empty values mean latest.
type asOfFlags struct {
	versionAsOf string
	correctedTo string
}

func (f *asOfFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.versionAsOf, "version-as-of", "", "Version instant (RFC 3339, default latest)")
	cmd.Flags().StringVar(&f.correctedTo, "corrected-to", "", "Correction instant (RFC 3339, default latest)")
}

func (f *asOfFlags) versionCorrection() (uid.VersionCorrection, error) {
	v, err := parseInstant("--version-as-of", f.versionAsOf)
	if err != nil {
		return uid.VersionCorrection{}, err
	}
	c, err := parseInstant("--corrected-to", f.correctedTo)
	if err != nil {
		return uid.VersionCorrection{}, err
	}
	return uid.AsOf(v, c), nil
}

type pageFlags struct {
	first int
	size  int
}

func (f *pageFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.first, "first", 0, "Index of the first item")
	cmd.Flags().IntVar(&f.size, "size", 0, "Page size (default from PAGE_SIZE)")
}

func (f *pageFlags) request() paging.Request {
	return paging.Of(f.first, f.size)
}

func parseInstant(flag, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return t.UTC(), nil
}

// parseExternalID reads SCHEME~VALUE.
func parseExternalID(flag, s string) (uid.ExternalID, error) {
	scheme, value, ok := strings.Cut(s, "~")
	id := uid.ExternalID{Scheme: scheme, Value: value}
	if !ok {
		return id, fmt.Errorf("invalid %s %q: expected SCHEME~VALUE", flag, s)
	}
	if err := id.Validate(); err != nil {
		return id, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return id, nil
}

func parseDecimal(flag, s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("invalid %s: %w", flag, err)
	}
	return decimal.NewNullDecimal(d), nil
}
