package portfolio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/modules/portfolio"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/configuration"
)

func TestNewModule_MemoryBackendPublishesToBus(t *testing.T) {
	t.Setenv("PORTFOLIO_BACKEND", "memory")
	t.Setenv("PORTFOLIO_SCHEME", "Prt")
	t.Setenv("REDIS_ENABLED", "false")
	conf, err := configuration.Load()
	require.NoError(t, err)
	t.Cleanup(conf.Unload)

	m, err := portfolio.NewModule(context.Background(), conf)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	assert.Nil(t, m.Pool)

	var got []events.ChangeEventV1
	m.Bus.Subscribe(func(e events.ChangeEventV1) { got = append(got, e) })

	doc, err := m.Master.Portfolios.AddPortfolio(context.Background(), &domain.Portfolio{
		Name:     "Wired",
		RootNode: &domain.PortfolioNode{Name: "Root"},
	}, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Prt", doc.UniqueID.Scheme)

	require.Len(t, got, 1)
	assert.Equal(t, events.TopicPortfolioChangedV1, got[0].Topic)
	assert.Equal(t, doc.UniqueID.String(), got[0].AfterID)
}
