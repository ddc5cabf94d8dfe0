// Package portfolio assembles the portfolio and position master from configuration.
package portfolio

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/memory"
	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/notify"
	"github.com/iota-uz/portfolio-master/modules/portfolio/infrastructure/persistence"
	"github.com/iota-uz/portfolio-master/modules/portfolio/services"
	"github.com/iota-uz/portfolio-master/pkg/configuration"
	"github.com/iota-uz/portfolio-master/pkg/eventbus"
)

const connectTimeout = 10 * time.Second

// Module is a wired master with the resources it owns.
type Module struct {
	Master *services.Master
	// Bus receives every committed change event in process.
	Bus eventbus.EventBus
	// Pool is nil for the memory backend.
	Pool *pgxpool.Pool

	redis *redis.Client
}

func NewModule(ctx context.Context, conf *configuration.Configuration) (*Module, error) {
	m := &Module{Bus: eventbus.NewEventPublisher(conf.Logger())}
	notifiers := notify.Multi{notify.NewBusNotifier(m.Bus)}
	if conf.Redis.Enabled {
		m.redis = redis.NewClient(&redis.Options{Addr: conf.Redis.URL})
		publisher := notify.NewRedisPublisher(m.redis, conf.Redis.Channel)
		notifiers = append(notifiers, notify.NewRetry(publisher, 3, 50*time.Millisecond, 200*time.Millisecond))
	}

	opts := services.Options{
		PortfolioScheme: conf.Master.PortfolioScheme,
		PositionScheme:  conf.Master.PositionScheme,
		TxTimeout:       conf.Master.TxTimeout,
		DefaultPageSize: conf.Master.PageSize,
		MaxPageSize:     conf.Master.MaxPageSize,
		Logger:          conf.Logger(),
	}

	switch conf.Master.Backend {
	case configuration.BackendMemory:
		backend := memory.New()
		m.Master = services.NewMaster(backend.DB, backend.Portfolios, backend.Positions, notifiers, opts)
	default:
		pool, err := Connect(ctx, conf.Database.Opts)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Pool = pool
		m.Master = services.NewMaster(
			persistence.NewTransactor(pool),
			persistence.NewPortfolioRepository(),
			persistence.NewPositionRepository(),
			notifiers,
			opts,
		)
	}
	return m, nil
}

// Connect opens a pool and waits for the database to answer.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, gerrors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, gerrors.Wrap(err, "connect to database")
	}
	return pool, nil
}

func (m *Module) Close() {
	if m.Pool != nil {
		m.Pool.Close()
	}
	if m.redis != nil {
		_ = m.redis.Close()
	}
}
