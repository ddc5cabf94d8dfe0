package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/bitemporal"
	"github.com/iota-uz/portfolio-master/pkg/paging"
)

var tracer = otel.Tracer("github.com/iota-uz/portfolio-master/modules/portfolio/services")

// Notifier receives change events after their transaction has committed.
type Notifier interface {
	Notify(ctx context.Context, event events.ChangeEventV1) error
}

type Options struct {
	PortfolioScheme string
	PositionScheme  string
	// TxTimeout bounds every storage transaction. Zero disables the bound.
	TxTimeout       time.Duration
	DefaultPageSize int
	MaxPageSize     int
	// Clock supplies "now" for reads that default to the latest instants.
	Clock  func() time.Time
	Logger *logrus.Logger
}

func (o Options) withDefaults() Options {
	if o.PortfolioScheme == "" {
		o.PortfolioScheme = "DbPrt"
	}
	if o.PositionScheme == "" {
		o.PositionScheme = "DbPos"
	}
	if o.DefaultPageSize <= 0 {
		o.DefaultPageSize = paging.DefaultSize
	}
	if o.MaxPageSize <= 0 {
		o.MaxPageSize = 1000
	}
	if o.Clock == nil {
		o.Clock = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Master is the portfolio and position master: both entity engines over one
// transactor. Portfolios and Positions expose its modify and query operations.
type Master struct {
	tx            bitemporal.Transactor
	portfolioRepo PortfolioRepository
	positionRepo  PositionRepository
	portfolios    *bitemporal.Engine[domain.PortfolioPayload]
	positions     *bitemporal.Engine[domain.PositionPayload]
	notifier      Notifier
	opts          Options

	Portfolios *PortfolioService
	Positions  *PositionService
}

// NewMaster wires the master. notifier may be nil.
func NewMaster(tx bitemporal.Transactor, portfolioRepo PortfolioRepository, positionRepo PositionRepository, notifier Notifier, opts Options) *Master {
	m := &Master{
		tx:            tx,
		portfolioRepo: portfolioRepo,
		positionRepo:  positionRepo,
		portfolios:    bitemporal.NewEngine[domain.PortfolioPayload](domain.EntityPortfolio, portfolioRepo),
		positions:     bitemporal.NewEngine[domain.PositionPayload](domain.EntityPosition, positionRepo),
		notifier:      notifier,
		opts:          opts.withDefaults(),
	}
	m.Portfolios = &PortfolioService{m: m}
	m.Positions = &PositionService{m: m}
	return m
}

func (m *Master) now() time.Time {
	return m.opts.Clock()
}

// changes collects the events of one write transaction.
type changes struct {
	events   []events.ChangeEventV1
	cascaded int
}

func (c *changes) add(e events.ChangeEventV1) {
	c.events = append(c.events, e)
}

func (m *Master) span(ctx context.Context, entity, operation string, fields logrus.Fields) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, attribute.String("portfolio_master."+k, fmt.Sprint(v)))
	}
	return tracer.Start(ctx, entity+"."+operation, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcomeOf(err))
	}
	span.End()
}

func (m *Master) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.opts.TxTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.opts.TxTimeout)
}

// write runs fn in one serializable transaction and publishes the collected
// events once it has committed.
func write[T any](ctx context.Context, m *Master, entity, operation string, fields logrus.Fields, fn func(txCtx context.Context, c *changes) (T, error)) (T, error) {
	start := time.Now()
	ctx, span := m.span(ctx, entity, operation, fields)
	var (
		out T
		c   changes
	)
	txCtx, cancel := m.withTimeout(ctx)
	err := m.tx.InTx(txCtx, func(txCtx context.Context) error {
		v, err := fn(txCtx, &c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	cancel()
	err = classify(err)
	recordOperation(entity, operation, err, time.Since(start))
	m.logOutcome(ctx, entity, operation, err, fields)
	endSpan(span, err)
	if err != nil {
		var zero T
		return zero, err
	}
	recordCascade(c.cascaded)
	m.publish(ctx, c.events)
	return out, nil
}

// read runs fn in one read-only transaction.
func read[T any](ctx context.Context, m *Master, entity, operation string, fn func(txCtx context.Context) (T, error)) (T, error) {
	start := time.Now()
	ctx, span := m.span(ctx, entity, operation, nil)
	var out T
	txCtx, cancel := m.withTimeout(ctx)
	err := m.tx.InReadTx(txCtx, func(txCtx context.Context) error {
		v, err := fn(txCtx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	cancel()
	err = classify(err)
	recordOperation(entity, operation, err, time.Since(start))
	if err != nil && !errors.Is(err, bitemporal.ErrNotFound) {
		m.logOutcome(ctx, entity, operation, err, nil)
	}
	endSpan(span, err)
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// classify keeps master errors as they are and folds everything else into the
// closed taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var be *bitemporal.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bitemporal.StorageTimeout("STORAGE_TIMEOUT", err)
	}
	return bitemporal.Internal("STORAGE_FAILURE", "storage failure", err)
}

func (m *Master) publish(ctx context.Context, list []events.ChangeEventV1) {
	if m.notifier == nil || len(list) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, e := range list {
		if err := m.notifier.Notify(ctx, e); err != nil {
			m.logWithFields(ctx, logrus.ErrorLevel, "change_event.publish.failed", logrus.Fields{
				"topic":       e.Topic,
				"change_type": e.ChangeType,
				"object_id":   e.ObjectID,
				"event_id":    e.EventID.String(),
				"error":       err.Error(),
			})
		}
	}
}
