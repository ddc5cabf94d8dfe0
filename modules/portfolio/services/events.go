package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wI2L/jsondiff"

	"github.com/iota-uz/portfolio-master/modules/portfolio/domain"
	"github.com/iota-uz/portfolio-master/modules/portfolio/domain/events"
	"github.com/iota-uz/portfolio-master/pkg/composables"
)

type change struct {
	topic      string
	entity     string
	changeType string
	objectID   string
	beforeID   string
	afterID    string
	before     any
	after      any
	from       time.Time
	now        time.Time
}

// newEvent builds the event for one committed change. CHANGED and CORRECTED
// events carry a JSON patch from the before document to the after document.
func (m *Master) newEvent(ctx context.Context, ch change) events.ChangeEventV1 {
	e := events.ChangeEventV1{
		EventID:        uuid.New(),
		EventVersion:   events.EventVersionV1,
		Topic:          ch.topic,
		ChangeType:     ch.changeType,
		EntityType:     ch.entity,
		ObjectID:       ch.objectID,
		BeforeID:       ch.beforeID,
		AfterID:        ch.afterID,
		VersionFrom:    ch.from,
		VersionInstant: ch.now,
	}
	if requestID, ok := composables.UseRequestID(ctx); ok {
		e.RequestID = requestID
	}
	if ch.before != nil && ch.after != nil {
		patch, err := jsondiff.Compare(ch.before, ch.after)
		if err == nil {
			e.Diff, err = json.Marshal(patch)
		}
		if err != nil {
			m.logWithFields(ctx, logrus.WarnLevel, "change_event.diff.failed", logrus.Fields{
				"object_id": ch.objectID,
				"error":     err.Error(),
			})
			e.Diff = nil
		}
	}
	return e
}

func (m *Master) portfolioEvent(ctx context.Context, changeType string, before, after *PortfolioRow, now time.Time) events.ChangeEventV1 {
	ch := change{
		topic:      events.TopicPortfolioChangedV1,
		entity:     domain.EntityPortfolio,
		changeType: changeType,
		now:        now,
	}
	if before != nil {
		doc := domain.PortfolioFromRow(m.opts.PortfolioScheme, *before)
		ch.objectID = doc.UniqueID.ObjectID().String()
		ch.beforeID = doc.UniqueID.String()
		ch.before = doc.Portfolio
		ch.from = before.VersionFrom
	}
	if after != nil {
		doc := domain.PortfolioFromRow(m.opts.PortfolioScheme, *after)
		ch.objectID = doc.UniqueID.ObjectID().String()
		ch.afterID = doc.UniqueID.String()
		ch.after = doc.Portfolio
		ch.from = after.VersionFrom
	}
	return m.newEvent(ctx, ch)
}

func (m *Master) positionEvent(ctx context.Context, changeType string, before, after *PositionRow, now time.Time) events.ChangeEventV1 {
	ch := change{
		topic:      events.TopicPositionChangedV1,
		entity:     domain.EntityPosition,
		changeType: changeType,
		now:        now,
	}
	if before != nil {
		doc := domain.PositionFromRow(m.opts.PositionScheme, m.opts.PortfolioScheme, *before)
		ch.objectID = doc.UniqueID.ObjectID().String()
		ch.beforeID = doc.UniqueID.String()
		ch.before = doc.Position
		ch.from = before.VersionFrom
	}
	if after != nil {
		doc := domain.PositionFromRow(m.opts.PositionScheme, m.opts.PortfolioScheme, *after)
		ch.objectID = doc.UniqueID.ObjectID().String()
		ch.afterID = doc.UniqueID.String()
		ch.after = doc.Position
		ch.from = after.VersionFrom
	}
	return m.newEvent(ctx, ch)
}
