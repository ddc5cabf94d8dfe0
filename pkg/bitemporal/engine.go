// Package bitemporal implements the version/correction protocol shared by every
// entity of the master. The engine is generic over the payload type and never
// opens transactions itself: callers run it inside Transactor.InTx.
package bitemporal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iota-uz/portfolio-master/pkg/constants"
)

// Validatable payloads get their Validate method called after the struct tags pass.
type Validatable interface {
	Validate() error
}

type Engine[P any] struct {
	entity string
	store  Store[P]
}

// NewEngine builds an engine for entity (used in error codes and messages) over store.
func NewEngine[P any](entity string, store Store[P]) *Engine[P] {
	return &Engine[P]{entity: entity, store: store}
}

func (e *Engine[P]) Entity() string {
	return e.entity
}

func (e *Engine[P]) code(suffix string) string {
	return Code(e.entity, suffix)
}

// Add stores the first version of a new object.
func (e *Engine[P]) Add(ctx context.Context, payload P, now time.Time) (Row[P], error) {
	if err := e.check(payload, now); err != nil {
		return Row[P]{}, err
	}
	oid, err := e.store.NextObjectID(ctx)
	if err != nil {
		return Row[P]{}, err
	}
	row := Row[P]{
		ObjectID:  oid,
		VersionID: 0,
		Instants:  Instants{VersionFrom: now, CorrectionFrom: now},
		Payload:   payload,
	}
	if err := e.store.Insert(ctx, row); err != nil {
		return Row[P]{}, err
	}
	return row, nil
}

// Lock returns the current row of ref's object, locked for update. A pinned ref
// must name the current version.
func (e *Engine[P]) Lock(ctx context.Context, ref Ref) (Row[P], error) {
	current, err := e.store.LockCurrent(ctx, ref.ObjectID)
	if err != nil {
		if IsNotFound(err) {
			return Row[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d not found or removed", e.entity, ref.ObjectID)
		}
		return Row[P]{}, err
	}
	if ref.IsPinned() && current.VersionID != ref.VersionID {
		next, err := e.store.NextVersionID(ctx, ref.ObjectID)
		if err != nil {
			return Row[P]{}, err
		}
		if ref.VersionID < 0 || ref.VersionID >= next {
			return Row[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d version %d not found", e.entity, ref.ObjectID, ref.VersionID)
		}
		return Row[P]{}, StalePin(e.entity, ref.ObjectID, ref.VersionID, current.VersionID)
	}
	return current, nil
}

// notBefore rejects an instant earlier than either start of the current row.
// Closing the row there would leave it overlapping the superseded corrections.
func (e *Engine[P]) notBefore(current Row[P], now time.Time, action string) error {
	start := current.VersionFrom
	if current.CorrectionFrom.After(start) {
		start = current.CorrectionFrom
	}
	if now.Before(start) {
		return Validation(e.code("INVALID_INSTANT"), "%s %d: %s instant %s precedes row start %s",
			e.entity, current.ObjectID, action, now.Format(time.RFC3339Nano), start.Format(time.RFC3339Nano))
	}
	return nil
}

// Update closes the current version at now and stores payload as the next version.
func (e *Engine[P]) Update(ctx context.Context, ref Ref, payload P, now time.Time) (Row[P], error) {
	if !ref.IsPinned() {
		return Row[P]{}, Validation(e.code("VERSION_REQUIRED"), "%s %d: update must pin the version it edits", e.entity, ref.ObjectID)
	}
	if err := e.check(payload, now); err != nil {
		return Row[P]{}, err
	}
	current, err := e.Lock(ctx, ref)
	if err != nil {
		return Row[P]{}, err
	}
	if err := e.notBefore(current, now, "update"); err != nil {
		return Row[P]{}, err
	}
	if err := e.store.CloseVersion(ctx, current.Ref(), now); err != nil {
		return Row[P]{}, err
	}
	return e.insertNext(ctx, current.ObjectID, Instants{VersionFrom: now, CorrectionFrom: now}, payload)
}

// Correct replaces the recorded content of the pinned version from now on. Any
// version may be corrected, but only through its latest correction.
func (e *Engine[P]) Correct(ctx context.Context, ref Ref, payload P, now time.Time) (Row[P], error) {
	if !ref.IsPinned() {
		return Row[P]{}, Validation(e.code("VERSION_REQUIRED"), "%s %d: correction must pin the version it corrects", e.entity, ref.ObjectID)
	}
	if err := e.check(payload, now); err != nil {
		return Row[P]{}, err
	}
	target, err := e.store.LockVersion(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return Row[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d version %d not found", e.entity, ref.ObjectID, ref.VersionID)
		}
		return Row[P]{}, err
	}
	if !target.IsLatestCorrection() {
		return Row[P]{}, IllegalState(e.code("SUPERSEDED_CORRECTION"),
			"cannot correct a superseded correction: %s %d version %d", e.entity, ref.ObjectID, ref.VersionID)
	}
	if now.Before(target.CorrectionFrom) {
		return Row[P]{}, Validation(e.code("INVALID_INSTANT"), "%s %d: correction instant precedes correction start", e.entity, ref.ObjectID)
	}
	if err := e.store.CloseCorrection(ctx, target.Ref(), now); err != nil {
		return Row[P]{}, err
	}
	return e.insertNext(ctx, target.ObjectID, Instants{
		VersionFrom:    target.VersionFrom,
		VersionTo:      target.VersionTo,
		CorrectionFrom: now,
	}, payload)
}

// Remove closes the current version at now without storing a new one.
func (e *Engine[P]) Remove(ctx context.Context, ref Ref, now time.Time) (Row[P], error) {
	if now.IsZero() {
		return Row[P]{}, Validation(e.code("INVALID_INSTANT"), "%s: instant is required", e.entity)
	}
	current, err := e.Lock(ctx, ref)
	if err != nil {
		return Row[P]{}, err
	}
	if err := e.notBefore(current, now, "removal"); err != nil {
		return Row[P]{}, err
	}
	if err := e.store.CloseVersion(ctx, current.Ref(), now); err != nil {
		return Row[P]{}, err
	}
	current.VersionTo = now
	return current, nil
}

// Resolve returns the row recorded as true at versionAsOf, as known at correctedTo.
func (e *Engine[P]) Resolve(ctx context.Context, objectID int64, versionAsOf, correctedTo time.Time) (Row[P], error) {
	if versionAsOf.IsZero() || correctedTo.IsZero() {
		return Row[P]{}, Validation(e.code("INVALID_INSTANT"), "%s %d: resolve needs both instants", e.entity, objectID)
	}
	row, err := e.store.Resolve(ctx, objectID, versionAsOf, correctedTo)
	if err != nil {
		if IsNotFound(err) {
			return Row[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d did not exist at version %s corrected to %s",
				e.entity, objectID, versionAsOf.Format(time.RFC3339Nano), correctedTo.Format(time.RFC3339Nano))
		}
		return Row[P]{}, err
	}
	return row, nil
}

// Get returns the exact row named by a pinned ref.
func (e *Engine[P]) Get(ctx context.Context, ref Ref) (Row[P], error) {
	if !ref.IsPinned() {
		return Row[P]{}, Validation(e.code("VERSION_REQUIRED"), "%s %d: get needs a pinned version", e.entity, ref.ObjectID)
	}
	row, err := e.store.Get(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return Row[P]{}, NotFound(e.code("NOT_FOUND"), "%s %d version %d not found", e.entity, ref.ObjectID, ref.VersionID)
		}
		return Row[P]{}, err
	}
	return row, nil
}

func (e *Engine[P]) insertNext(ctx context.Context, objectID int64, instants Instants, payload P) (Row[P], error) {
	next, err := e.store.NextVersionID(ctx, objectID)
	if err != nil {
		return Row[P]{}, err
	}
	row := Row[P]{ObjectID: objectID, VersionID: next, Instants: instants, Payload: payload}
	if err := e.store.Insert(ctx, row); err != nil {
		return Row[P]{}, err
	}
	return row, nil
}

func (e *Engine[P]) check(payload P, now time.Time) error {
	if now.IsZero() {
		return Validation(e.code("INVALID_INSTANT"), "%s: instant is required", e.entity)
	}
	if err := constants.Validate.Struct(payload); err != nil {
		var invalid *validator.InvalidValidationError
		if !errors.As(err, &invalid) {
			return ValidationCause(e.code("INVALID_BODY"), fmt.Sprintf("invalid %s: %s", e.entity, describe(err)), err)
		}
	}
	if v, ok := any(payload).(Validatable); ok {
		if err := v.Validate(); err != nil {
			return ValidationCause(e.code("INVALID_BODY"), fmt.Sprintf("invalid %s", e.entity), err)
		}
	}
	return nil
}

func describe(err error) string {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s failed %q", f.Namespace(), f.Tag()))
	}
	return strings.Join(parts, "; ")
}
