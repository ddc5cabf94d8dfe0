package eventbus

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/portfolio-master/pkg/logging"
)

type changed struct {
	id string
}

type removed struct {
	id string
}

func bufferedLogger(level logrus.Level) (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetLevel(level)
	return log, buf
}

func TestPublish_DispatchesByArgumentType(t *testing.T) {
	bus := NewEventPublisher(logging.ConsoleLogger(logrus.WarnLevel))
	var got []string
	bus.Subscribe(func(ctx context.Context, e *changed) { got = append(got, "changed:"+e.id) })
	bus.Subscribe(func(ctx context.Context, e *removed) { got = append(got, "removed:"+e.id) })

	bus.Publish(context.Background(), &changed{id: "DbPrt~1"})
	bus.Publish(context.Background(), &removed{id: "DbPrt~2"})

	assert.Equal(t, []string{"changed:DbPrt~1", "removed:DbPrt~2"}, got)
}

func TestPublish_WarnsWithoutSubscribers(t *testing.T) {
	log, buf := bufferedLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)
	bus.Subscribe(func(e *removed) { t.Error("should not be called") })

	bus.Publish(&changed{id: "x"})

	assert.Contains(t, buf.String(), "eventbus.publish.no_matching_subscribers")
}

func TestPublish_RecoversHandlerPanics(t *testing.T) {
	log, buf := bufferedLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)
	called := false
	bus.Subscribe(func(e *changed) { panic("intentional panic for testing") })
	bus.Subscribe(func(e *changed) { called = true })

	require.NotPanics(t, func() { bus.Publish(&changed{id: "x"}) })

	assert.True(t, called)
	assert.Contains(t, buf.String(), "eventbus.handler.panicked")
	assert.Contains(t, buf.String(), "intentional panic for testing")
	assert.NotContains(t, buf.String(), "no_matching_subscribers")
}

func TestPublish_AllHandlersPanicCountsAsUnhandled(t *testing.T) {
	log, buf := bufferedLogger(logrus.WarnLevel)
	bus := NewEventPublisher(log)
	bus.Subscribe(func(e *changed) { panic("always") })

	bus.Publish(&changed{id: "x"})

	assert.Contains(t, buf.String(), "no_matching_subscribers")
}

func TestPublishE(t *testing.T) {
	t.Run("no subscribers", func(t *testing.T) {
		bus := NewEventPublisher(nil)
		assert.ErrorIs(t, bus.PublishE(&changed{}), ErrNoSubscribers)
	})

	t.Run("joins handler errors", func(t *testing.T) {
		bus := NewEventPublisher(nil)
		err1, err2 := errors.New("err1"), errors.New("err2")
		bus.Subscribe(func(e *changed) error { return err1 })
		bus.Subscribe(func(e *changed) error { return nil })
		bus.Subscribe(func(e *changed) error { return err2 })

		err := bus.PublishE(&changed{})
		assert.ErrorIs(t, err, err1)
		assert.ErrorIs(t, err, err2)
	})

	t.Run("panic becomes an error", func(t *testing.T) {
		bus := NewEventPublisher(nil)
		called := false
		bus.Subscribe(func(e *changed) error { panic("boom") })
		bus.Subscribe(func(e *changed) error { called = true; return nil })

		require.Error(t, bus.PublishE(&changed{}))
		assert.True(t, called)
	})

	t.Run("invalid return", func(t *testing.T) {
		bus := NewEventPublisher(nil)
		bus.Subscribe(func(e *changed) int { return 1 })
		assert.ErrorIs(t, bus.PublishE(&changed{}), ErrInvalidHandlerReturn)
	})
}

func TestMatchSignature(t *testing.T) {
	assert.True(t, MatchSignature(func(e *changed) {}, []any{&changed{}}))
	assert.False(t, MatchSignature(func(e *changed) {}, []any{&removed{}}))
	assert.False(t, MatchSignature(func(e *changed) {}, []any{}))
	assert.False(t, MatchSignature(func(e *changed) {}, []any{&changed{}, &changed{}}))
	assert.True(t, MatchSignature(func(ctx context.Context) {}, []any{context.Background()}))
	assert.True(t, MatchSignature(func(e *changed) {}, []any{nil}))
	assert.False(t, MatchSignature(func(e changed) {}, []any{nil}))
	assert.False(t, MatchSignature("not a func", []any{}))
}

func TestSubscribeUnsubscribeClear(t *testing.T) {
	bus := NewEventPublisher(nil)
	h1 := func(e *changed) {}
	h2 := func(e *removed) {}
	bus.Subscribe(h1)
	bus.Subscribe(h2)
	assert.Equal(t, 2, bus.SubscribersCount())

	bus.Unsubscribe(h1)
	assert.Equal(t, 1, bus.SubscribersCount())
	assert.ErrorIs(t, bus.PublishE(&changed{}), ErrNoSubscribers)

	bus.Clear()
	assert.Equal(t, 0, bus.SubscribersCount())
	assert.Panics(t, func() { bus.Subscribe(42) })
}

func TestPublish_Concurrent(t *testing.T) {
	bus := NewEventPublisher(nil)
	var n atomic.Int64
	bus.Subscribe(func(e *changed) { n.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(&changed{})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			bus.Subscribe(func(e *removed) {})
		}
	}()
	wg.Wait()

	assert.Equal(t, int64(16*50), n.Load())
	assert.Equal(t, 51, bus.SubscribersCount())
}
