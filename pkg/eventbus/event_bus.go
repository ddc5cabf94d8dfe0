// Package eventbus dispatches in-process events to handlers whose parameter
// list matches the published arguments.
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

type Subscriber struct {
	Handler any
}

type EventBus interface {
	Publish(args ...any)
	PublishE(args ...any) error
	Subscribe(handler any)
	Unsubscribe(handler any)
	Clear()
	SubscribersCount() int
}

var (
	ErrNoSubscribers        = errors.New("eventbus: no matching subscribers")
	ErrInvalidHandlerReturn = errors.New("eventbus: invalid handler return signature")
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers []Subscriber
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

// MatchSignature reports whether handler can be called with args.
func MatchSignature(handler any, args []any) bool {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.IsVariadic() {
		return false
	}
	if t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		paramType := t.In(i)
		if arg == nil {
			switch paramType.Kind() {
			case reflect.Interface, reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
				continue
			default:
				return false
			}
		}
		if !reflect.TypeOf(arg).AssignableTo(paramType) {
			return false
		}
	}
	return true
}

func values(handler reflect.Type, args []any) []reflect.Value {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil {
			in[i] = reflect.Zero(handler.In(i))
			continue
		}
		in[i] = reflect.ValueOf(arg)
	}
	return in
}

func (p *publisherImpl) matching(args []any) []reflect.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []reflect.Value
	for _, s := range p.subscribers {
		if MatchSignature(s.Handler, args) {
			out = append(out, reflect.ValueOf(s.Handler))
		}
	}
	return out
}

// call runs one handler and converts a panic into an error.
func call(v reflect.Value, args []any) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", v.Type(), r)
		}
	}()
	return v.Call(values(v.Type(), args)), nil
}

// Publish calls every matching handler. Handler panics are logged and do not
// stop the remaining handlers; return values are ignored.
func (p *publisherImpl) Publish(args ...any) {
	handled := false
	for _, v := range p.matching(args) {
		if _, err := call(v, args); err != nil {
			if p.log != nil {
				p.log.WithFields(logrus.Fields{
					"handler": v.Type().String(),
					"args":    fmt.Sprintf("%v", args),
				}).WithError(err).Error("eventbus.handler.panicked")
			}
			continue
		}
		handled = true
	}
	if !handled && p.log != nil {
		p.log.WithField("args", fmt.Sprintf("%v", args)).Warn("eventbus.publish.no_matching_subscribers")
	}
}

// PublishE calls every matching handler and joins the errors they return.
// Handlers may return nothing or a single error.
func (p *publisherImpl) PublishE(args ...any) error {
	handlers := p.matching(args)
	if len(handlers) == 0 {
		return ErrNoSubscribers
	}
	var errs []error
	for _, v := range handlers {
		out, err := call(v, args)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch {
		case len(out) == 0:
		case len(out) == 1 && out[0].Type() == errorType:
			if !out[0].IsNil() {
				errs = append(errs, out[0].Interface().(error))
			}
		default:
			errs = append(errs, fmt.Errorf("%w: handler %s", ErrInvalidHandlerReturn, v.Type()))
		}
	}
	return errors.Join(errs...)
}

func (p *publisherImpl) Subscribe(handler any) {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, Subscriber{Handler: handler})
}

// Unsubscribe removes the first subscription of handler. Functions are compared
// by code pointer, so two closures of the same literal are indistinguishable.
func (p *publisherImpl) Unsubscribe(handler any) {
	target := reflect.ValueOf(handler)
	if target.Kind() != reflect.Func {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.subscribers {
		if reflect.ValueOf(s.Handler).Pointer() == target.Pointer() {
			p.subscribers = append(p.subscribers[:i:i], p.subscribers[i+1:]...)
			return
		}
	}
}

func (p *publisherImpl) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = nil
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}
