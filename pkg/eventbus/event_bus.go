package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/buildforge/requestd/pkg/serrors"
)

// EventBus fans domain events out to in-process subscribers. Dispatch is by
// handler signature: a handler fires when every published argument is
// assignable to the corresponding parameter.
type EventBus interface {
	Publish(args ...any)
	Subscribe(handler any)
	Unsubscribe(handler any)
	Clear()
	SubscribersCount() int
}

// EventBusWithError additionally surfaces handler errors to the publisher.
type EventBusWithError interface {
	EventBus
	PublishE(args ...any) error
}

var (
	ErrNoSubscribers        = serrors.NewError("EVENTBUS_NO_SUBSCRIBERS", "no matching subscribers", "")
	ErrInvalidHandlerReturn = serrors.NewError("EVENTBUS_INVALID_HANDLER_RETURN", "invalid handler return signature", "")
)

type publisher struct {
	log *logrus.Logger

	mu       sync.RWMutex
	handlers []reflect.Value
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisher{log: log}
}

func (p *publisher) Subscribe(handler any) {
	v := reflect.ValueOf(handler)
	if v.Kind() != reflect.Func {
		panic("eventbus: handler must be a function")
	}
	p.mu.Lock()
	p.handlers = append(p.handlers, v)
	p.mu.Unlock()
}

func (p *publisher) Unsubscribe(handler any) {
	ptr := reflect.ValueOf(handler).Pointer()
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, h := range p.handlers {
		if h.Pointer() == ptr {
			p.handlers = append(p.handlers[:i], p.handlers[i+1:]...)
			return
		}
	}
}

func (p *publisher) Clear() {
	p.mu.Lock()
	p.handlers = nil
	p.mu.Unlock()
}

func (p *publisher) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.handlers)
}

// accepts reports whether the handler type can be called with args.
func accepts(t reflect.Type, args []any) bool {
	if t.NumIn() != len(args) {
		return false
	}
	for i, arg := range args {
		param := t.In(i)
		if arg == nil {
			if param.Kind() != reflect.Interface && param.Kind() != reflect.Pointer {
				return false
			}
			continue
		}
		at := reflect.TypeOf(arg)
		if param.Kind() == reflect.Interface {
			if !at.Implements(param) {
				return false
			}
			continue
		}
		if !at.AssignableTo(param) {
			return false
		}
	}
	return true
}

func (p *publisher) matching(args []any) []reflect.Value {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []reflect.Value
	for _, h := range p.handlers {
		if accepts(h.Type(), args) {
			out = append(out, h)
		}
	}
	return out
}

// call invokes one handler, converting a panic into an error so a misbehaving
// subscriber cannot take the publisher down.
func call(h reflect.Value, in []reflect.Value) (out []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventbus: handler %s panicked: %v", h.Type(), r)
		}
	}()
	return h.Call(in), nil
}

func (p *publisher) Publish(args ...any) {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		in[i] = reflect.ValueOf(arg)
	}

	matched := p.matching(args)
	if len(matched) == 0 {
		if p.log != nil {
			p.log.Warnf("eventbus: no subscribers for %v", args)
		}
		return
	}
	for _, h := range matched {
		if _, err := call(h, in); err != nil && p.log != nil {
			p.log.Error(err)
		}
	}
}

func (p *publisher) PublishE(args ...any) error {
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		in[i] = reflect.ValueOf(arg)
	}

	matched := p.matching(args)
	if len(matched) == 0 {
		return ErrNoSubscribers
	}

	var errType = reflect.TypeOf((*error)(nil)).Elem()
	var errs []error
	for _, h := range matched {
		out, err := call(h, in)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch {
		case len(out) == 0:
		case len(out) > 1:
			errs = append(errs, fmt.Errorf("%w: handler %s returned %d values", ErrInvalidHandlerReturn, h.Type(), len(out)))
		case out[0].Type() != errType:
			errs = append(errs, fmt.Errorf("%w: handler %s returns %s", ErrInvalidHandlerReturn, h.Type(), out[0].Type()))
		case !out[0].IsNil():
			errs = append(errs, out[0].Interface().(error))
		}
	}
	return errors.Join(errs...)
}
