package eventbus_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/buildforge/requestd/pkg/eventbus"
)

type stateChanged struct {
	RequestID int64
	NewState  string
}

func TestPublish_DispatchesOnSignature(t *testing.T) {
	bus := eventbus.NewEventPublisher(logrus.New())

	var got []stateChanged
	bus.Subscribe(func(ev stateChanged) {
		got = append(got, ev)
	})

	bus.Publish(stateChanged{RequestID: 7, NewState: "accepted"})
	require.Len(t, got, 1)
	require.Equal(t, int64(7), got[0].RequestID)
	require.Equal(t, "accepted", got[0].NewState)
}

func TestPublish_SkipsMismatchedHandlers(t *testing.T) {
	bus := eventbus.NewEventPublisher(logrus.New())

	called := false
	bus.Subscribe(func(s string) { called = true })

	bus.Publish(stateChanged{RequestID: 1})
	require.False(t, called)
}

func TestPublishE_CollectsHandlerErrors(t *testing.T) {
	bus := eventbus.NewEventPublisher(logrus.New()).(eventbus.EventBusWithError)

	bus.Subscribe(func(ev stateChanged) error {
		return eventbus.ErrInvalidHandlerReturn
	})

	err := bus.PublishE(stateChanged{RequestID: 2})
	require.Error(t, err)
}

func TestPublishE_NoSubscribers(t *testing.T) {
	bus := eventbus.NewEventPublisher(logrus.New()).(eventbus.EventBusWithError)
	err := bus.PublishE(stateChanged{})
	require.ErrorIs(t, err, eventbus.ErrNoSubscribers)
}

func TestUnsubscribe(t *testing.T) {
	bus := eventbus.NewEventPublisher(logrus.New())
	handler := func(ev stateChanged) {}
	bus.Subscribe(handler)
	require.Equal(t, 1, bus.SubscribersCount())
	bus.Clear()
	require.Equal(t, 0, bus.SubscribersCount())
}
