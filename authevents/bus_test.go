package authevents_test

import (
	"testing"

	"github.com/jrsteele09/go-auth-session/authevents"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := authevents.NewBus(authevents.WithLogger(zerolog.Nop()))

	var got []authevents.Event
	unsubscribe := bus.Subscribe(func(e authevents.Event) { got = append(got, e) })
	bus.Subscribe(func(authevents.Event) { panic("bad listener") })

	bus.Publish(authevents.Event{Kind: authevents.SessionExpired, Reason: "refresh failed"})
	require.Len(t, got, 1)
	require.Equal(t, authevents.SessionExpired, got[0].Kind)
	require.Equal(t, "refresh failed", got[0].Reason)
	require.False(t, got[0].At.IsZero())

	unsubscribe()
	bus.Publish(authevents.Event{Kind: authevents.SessionExpired})
	require.Len(t, got, 1)
}

func TestBus_Close(t *testing.T) {
	bus := authevents.NewBus(authevents.WithLogger(zerolog.Nop()))
	calls := 0
	bus.Subscribe(func(authevents.Event) { calls++ })
	bus.Close()
	bus.Publish(authevents.Event{Kind: authevents.SessionExpired})
	require.Zero(t, calls)
}
