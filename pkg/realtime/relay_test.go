package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisRelayFansOutAcrossHubs(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hubA, hubB := NewHub(nil, nil), NewHub(nil, nil)
	relayA := NewRedisRelay(client, "cohort:test", hubA, nil)
	relayB := NewRedisRelay(client, "cohort:test", hubB, nil)
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()

	subA := hubA.Subscribe("a", []string{GroupLeaderboard}, 4)
	subB := hubB.Subscribe("b", []string{GroupLeaderboard}, 4)

	// Wait until both relays hold a subscription
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "cohort:test").Result()
		return err == nil && n["cohort:test"] == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, relayA.Publish(ctx, GroupLeaderboard, NewEvent(EventLeaderboardUpdate, []string{"ada"})))

	for _, sub := range []*Subscription{subA, subB} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, EventLeaderboardUpdate, ev.Type)
			assert.Equal(t, []interface{}{"ada"}, ev.Data)
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %s got nothing", sub.ID)
		}
	}
}

func TestRedisRelayDropsUnknownGroups(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(nil, nil)
	relay := NewRedisRelay(client, "cohort:test", hub, nil)
	go func() { _ = relay.Run(ctx) }()
	sub := hub.Subscribe("a", []string{GroupDashboard}, 4)

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(ctx, "cohort:test").Result()
		return err == nil && n["cohort:test"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, "cohort:test", `{"group":"*","event":{"type":"x"}}`).Err())
	require.NoError(t, client.Publish(ctx, "cohort:test", `not json`).Err())
	require.NoError(t, relay.Publish(ctx, GroupDashboard, NewEvent(EventSubmissionCreated, nil)))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, EventSubmissionCreated, ev.Type, "bad messages are skipped")
	case <-time.After(2 * time.Second):
		t.Fatal("no event relayed")
	}
}

func TestRedisRelayFallsBackToLocalDelivery(t *testing.T) {
	mr, client := newRedis(t)
	hub := NewHub(nil, nil)
	relay := NewRedisRelay(client, "cohort:test", hub, nil)
	sub := hub.Subscribe("a", []string{PersonalGroup(3)}, 1)

	mr.Close()
	err := relay.Publish(context.Background(), PersonalGroup(3), NewEvent(EventNotification, "x"))
	assert.Error(t, err)
	assert.Len(t, sub.Events(), 1)
}

func TestRedisRelayRunStopsOnCancel(t *testing.T) {
	_, client := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	relay := NewRedisRelay(client, "cohort:test", NewHub(nil, nil), nil)

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), "cohort:test").Result()
		return err == nil && n["cohort:test"] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
