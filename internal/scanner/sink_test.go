package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

type memBus struct {
	published map[string][][]byte
	streams   map[string][][]byte
	err       error
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.err != nil {
		return b.err
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.streams[stream] = append(b.streams[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestBusSink(t *testing.T) {
	bus := newMemBus()
	opp := domain.Opportunity{ID: "o1", Title: "AK", Game: domain.GameCS2, BuyPrice: 100, EstimatedProfit: decimal.RequireFromString("42.5")}

	require.NoError(t, BusSink{Bus: bus}.Emit(context.Background(), opp))

	require.Len(t, bus.published[ChannelOpportunities], 1)
	require.Len(t, bus.streams[StreamOpportunities], 1)
	var ev OpportunityEvent
	require.NoError(t, json.Unmarshal(bus.published[ChannelOpportunities][0], &ev))
	assert.Equal(t, "o1", ev.ID)
	assert.Equal(t, "42.5", ev.EstimatedProfit)
	assert.Equal(t, "csgo", ev.Game)
}

func TestEventPublisherSwallowsBusErrors(t *testing.T) {
	bus := newMemBus()
	bus.err = errors.New("redis down")
	p := NewEventPublisher(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), ScanEvent{ScanID: "s1"})
	})

	var nilPub *EventPublisher
	assert.NotPanics(t, func() { nilPub.Publish(context.Background(), ScanEvent{}) })
}

func TestFanOutEmitsToAll(t *testing.T) {
	var got []string
	failing := SinkFunc(func(context.Context, domain.Opportunity) error { return errors.New("first") })
	recording := SinkFunc(func(_ context.Context, opp domain.Opportunity) error {
		got = append(got, opp.ID)
		return nil
	})

	err := FanOut{failing, nil, recording}.Emit(context.Background(), domain.Opportunity{ID: "o1"})

	require.EqualError(t, err, "first")
	assert.Equal(t, []string{"o1"}, got)
}

func TestChannelSinkHonoursContext(t *testing.T) {
	ch := make(chan domain.Opportunity)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := ChannelSink{C: ch}.Emit(ctx, domain.Opportunity{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifySinkWithoutNotifier(t *testing.T) {
	assert.NoError(t, NotifySink{}.Emit(context.Background(), domain.Opportunity{}))
}
