package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChannelManager(t *testing.T, topology Topology, handler DeliveryHandler) (*ChannelManager, *fakeConnection) {
	t.Helper()
	if handler == nil {
		handler = func(Delivery) {}
	}
	conn := newFakeConnection()
	dialer := &fakeDialer{conns: []*fakeConnection{conn}}
	cm := NewConnectionManager([]string{"amqp://localhost"}, WithDialer(dialer))
	return NewChannelManager(cm, topology, handler), conn
}

func TestChannelCreation(t *testing.T) {
	t.Run("applies topology then starts consuming", func(t *testing.T) {
		topo := Topology{
			Queue: "test",
			Exchange: &ExchangeSpec{
				Name:       "string",
				Type:       "fanout",
				RoutingKey: "string",
			},
			PrefetchCount:  10,
			GlobalPrefetch: true,
			NoAck:          true,
		}
		cm, conn := newTestChannelManager(t, topo, nil)

		_, err := cm.Channel(context.Background())
		require.NoError(t, err)

		require.Len(t, conn.channels, 1)
		assert.Equal(t, []string{
			"declareQueue:test",
			"declareExchange:string:fanout",
			"bindQueue:test:string:string",
			"qos:10:true",
			"consume:" + DirectReplyQueue,
		}, conn.channels[0].opLog())
	})

	t.Run("returns the existing channel without creating another", func(t *testing.T) {
		cm, conn := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)

		first, err := cm.Channel(context.Background())
		require.NoError(t, err)
		second, err := cm.Channel(context.Background())
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Len(t, conn.channels, 1)
	})

	t.Run("consumes the configured reply queue", func(t *testing.T) {
		topo := Topology{Queue: "jobs", ReplyQueue: "jobs.replies", NoAck: true}
		cm, conn := newTestChannelManager(t, topo, nil)

		_, err := cm.Channel(context.Background())
		require.NoError(t, err)

		assert.Contains(t, conn.channels[0].opLog(), "consume:jobs.replies")
	})

	t.Run("discards the channel when topology setup fails", func(t *testing.T) {
		cm, conn := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)
		broken := newFakeChannel()
		broken.declareQueueErr = errors.New("PRECONDITION_FAILED")
		conn.nextChannel = broken

		_, err := cm.Channel(context.Background())

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.True(t, broken.IsClosed())

		// The failed channel is not reused: the next call creates fresh.
		healthy, err := cm.Channel(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, Channel(broken), healthy)
	})

	t.Run("consume failure aborts creation", func(t *testing.T) {
		cm, conn := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)
		broken := newFakeChannel()
		broken.consumeErr = errors.New("no such queue")
		conn.nextChannel = broken

		_, err := cm.Channel(context.Background())

		var topoErr *TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "consumer", topoErr.Component)
		assert.True(t, broken.IsClosed())
	})

	t.Run("concurrent first use creates exactly one channel", func(t *testing.T) {
		gate := make(chan struct{})
		conn := newFakeConnection()
		conn.channelGate = gate
		dialer := &fakeDialer{conns: []*fakeConnection{conn}}
		conns := NewConnectionManager([]string{"amqp://localhost"}, WithDialer(dialer))
		cm := NewChannelManager(conns, Topology{Queue: "jobs", NoAck: true}, func(Delivery) {})

		var wg sync.WaitGroup
		channels := make([]Channel, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ch, err := cm.Channel(context.Background())
				assert.NoError(t, err)
				channels[i] = ch
			}(i)
		}

		time.Sleep(50 * time.Millisecond)
		close(gate)
		wg.Wait()

		assert.Len(t, conn.channels, 1)
		assert.Same(t, channels[0], channels[1])
	})

	t.Run("replaces a channel that died", func(t *testing.T) {
		cm, conn := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)

		first, err := cm.Channel(context.Background())
		require.NoError(t, err)

		conn.channels[0].die()

		second, err := cm.Channel(context.Background())
		require.NoError(t, err)
		assert.NotSame(t, first, second)
		assert.Len(t, conn.channels, 2)
	})
}

func TestChannelDeliveries(t *testing.T) {
	t.Run("routes inbound frames to the handler", func(t *testing.T) {
		var mu sync.Mutex
		var got []Delivery
		cm, conn := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true},
			func(d Delivery) {
				mu.Lock()
				got = append(got, d)
				mu.Unlock()
			},
		)

		_, err := cm.Channel(context.Background())
		require.NoError(t, err)

		conn.channels[0].deliver(Delivery{CorrelationID: "abc", Body: []byte(`{}`)})

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, time.Second, 10*time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "abc", got[0].CorrelationID)
	})
}

func TestChannelManagerClose(t *testing.T) {
	t.Run("rejects use after close", func(t *testing.T) {
		cm, _ := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)

		_, err := cm.Channel(context.Background())
		require.NoError(t, err)

		require.NoError(t, cm.Close())

		_, err = cm.Channel(context.Background())
		assert.ErrorIs(t, err, ErrChannelManagerClosed)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		cm, _ := newTestChannelManager(t, Topology{Queue: "jobs", NoAck: true}, nil)
		assert.NoError(t, cm.Close())
		assert.NoError(t, cm.Close())
	})
}
