package nats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// startTestServer runs an in-process NATS server on a random port.
func startTestServer(t *testing.T) *natsserver.Server {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatal("nats server failed to start")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestPublisherDeliversJSON(t *testing.T) {
	t.Parallel()

	ns := startTestServer(t)
	pub, err := Connect(Config{URL: ns.ClientURL(), SubjectPrefix: "depfollow."}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	sub, err := natsgo.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	received := make(chan *natsgo.Msg, 1)
	s, err := sub.ChanSubscribe("depfollow.versions", received)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Unsubscribe() })
	require.NoError(t, sub.Flush())

	id, err := pub.Publish(context.Background(), "versions", map[string]any{"package": "left-pad", "sequence": 42})
	require.NoError(t, err)
	require.Equal(t, "depfollow.versions", id)

	select {
	case msg := <-received:
		var got map[string]any
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		require.Equal(t, "left-pad", got["package"])
		require.EqualValues(t, 42, got["sequence"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	ns := startTestServer(t)
	nc, err := natsgo.Connect(ns.ClientURL())
	require.NoError(t, err)
	pub := New(nc, "", nil)

	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
	_, err = pub.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	nc.Close()
	_, err = pub.Publish(context.Background(), "t", "x")
	require.Error(t, err)

	_, err = New(nil, "", nil).Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "not configured")
}
