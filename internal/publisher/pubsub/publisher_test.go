package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type testEvent struct {
	Type   string `json:"type"`
	ItemID int64  `json:"item_id"`
}

func (e testEvent) EventAttributes() map[string]string {
	return map[string]string{"event_type": e.Type}
}

func TestPublishSendsJSONWithAttributes(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/catalog/topics/events"})
	require.NoError(t, err)

	pub, err := Connect(ctx, "catalog", "events", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "events", testEvent{Type: "item.enriched", ItemID: 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "item.enriched", msgs[0].Attributes["event_type"])
	var got testEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, testEvent{Type: "item.enriched", ItemID: 42}, got)
}

func TestConnectMissingTopic(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = Connect(ctx, "catalog", "missing", option.WithGRPCConn(conn))
	require.Error(t, err)
}

func TestPublishWithoutPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "events", map[string]string{})
	require.Error(t, err)
}
