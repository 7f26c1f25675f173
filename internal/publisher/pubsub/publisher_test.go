package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "harvest-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishSendsJSONWithEventAttribute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client, srv := newTestClient(t)
	_, err := client.CreateTopic(ctx, "products")
	require.NoError(t, err)

	pub := New(client, "product.harvested", nil)
	defer func() { require.NoError(t, pub.Close()) }()

	id, err := pub.Publish(ctx, "products", map[string]any{"product_id": "M2333T", "validated": true})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "product.harvested", msgs[0].Attributes[EventAttribute])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	require.Equal(t, "M2333T", body["product_id"])
}

func TestPublishToMissingTopicFails(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t)
	pub := New(client, "", nil)
	defer func() { require.NoError(t, pub.Close()) }()

	_, err := pub.Publish(context.Background(), "absent", map[string]string{"k": "v"})
	require.ErrorContains(t, err, "publish to absent")
}

func TestPublishRejectsMisconfiguration(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", nil)
	require.Error(t, err)
	require.NoError(t, nilPub.Close())

	client, _ := newTestClient(t)
	_, err = New(client, "", nil).Publish(context.Background(), "", nil)
	require.ErrorContains(t, err, "topic is required")

	_, err = Open(context.Background(), "", "", nil)
	require.Error(t, err)
}
