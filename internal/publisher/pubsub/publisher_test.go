package pubsub

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	var got *pubsub.Message
	var gotTopic string
	p := &Publisher{send: func(_ context.Context, topic string, msg *pubsub.Message) (string, error) {
		gotTopic, got = topic, msg
		return "msg-1", nil
	}}

	id, err := p.Publish(context.Background(), "postsync-runs", map[string]int{"ingested": 3})
	require.NoError(t, err)
	require.Equal(t, "msg-1", id)
	require.Equal(t, "postsync-runs", gotTopic)
	require.JSONEq(t, `{"ingested":3}`, string(got.Data))
	require.Equal(t, "application/json", got.Attributes["content-type"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	p := &Publisher{send: func(context.Context, string, *pubsub.Message) (string, error) {
		return "", boom
	}}
	_, err := p.Publish(context.Background(), "t", "x")
	require.ErrorIs(t, err, boom)

	_, err = p.Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, err = p.Publish(context.Background(), "t", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = New(nil)
	require.Error(t, err)
}
