package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRequiresClientAndBucket(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newWithWriter(Config{}, nil)
	require.Error(t, err)
}

func TestPutObjectUsesPrefix(t *testing.T) {
	t.Parallel()

	rec := &recordingWriter{}
	var gotBucket, gotObject, gotType string
	store, err := newWithWriter(Config{Bucket: "archive", Prefix: "/postsync/runs/"},
		func(_ context.Context, bucket, object, contentType string) io.WriteCloser {
			gotBucket, gotObject, gotType = bucket, object, contentType
			return rec
		})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "2024/05/01/run.json", "application/json", []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/postsync/runs/2024/05/01/run.json", uri)
	require.Equal(t, "archive", gotBucket)
	require.Equal(t, "postsync/runs/2024/05/01/run.json", gotObject)
	require.Equal(t, "application/json", gotType)
	require.Equal(t, "{}", rec.buf.String())
	require.True(t, rec.closed)

	_, err = store.PutObject(context.Background(), " ", "", nil)
	require.Error(t, err)
}

func TestPutObjectSurfacesWriterErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("upload failed")
	store, err := newWithWriter(Config{Bucket: "archive"},
		func(context.Context, string, string, string) io.WriteCloser {
			return &recordingWriter{closeErr: boom}
		})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "run.json", "", []byte("x"))
	require.ErrorIs(t, err, boom)

	store, err = newWithWriter(Config{Bucket: "archive"},
		func(context.Context, string, string, string) io.WriteCloser {
			return &recordingWriter{writeErr: boom}
		})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "run.json", "", []byte("x"))
	require.ErrorIs(t, err, boom)
}

type recordingWriter struct {
	buf      bytes.Buffer
	closed   bool
	writeErr error
	closeErr error
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.writeErr != nil {
		return 0, w.writeErr
	}
	return w.buf.Write(p)
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return w.closeErr
}
