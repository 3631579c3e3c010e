package rpc

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTranscodeEvent_StructRoundTrip(t *testing.T) {
	event := TranscodeEvent{ResourceID: "01ABC", Version: "Id", Status: StatusComplete}
	s, err := event.toStruct()
	require.NoError(t, err)
	require.Equal(t, event, eventFromStruct(s))
}

func TestServer_DeliversEventToHandler(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "notifier.sock")
	received := make(chan TranscodeEvent, 1)

	server := NewServer(ServerConfig{SocketPath: socketPath}, nil, func(_ context.Context, event TranscodeEvent) error {
		received <- event
		return nil
	})
	require.NoError(t, server.Start())
	defer server.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var client *Client
	var err error
	for i := 0; i < 20; i++ {
		client, err = DialClient(ctx, socketPath)
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err)
	defer client.Close()

	sent := TranscodeEvent{ResourceID: "01ABC", Version: "Id", Status: StatusFailed, Reason: "ffmpeg exited 1"}
	require.NoError(t, client.Notify(ctx, sent))

	select {
	case got := <-received:
		require.Equal(t, sent, got)
	case <-ctx.Done():
		t.Fatal("handler did not receive event in time")
	}
}
