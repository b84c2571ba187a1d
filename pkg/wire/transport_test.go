package wire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func echoHandler(_ context.Context, req Message) (Message, error) {
	return Message{
		Header:  Header{MessageType: req.Header.MessageType, RequestID: req.Header.RequestID},
		Payload: append([]byte(nil), req.Payload...),
	}, nil
}

func TestServerClientCallRoundTrip(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", "node-1", "node-one", time.Second, echoHandler)
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	client, err := Dial(srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(context.Background(), Message{
		Header:  Header{MessageType: "ping", RequestID: "r1"},
		Payload: []byte("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, "ping", resp.Header.MessageType)
	require.Equal(t, []byte("hello"), resp.Payload)
}

func TestClientCallSerializesMultipleRequests(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", "node-1", "node-one", 0, echoHandler)
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	client, err := Dial(srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	for i := 0; i < 5; i++ {
		resp, err := client.Call(context.Background(), Message{
			Header: Header{MessageType: "ping", RequestID: "r"},
		})
		require.NoError(t, err)
		require.Equal(t, "ping", resp.Header.MessageType)
	}
}

func TestClientCallReconnectsAfterServerCloses(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", "node-1", "node-one", 0, echoHandler)
	require.NoError(t, err)
	addr := srv.Addr()
	go srv.Serve()

	client, err := Dial(addr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Call(context.Background(), Message{Header: Header{MessageType: "ping"}})
	require.NoError(t, err)

	srv.Close()
	// Server.Close only stops the listener; drop the client's connection
	// too so the next Call has to reconnect to the new server.
	client.conn.Close()
	time.Sleep(20 * time.Millisecond)

	srv2, err := Listen(addr, "node-1", "node-one", 0, echoHandler)
	require.NoError(t, err)
	defer srv2.Close()
	go srv2.Serve()

	resp, err := client.Call(context.Background(), Message{Header: Header{MessageType: "ping2"}})
	require.NoError(t, err)
	require.Equal(t, "ping2", resp.Header.MessageType)
}

func TestHandlerErrorReturnsErrorFrame(t *testing.T) {
	failing := func(_ context.Context, req Message) (Message, error) {
		return Message{}, require.AnError
	}
	srv, err := Listen("127.0.0.1:0", "node-1", "node-one", 0, failing)
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	client, err := Dial(srv.Addr())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call(context.Background(), Message{Header: Header{MessageType: "ping", RequestID: "r9"}})
	require.NoError(t, err)
	require.Equal(t, "error", resp.Header.MessageType)
	require.Equal(t, "r9", resp.Header.RequestID)
}
