package ingress

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSocketRunDeliversDatagrams(t *testing.T) {
	s, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	out := make(chan RawMessage, 1)
	go s.Run(out)

	sender, err := net.Dial("udp", s.conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	_, err = sender.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case msg := <-out:
		require.Equal(t, []byte("hello"), msg.Bytes)
		require.NotZero(t, msg.ReceivedAtMicros)
	case <-time.After(time.Second):
		t.Fatal("expected a datagram to be delivered")
	}

	require.NoError(t, s.Close())
}

func TestSocketCloseStopsRun(t *testing.T) {
	s, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	out := make(chan RawMessage)
	done := make(chan struct{})
	go func() {
		s.Run(out)
		close(done)
	}()

	require.NoError(t, s.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
