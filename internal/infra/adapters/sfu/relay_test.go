package sfu

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRelay(t *testing.T) *Relay {
	t.Helper()

	r, err := NewRelay(RelayConfig{ListenIP: "127.0.0.1"})
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Shutdown() })

	return r
}

func TestKindOf(t *testing.T) {
	for handle, want := range map[string]string{
		"tr-1": "transport",
		"pr-1": "producer",
		"co-1": "consumer",
	} {
		got, err := KindOf(handle)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := KindOf("xx-1")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestRelayCapabilities(t *testing.T) {
	r := newTestRelay(t)

	caps := r.RTPCapabilities()
	require.Len(t, caps.Codecs, 1)
	assert.Equal(t, webrtc.MimeTypeOpus, caps.Codecs[0].MimeType)
	assert.EqualValues(t, 48000, caps.Codecs[0].ClockRate)
	assert.EqualValues(t, 2, caps.Codecs[0].Channels)
	assert.EqualValues(t, 111, caps.Codecs[0].PreferredPayloadType)
}

func TestRelayHandleLifecycle(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	a, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.ID, TransportPrefix))

	b, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)

	_, err = r.Produce(ctx, a.ID, ProduceParams{Kind: "video"})
	assert.ErrorIs(t, err, ErrUnsupportedKind)

	_, err = r.Produce(ctx, "tr-missing", ProduceParams{Kind: "audio"})
	assert.ErrorIs(t, err, ErrNotFound)

	producer, err := r.Produce(ctx, a.ID, ProduceParams{Kind: "audio"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(producer, ProducerPrefix))

	info, err := r.Consume(ctx, b.ID, producer, r.RTPCapabilities())
	require.NoError(t, err)
	assert.True(t, info.Paused)
	assert.Equal(t, producer, info.ProducerID)
	assert.Empty(t, info.Offer)

	require.NoError(t, r.Resume(ctx, info.ID))

	// закрытие продюсера закрывает его консьюмеров
	require.NoError(t, r.Close(ctx, producer))
	assert.ErrorIs(t, r.Resume(ctx, info.ID), ErrNotFound)

	require.NoError(t, r.Close(ctx, producer))
	require.NoError(t, r.Close(ctx, a.ID))
	require.NoError(t, r.Close(ctx, a.ID))

	_, err = r.Consume(ctx, b.ID, producer, RTPCapabilities{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, r.Close(ctx, "bogus"), ErrInvalidHandle)
}

func TestRelayConsumeIncompatible(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	tr, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)

	producer, err := r.Produce(ctx, tr.ID, ProduceParams{Kind: "audio"})
	require.NoError(t, err)

	_, err = r.Consume(ctx, tr.ID, producer, RTPCapabilities{Codecs: []RTPCodec{{Kind: "audio", MimeType: "audio/PCMU"}}})
	assert.ErrorIs(t, err, ErrIncompatible)
}

func TestRelayClosingTransportClosesChildren(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	a, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)
	b, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)

	producer, err := r.Produce(ctx, a.ID, ProduceParams{Kind: "audio"})
	require.NoError(t, err)

	info, err := r.Consume(ctx, b.ID, producer, RTPCapabilities{})
	require.NoError(t, err)

	require.NoError(t, r.Close(ctx, a.ID))

	_, err = r.Consume(ctx, b.ID, producer, RTPCapabilities{})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Resume(ctx, info.ID), ErrNotFound)
}

func TestRelayConnectAnswersOffer(t *testing.T) {
	r := newTestRelay(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tr, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)

	client, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio)
	require.NoError(t, err)

	offer, err := client.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, client.SetLocalDescription(offer))

	res, err := r.Connect(ctx, tr.ID, ConnectParams{Type: "offer", SDP: offer.SDP})
	require.NoError(t, err)
	assert.Equal(t, "answer", res.Type)
	assert.Contains(t, res.SDP, "opus/48000/2")

	require.NoError(t, client.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: res.SDP}))

	_, err = r.Connect(ctx, tr.ID, ConnectParams{Type: "pranswer", SDP: "x"})
	assert.ErrorIs(t, err, ErrNegotiationState)
}

func TestRelayConnectRejectsBadSDP(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	tr, err := r.CreateTransport(ctx, uuid.New())
	require.NoError(t, err)

	_, err = r.Connect(ctx, tr.ID, ConnectParams{Type: "offer", SDP: "garbage"})
	assert.ErrorIs(t, err, ErrNegotiationState)

	// answer без нашего offer
	_, err = r.Connect(ctx, tr.ID, ConnectParams{Type: "answer", SDP: "garbage"})
	assert.ErrorIs(t, err, ErrNegotiationState)
}

func TestRelayConsumeRacingProducerClose(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	for range 20 {
		a, err := r.CreateTransport(ctx, uuid.New())
		require.NoError(t, err)
		b, err := r.CreateTransport(ctx, uuid.New())
		require.NoError(t, err)

		producer, err := r.Produce(ctx, a.ID, ProduceParams{Kind: "audio"})
		require.NoError(t, err)

		var consumed ConsumerInfo
		var consumeErr error

		var wg conc.WaitGroup
		wg.Go(func() {
			consumed, consumeErr = r.Consume(ctx, b.ID, producer, RTPCapabilities{})
		})
		wg.Go(func() {
			_ = r.Close(ctx, producer)
		})
		wg.Wait()

		// консьюмер не переживает своего продюсера
		if consumeErr == nil {
			assert.ErrorIs(t, r.Resume(ctx, consumed.ID), ErrNotFound)
		} else {
			assert.ErrorIs(t, consumeErr, ErrNotFound)
		}

		r.mu.Lock()
		assert.Empty(t, r.consumers)
		assert.Empty(t, r.transports[b.ID].consumers)
		r.mu.Unlock()

		require.NoError(t, r.Close(ctx, a.ID))
		require.NoError(t, r.Close(ctx, b.ID))
	}
}

func TestRelayLostOnSocketFailure(t *testing.T) {
	r := newTestRelay(t)

	select {
	case <-r.Lost():
		t.Fatal("relay lost before failure")
	default:
	}

	require.NoError(t, r.sock.PacketConn.Close())

	require.Eventually(t, func() bool {
		select {
		case <-r.Lost():
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	_, err := r.CreateTransport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCapabilityLost)
}

func TestRelayShutdownIsNotLoss(t *testing.T) {
	r, err := NewRelay(RelayConfig{ListenIP: "127.0.0.1"})
	require.NoError(t, err)

	_ = r.Shutdown()

	time.Sleep(50 * time.Millisecond)

	select {
	case <-r.Lost():
		t.Fatal("shutdown reported as loss")
	default:
	}
}
