package sfu

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/qrave1/parley/internal/application/constant"
	"github.com/qrave1/parley/internal/application/metric"
)

var opusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

type RelayConfig struct {
	ListenIP    string
	UDPPort     int
	AnnouncedIP string
}

// Relay - SFU на pion. Все транспорты делят один UDP сокет; если чтение из него
// ломается, Relay считается потерянным.
type Relay struct {
	api  *webrtc.API
	sock *watchedConn
	mux  io.Closer

	lost     chan struct{}
	lostOnce sync.Once

	mu         sync.Mutex
	transports map[string]*transport
	producers  map[string]*producer
	consumers  map[string]*consumer
}

type transport struct {
	id    string
	owner uuid.UUID
	pc    *webrtc.PeerConnection

	// remote tracks that arrived before the matching Produce call
	pendingTracks []*webrtc.TrackRemote
	// producers still waiting for their remote track
	waiting []*producer

	producers map[string]*producer
	consumers map[string]*consumer
}

type producer struct {
	id        string
	kind      webrtc.RTPCodecType
	transport *transport

	mu        sync.RWMutex
	consumers map[string]*consumer
	closed    chan struct{}
}

type consumer struct {
	id        string
	producer  *producer
	transport *transport
	track     *webrtc.TrackLocalStaticRTP
	sender    *webrtc.RTPSender
	paused    atomic.Bool
}

func NewRelay(cfg RelayConfig) (*Relay, error) {
	listenIP := net.IPv4zero
	if cfg.ListenIP != "" {
		listenIP = net.ParseIP(cfg.ListenIP)
	}

	udp, err := net.ListenUDP("udp4", &net.UDPAddr{IP: listenIP, Port: cfg.UDPPort})
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}

	r := &Relay{
		lost:       make(chan struct{}),
		transports: make(map[string]*transport),
		producers:  make(map[string]*producer),
		consumers:  make(map[string]*consumer),
	}
	r.sock = &watchedConn{PacketConn: udp, onFailure: r.markLost}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		_ = udp.Close()
		return nil, fmt.Errorf("register opus codec: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: slogLoggerFactory{}}
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})

	mux := webrtc.NewICEUDPMux(se.LoggerFactory.NewLogger("ice-mux"), r.sock)
	se.SetICEUDPMux(mux)
	r.mux = mux

	if cfg.AnnouncedIP != "" {
		se.SetNAT1To1IPs([]string{cfg.AnnouncedIP}, webrtc.ICECandidateTypeHost)
	}

	r.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithSettingEngine(se),
	)

	slog.Info("sfu relay listening", slog.String("addr", udp.LocalAddr().String()))

	return r, nil
}

func (r *Relay) Lost() <-chan struct{} {
	return r.lost
}

func (r *Relay) markLost(err error) {
	r.lostOnce.Do(func() {
		slog.Error("sfu socket failed", slog.Any(constant.Error, err))
		close(r.lost)
	})
}

func (r *Relay) RTPCapabilities() RTPCapabilities {
	return RTPCapabilities{Codecs: []RTPCodec{codecOf(opusCodec)}}
}

func codecOf(p webrtc.RTPCodecParameters) RTPCodec {
	return RTPCodec{
		Kind:                 webrtc.RTPCodecTypeAudio.String(),
		MimeType:             p.MimeType,
		ClockRate:            p.ClockRate,
		Channels:             p.Channels,
		PreferredPayloadType: uint8(p.PayloadType),
		SDPFmtpLine:          p.SDPFmtpLine,
	}
}

func (r *Relay) CreateTransport(ctx context.Context, owner uuid.UUID) (TransportInfo, error) {
	select {
	case <-r.lost:
		return TransportInfo{}, ErrCapabilityLost
	default:
	}

	pc, err := r.api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return TransportInfo{}, fmt.Errorf("create peer connection: %w", err)
	}

	t := &transport{
		id:        TransportPrefix + uuid.NewString(),
		owner:     owner,
		pc:        pc,
		producers: make(map[string]*producer),
		consumers: make(map[string]*consumer),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.attachTrack(t, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			slog.Warn(
				"transport failed",
				slog.String(constant.Handle, t.id),
				slog.Any(constant.UserID, owner),
			)
		}
	})

	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()

	metric.IncrementSFUHandles("transport")

	return TransportInfo{ID: t.id, Direction: webrtc.RTPTransceiverDirectionSendrecv.String()}, nil
}

func (r *Relay) getTransport(id string) (*transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.transports[id]
	if !ok {
		return nil, fmt.Errorf("transport %s: %w", id, ErrNotFound)
	}

	return t, nil
}

// Connect применяет SDP клиента. На offer возвращает answer с собранными кандидатами.
func (r *Relay) Connect(ctx context.Context, id string, params ConnectParams) (ConnectResult, error) {
	t, err := r.getTransport(id)
	if err != nil {
		return ConnectResult{}, err
	}

	switch params.Type {
	case webrtc.SDPTypeAnswer.String():
		err = t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: params.SDP})
		if err != nil {
			return ConnectResult{}, fmt.Errorf("set remote answer: %w: %w", ErrNegotiationState, err)
		}

		return ConnectResult{}, nil

	case webrtc.SDPTypeOffer.String(), "":
	default:
		return ConnectResult{}, fmt.Errorf("sdp type %q: %w", params.Type, ErrNegotiationState)
	}

	if err = t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: params.SDP}); err != nil {
		return ConnectResult{}, fmt.Errorf("set remote offer: %w: %w", ErrNegotiationState, err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return ConnectResult{}, fmt.Errorf("create answer: %w", err)
	}

	local, err := r.setLocal(ctx, t.pc, answer)
	if err != nil {
		return ConnectResult{}, err
	}

	return ConnectResult{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (r *Relay) setLocal(
	ctx context.Context,
	pc *webrtc.PeerConnection,
	desc webrtc.SessionDescription,
) (*webrtc.SessionDescription, error) {
	gathered := webrtc.GatheringCompletePromise(pc)

	if err := pc.SetLocalDescription(desc); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return pc.LocalDescription(), nil
}

func kindOf(kind string) (webrtc.RTPCodecType, error) {
	if strings.EqualFold(kind, webrtc.RTPCodecTypeAudio.String()) {
		return webrtc.RTPCodecTypeAudio, nil
	}

	return 0, fmt.Errorf("%q: %w", kind, ErrUnsupportedKind)
}

func (r *Relay) Produce(ctx context.Context, id string, params ProduceParams) (string, error) {
	kind, err := kindOf(params.Kind)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	t, ok := r.transports[id]
	if !ok {
		r.mu.Unlock()
		return "", fmt.Errorf("transport %s: %w", id, ErrNotFound)
	}

	p := &producer{
		id:        ProducerPrefix + uuid.NewString(),
		kind:      kind,
		transport: t,
		consumers: make(map[string]*consumer),
		closed:    make(chan struct{}),
	}

	t.producers[p.id] = p
	r.producers[p.id] = p

	var track *webrtc.TrackRemote
	for i, pending := range t.pendingTracks {
		if pending.Kind() == kind {
			track = pending
			t.pendingTracks = append(t.pendingTracks[:i], t.pendingTracks[i+1:]...)
			break
		}
	}

	if track == nil {
		t.waiting = append(t.waiting, p)
	}
	r.mu.Unlock()

	metric.IncrementSFUHandles("producer")

	if track != nil {
		go r.forward(p, track)
	}

	return p.id, nil
}

func (r *Relay) attachTrack(t *transport, track *webrtc.TrackRemote) {
	r.mu.Lock()

	var p *producer
	for i, w := range t.waiting {
		if w.kind == track.Kind() {
			p = w
			t.waiting = append(t.waiting[:i], t.waiting[i+1:]...)
			break
		}
	}

	if p == nil {
		t.pendingTracks = append(t.pendingTracks, track)
	}
	r.mu.Unlock()

	if p != nil {
		r.forward(p, track)
	}
}

// forward читает RTP продюсера и раздает его всем не приостановленным консьюмерам.
func (r *Relay) forward(p *producer, track *webrtc.TrackRemote) {
	for {
		select {
		case <-p.closed:
			return
		default:
		}

		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("RTP read stopped", slog.String(constant.Handle, p.id), slog.Any(constant.Error, err))
			}

			return
		}

		p.fanout(pkt)
	}
}

func (p *producer) fanout(pkt *rtp.Packet) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, c := range p.consumers {
		if c.paused.Load() {
			continue
		}

		if err := c.track.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			slog.Error(
				"write RTP",
				slog.Any(constant.Error, err),
				slog.String(constant.Handle, c.id),
			)
		}
	}
}

func (r *Relay) Consume(ctx context.Context, id, producerID string, caps RTPCapabilities) (ConsumerInfo, error) {
	codec := codecOf(opusCodec)
	if len(caps.Codecs) > 0 && !caps.Supports(codec) {
		return ConsumerInfo{}, ErrIncompatible
	}

	r.mu.Lock()
	t, ok := r.transports[id]
	if !ok {
		r.mu.Unlock()
		return ConsumerInfo{}, fmt.Errorf("transport %s: %w", id, ErrNotFound)
	}

	p, ok := r.producers[producerID]
	if !ok {
		r.mu.Unlock()
		return ConsumerInfo{}, fmt.Errorf("producer %s: %w", producerID, ErrNotFound)
	}
	r.mu.Unlock()

	c := &consumer{
		id:        ConsumerPrefix + uuid.NewString(),
		producer:  p,
		transport: t,
	}
	c.paused.Store(true)

	track, err := webrtc.NewTrackLocalStaticRTP(opusCodec.RTPCodecCapability, "audio", p.id)
	if err != nil {
		return ConsumerInfo{}, fmt.Errorf("create local track: %w", err)
	}
	c.track = track

	sender, err := t.pc.AddTrack(track)
	if err != nil {
		return ConsumerInfo{}, fmt.Errorf("add track: %w", err)
	}
	c.sender = sender

	go readRTCP(c)

	r.mu.Lock()
	// продюсер или транспорт могли закрыться, пока добавляли трек
	_, producerAlive := r.producers[p.id]
	_, transportAlive := r.transports[t.id]
	if !producerAlive || !transportAlive {
		r.mu.Unlock()
		_ = t.pc.RemoveTrack(sender)

		return ConsumerInfo{}, fmt.Errorf("producer %s: %w", p.id, ErrNotFound)
	}

	t.consumers[c.id] = c
	r.consumers[c.id] = c

	// под r.mu, иначе closeProducer может не увидеть консьюмера
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
	r.mu.Unlock()

	metric.IncrementSFUHandles("consumer")

	info := ConsumerInfo{
		ID:         c.id,
		ProducerID: p.id,
		Kind:       p.kind.String(),
		Codec:      codec,
		Paused:     true,
	}

	// После подключения новый трек требует пересогласования, клиент ответит через connectTransport
	if t.pc.RemoteDescription() != nil && t.pc.SignalingState() == webrtc.SignalingStateStable {
		offer, err := t.pc.CreateOffer(nil)
		if err != nil {
			return info, fmt.Errorf("create offer: %w", err)
		}

		local, err := r.setLocal(ctx, t.pc, offer)
		if err != nil {
			return info, err
		}

		info.Offer = local.SDP
	}

	return info, nil
}

func readRTCP(c *consumer) {
	for {
		packets, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}

		for _, pkt := range packets {
			if rr, ok := pkt.(*rtcp.ReceiverReport); ok {
				for _, report := range rr.Reports {
					if report.FractionLost > 0 {
						slog.Debug(
							"consumer packet loss",
							slog.String(constant.Handle, c.id),
							slog.Int("fraction_lost", int(report.FractionLost)),
						)
					}
				}
			}
		}
	}
}

func (r *Relay) Resume(ctx context.Context, id string) error {
	r.mu.Lock()
	c, ok := r.consumers[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("consumer %s: %w", id, ErrNotFound)
	}

	c.paused.Store(false)

	return nil
}

// Close закрывает хэндл любого типа. Уже закрытый хэндл не ошибка.
func (r *Relay) Close(ctx context.Context, handle string) error {
	kind, err := KindOf(handle)
	if err != nil {
		return err
	}

	switch kind {
	case "transport":
		return r.closeTransport(handle)
	case "producer":
		r.closeProducer(handle)
	case "consumer":
		r.closeConsumer(handle)
	}

	return nil
}

func (r *Relay) closeTransport(id string) error {
	r.mu.Lock()
	t, ok := r.transports[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.transports, id)

	producers := make([]string, 0, len(t.producers))
	for pid := range t.producers {
		producers = append(producers, pid)
	}

	consumers := make([]string, 0, len(t.consumers))
	for cid := range t.consumers {
		consumers = append(consumers, cid)
	}
	r.mu.Unlock()

	for _, cid := range consumers {
		r.closeConsumer(cid)
	}

	for _, pid := range producers {
		r.closeProducer(pid)
	}

	metric.DecrementSFUHandles("transport")

	if err := t.pc.Close(); err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}

	return nil
}

func (r *Relay) closeProducer(id string) {
	r.mu.Lock()
	p, ok := r.producers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.producers, id)
	delete(p.transport.producers, id)

	for i, w := range p.transport.waiting {
		if w == p {
			p.transport.waiting = append(p.transport.waiting[:i], p.transport.waiting[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	close(p.closed)

	p.mu.RLock()
	consumers := make([]string, 0, len(p.consumers))
	for cid := range p.consumers {
		consumers = append(consumers, cid)
	}
	p.mu.RUnlock()

	for _, cid := range consumers {
		r.closeConsumer(cid)
	}

	metric.DecrementSFUHandles("producer")
}

func (r *Relay) closeConsumer(id string) {
	r.mu.Lock()
	c, ok := r.consumers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.consumers, id)
	delete(c.transport.consumers, id)
	r.mu.Unlock()

	c.producer.mu.Lock()
	delete(c.producer.consumers, id)
	c.producer.mu.Unlock()

	if err := c.transport.pc.RemoveTrack(c.sender); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		slog.Debug("remove consumer track", slog.String(constant.Handle, id), slog.Any(constant.Error, err))
	}

	metric.DecrementSFUHandles("consumer")
}

// Shutdown закрывает все транспорты и UDP сокет. Lost при этом не срабатывает.
func (r *Relay) Shutdown() error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, r.closeTransport(id))
	}

	r.sock.closing.Store(true)

	if err := r.mux.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close udp mux: %w", err))
	}

	// mux может не закрыть сокет сам
	_ = r.sock.Close()

	return errs
}

// watchedConn сообщает о первой ошибке чтения, если сокет не закрывали намеренно.
type watchedConn struct {
	net.PacketConn

	closing   atomic.Bool
	onFailure func(error)
}

func (c *watchedConn) ReadFrom(p []byte) (int, net.Addr, error) {
	n, addr, err := c.PacketConn.ReadFrom(p)
	if err != nil && !c.closing.Load() {
		c.onFailure(err)
	}

	return n, addr, err
}
