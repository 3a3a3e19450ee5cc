// Package sfu is the media relay the voice coordinator talks to. Everything the
// coordinator knows about media is an opaque handle string returned from here.
package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
)

//go:generate mockgen -source=capability.go -destination=mocks/capability_mock.go -package=mocks

const (
	TransportPrefix = "tr-"
	ProducerPrefix  = "pr-"
	ConsumerPrefix  = "co-"
)

var (
	ErrNotFound         = errors.New("sfu handle not found")
	ErrUnsupportedKind  = errors.New("unsupported media kind")
	ErrIncompatible     = errors.New("rtp capabilities are not compatible")
	ErrCapabilityLost   = errors.New("sfu capability lost")
	ErrInvalidHandle    = errors.New("invalid sfu handle")
	ErrNegotiationState = errors.New("transport is not ready for negotiation")
)

type RTPCodec struct {
	Kind                 string `json:"kind"`
	MimeType             string `json:"mimeType"`
	ClockRate            uint32 `json:"clockRate"`
	Channels             uint16 `json:"channels,omitempty"`
	PreferredPayloadType uint8  `json:"preferredPayloadType"`
	SDPFmtpLine          string `json:"sdpFmtpLine,omitempty"`
}

type RTPCapabilities struct {
	Codecs []RTPCodec `json:"codecs"`
}

// Supports reports whether caps contain a codec with the same kind and mime type.
func (c RTPCapabilities) Supports(codec RTPCodec) bool {
	for _, own := range c.Codecs {
		if own.Kind == codec.Kind && strings.EqualFold(own.MimeType, codec.MimeType) {
			return true
		}
	}

	return false
}

type TransportInfo struct {
	ID        string `json:"id"`
	Direction string `json:"direction"`
}

type ConnectParams struct {
	Type string
	SDP  string
}

type ConnectResult struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp,omitempty"`
}

type ProduceParams struct {
	Kind          string
	RTPParameters json.RawMessage
}

type ConsumerInfo struct {
	ID         string   `json:"id"`
	ProducerID string   `json:"producerId"`
	Kind       string   `json:"kind"`
	Codec      RTPCodec `json:"codec"`
	Paused     bool     `json:"paused"`
	// Offer is set when the consumer needs a renegotiation of the transport.
	Offer string `json:"offer,omitempty"`
}

// Capability - операции SFU, которыми пользуется голосовой координатор.
//
// Close is idempotent. Closing a producer also closes every consumer of it.
// Lost is closed when the relay can no longer serve media and the process
// should be restarted.
type Capability interface {
	RTPCapabilities() RTPCapabilities

	CreateTransport(ctx context.Context, owner uuid.UUID) (TransportInfo, error)
	Connect(ctx context.Context, transport string, params ConnectParams) (ConnectResult, error)
	Produce(ctx context.Context, transport string, params ProduceParams) (string, error)
	Consume(ctx context.Context, transport, producer string, caps RTPCapabilities) (ConsumerInfo, error)
	Resume(ctx context.Context, consumer string) error
	Close(ctx context.Context, handle string) error

	Lost() <-chan struct{}
}

// KindOf returns the handle kind by its prefix: "transport", "producer" or "consumer".
func KindOf(handle string) (string, error) {
	switch {
	case strings.HasPrefix(handle, TransportPrefix):
		return "transport", nil
	case strings.HasPrefix(handle, ProducerPrefix):
		return "producer", nil
	case strings.HasPrefix(handle, ConsumerPrefix):
		return "consumer", nil
	default:
		return "", ErrInvalidHandle
	}
}
