package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/qrave1/parley/internal/domain/models"
)

// Message - входящее событие от клиента
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Входящие события
const (
	JoinRoom            = "joinRoom"
	LeaveRoom           = "leaveRoom"
	SendMessage         = "sendMessage"
	MarkRead            = "markRead"
	GetReadReceipts     = "getReadReceipts"
	Typing              = "typing"
	StopTyping          = "stopTyping"
	JoinVoice           = "joinVoice"
	LeaveVoice          = "leaveVoice"
	CreateTransport     = "createTransport"
	ConnectTransport    = "connectTransport"
	Produce             = "produce"
	Consume             = "consume"
	ResumeConsumer      = "resumeConsumer"
	UpdateControl       = "updateControl"
	UpdateAudioSettings = "updateAudioSettings"
	Ping                = "ping"
)

// Исходящие события
const (
	TypeAck             = "ack"
	TypeError           = "error"
	RoomMessage         = "roomMessage"
	DirectMessage       = "directMessage"
	MessageRead         = "messageRead"
	UserTyping          = "userTyping"
	UserStoppedTyping   = "userStoppedTyping"
	UserTypingDM        = "userTypingDM"
	UserStoppedTypingDM = "userStoppedTypingDM"
	UserJoined          = "userJoined"
	UserLeft            = "userLeft"
	NewProducer         = "newProducer"
	VoiceControlUpdate  = "voiceControlUpdate"
)

// Outbound - событие, которое сервер отправляет клиенту
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack - ответ на входящее событие с тем же id
type Ack struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	Event string    `json:"event"`
	Data  any       `json:"data,omitempty"`
	Error *AckError `json:"error,omitempty"`
}

// RoomRequest - joinRoom / leaveRoom
type RoomRequest struct {
	Room string `json:"room"`
}

type SendMessageRequest struct {
	Room        string              `json:"room,omitempty"`
	RecipientID string              `json:"recipientId,omitempty"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type SendMessageResult struct {
	MessageID uuid.UUID `json:"messageId"`
}

type MessageRequest struct {
	MessageID string `json:"messageId"`
}

type ReadReceipts struct {
	MessageID uuid.UUID            `json:"messageId"`
	Room      string               `json:"room,omitempty"`
	UserID    uuid.UUID            `json:"userId,omitzero"`
	ReadBy    []models.ReadReceipt `json:"readBy"`
}

// TypingRequest - typing / stopTyping в комнату или в личку
type TypingRequest struct {
	Room        string `json:"room,omitempty"`
	RecipientID string `json:"recipientId,omitempty"`
}

type TypingEvent struct {
	UserID      uuid.UUID `json:"userId"`
	Room        string    `json:"room,omitempty"`
	RecipientID uuid.UUID `json:"recipientId,omitzero"`
}

type JoinVoiceRequest struct {
	ChannelID string `json:"channelId"`
}

type VoiceUser struct {
	UserID     uuid.UUID `json:"userId"`
	IsMuted    bool      `json:"isMuted"`
	IsDeafened bool      `json:"isDeafened"`
	ProducerID string    `json:"producerId,omitempty"`
}

type JoinVoiceResult struct {
	ChannelID       uuid.UUID   `json:"channelId"`
	RTPCapabilities any         `json:"rtpCapabilities"`
	Users           []VoiceUser `json:"users"`
}

type VoiceUserEvent struct {
	ChannelID  uuid.UUID `json:"channelId"`
	UserID     uuid.UUID `json:"userId"`
	ProducerID string    `json:"producerId,omitempty"`
}

type LeaveVoiceResult struct {
	ChannelID uuid.UUID `json:"channelId,omitzero"`
}

type ConnectTransportRequest struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type ConnectTransportResult struct {
	Type string `json:"type,omitempty"`
	SDP  string `json:"sdp,omitempty"`
}

type ProduceRequest struct {
	Kind          string          `json:"kind"`
	RTPParameters json.RawMessage `json:"rtpParameters,omitempty"`
}

type ProduceResult struct {
	ProducerID string `json:"producerId"`
}

type NewProducerEvent struct {
	ChannelID  uuid.UUID `json:"channelId"`
	UserID     uuid.UUID `json:"userId"`
	ProducerID string    `json:"producerId"`
	Kind       string    `json:"kind"`
}

type ConsumeRequest struct {
	ProducerID      string          `json:"producerId"`
	RTPCapabilities json.RawMessage `json:"rtpCapabilities,omitempty"`
}

type ResumeConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type UpdateControlRequest struct {
	ChannelID    string   `json:"channelId"`
	IsMuted      *bool    `json:"isMuted,omitempty"`
	IsDeafened   *bool    `json:"isDeafened,omitempty"`
	InputVolume  *float64 `json:"inputVolume,omitempty"`
	OutputVolume *float64 `json:"outputVolume,omitempty"`
}

type VoiceControlEvent struct {
	ChannelID  uuid.UUID `json:"channelId"`
	UserID     uuid.UUID `json:"userId"`
	IsMuted    bool      `json:"isMuted"`
	IsDeafened bool      `json:"isDeafened"`
}

type UpdateAudioSettingsRequest struct {
	NoiseSuppression *bool `json:"noiseSuppression,omitempty"`
	EchoCancellation *bool `json:"echoCancellation,omitempty"`
	AutoGainControl  *bool `json:"autoGainControl,omitempty"`
	SampleRate       *int  `json:"sampleRate,omitempty"`
	ChannelCount     *int  `json:"channelCount,omitempty"`
}

type Pong struct {
	Time time.Time `json:"time"`
}
