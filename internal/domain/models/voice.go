package models

import (
	"github.com/google/uuid"
)

type VoiceState string

const (
	VoiceIdle    VoiceState = "idle"
	VoiceJoining VoiceState = "joining"
	VoiceActive  VoiceState = "active"
	VoiceLeaving VoiceState = "leaving"
)

const (
	MinVolume = 0.0
	MaxVolume = 2.0
)

type AudioSettings struct {
	NoiseSuppression bool `json:"noiseSuppression"`
	EchoCancellation bool `json:"echoCancellation"`
	AutoGainControl  bool `json:"autoGainControl"`
	SampleRate       int  `json:"sampleRate"`
	ChannelCount     int  `json:"channelCount"`
}

func DefaultAudioSettings() AudioSettings {
	return AudioSettings{
		NoiseSuppression: true,
		EchoCancellation: true,
		AutoGainControl:  true,
		SampleRate:       48000,
		ChannelCount:     2,
	}
}

type VoiceControl struct {
	Muted        bool    `json:"isMuted"`
	Deafened     bool    `json:"isDeafened"`
	InputVolume  float64 `json:"inputVolume"`
	OutputVolume float64 `json:"outputVolume"`
}

func DefaultVoiceControl() VoiceControl {
	return VoiceControl{InputVolume: 1, OutputVolume: 1}
}

// VoiceMembership - участие пользователя в голосовом канале. Не больше одного на пользователя.
// Session различает повторные входы одного пользователя, чтобы запоздавшие ответы SFU
// не попали в новое участие.
type VoiceMembership struct {
	Session      uuid.UUID
	UserID       uuid.UUID
	ConnectionID uuid.UUID
	ChannelID    uuid.UUID
	GroupID      uuid.UUID
	State        VoiceState

	Transport string
	Producer  string
	// Consumers: producer handle -> consumer handle
	Consumers map[string]string

	Control VoiceControl
	Audio   AudioSettings
}

// Handles lists every SFU handle held, consumers first, then producer, then transport.
func (m *VoiceMembership) Handles() []string {
	handles := make([]string, 0, len(m.Consumers)+2)
	for _, c := range m.Consumers {
		handles = append(handles, c)
	}

	if m.Producer != "" {
		handles = append(handles, m.Producer)
	}

	if m.Transport != "" {
		handles = append(handles, m.Transport)
	}

	return handles
}

// Clone returns a deep copy safe to hand out of the store.
func (m *VoiceMembership) Clone() VoiceMembership {
	c := *m
	c.Consumers = make(map[string]string, len(m.Consumers))
	for k, v := range m.Consumers {
		c.Consumers[k] = v
	}

	return c
}
