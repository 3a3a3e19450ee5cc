// Package roomkey builds and parses room identifiers of the form
// {kind}:{scope}[:{subscope}].
package roomkey

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Kind string

const (
	KindGroup Kind = "group"
	KindChat  Kind = "chat"
	KindVoice Kind = "voice"
)

var ErrMalformed = errors.New("malformed room key")

type Key string

func Group(groupID uuid.UUID) Key {
	return Key(string(KindGroup) + ":" + groupID.String())
}

// Chat is the text room of a group.
func Chat(groupID uuid.UUID) Key {
	return Key(string(KindChat) + ":" + groupID.String())
}

func Voice(channelID uuid.UUID) Key {
	return Key(string(KindVoice) + ":" + channelID.String())
}

func (k Key) String() string {
	return string(k)
}

// Parsed is a decomposed key.
type Parsed struct {
	Kind     Kind
	Scope    string
	Subscope string
}

// ScopeID parses the scope as a uuid.
func (p Parsed) ScopeID() (uuid.UUID, error) {
	id, err := uuid.Parse(p.Scope)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: scope %q is not an id", ErrMalformed, p.Scope)
	}

	return id, nil
}

func Parse(raw string) (Parsed, error) {
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Parsed{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	for _, p := range parts {
		if p == "" {
			return Parsed{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
		}
	}

	kind := Kind(parts[0])
	switch kind {
	case KindGroup, KindChat, KindVoice:
	default:
		return Parsed{}, fmt.Errorf("%w: unknown kind %q", ErrMalformed, parts[0])
	}

	p := Parsed{Kind: kind, Scope: parts[1]}
	if len(parts) == 3 {
		p.Subscope = parts[2]
	}

	return p, nil
}
