package engine

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Channel string

const (
	ChannelAll   Channel = "all"
	ChannelMafia Channel = "mafia"
)

// Channels are created for every session when it starts.
var Channels = []Channel{ChannelAll, ChannelMafia}

const maxMessageLength = 500

type ChatMessage struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"sessionKey"`
	Channel    Channel   `json:"channel"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

func ParseChannel(raw string) (Channel, error) {
	switch Channel(raw) {
	case ChannelAll:
		return ChannelAll, nil
	case ChannelMafia:
		return ChannelMafia, nil
	default:
		return "", ErrUnknownChannel
	}
}

// ChatAccess reports whether userID may read ch. The mafia channel is
// limited to active mafia.
func (s Session) ChatAccess(userID string, ch Channel) error {
	p, ok := s.Player(userID)
	if !ok {
		return ErrNotPlayer
	}
	if ch == ChannelMafia && (p.Role != RoleMafia || !p.IsActive) {
		return ErrChannelForbidden
	}
	return nil
}

// NewChatMessage validates a post by author to ch and builds the message.
func (s Session) NewChatMessage(id string, author Actor, ch Channel, text string, at time.Time) (ChatMessage, error) {
	if s.Status == StatusEnded {
		return ChatMessage{}, ErrAlreadyTerminal
	}
	if author.UserID == "" {
		return ChatMessage{}, ErrUnauthenticated
	}
	if err := s.ChatAccess(author.UserID, ch); err != nil {
		return ChatMessage{}, err
	}
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > maxMessageLength {
		return ChatMessage{}, ErrInvalidMessage
	}

	p, _ := s.Player(author.UserID)
	return ChatMessage{
		ID:         id,
		SessionKey: s.Key,
		Channel:    ch,
		AuthorID:   p.UserID,
		AuthorName: p.Name,
		Text:       text,
		CreatedAt:  at,
	}, nil
}
