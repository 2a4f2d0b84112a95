package teamchat

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ============================================================================
// Topics
// ============================================================================

// TopicUserNotifications is the authenticated user's private queue. The
// realtime client re-subscribes to it on every (re)connection; workspace-wide
// events (new conversations, presence) arrive here.
const TopicUserNotifications = "/user/queue/notifications"

// ConversationTopic returns the broadcast topic for a conversation.
func ConversationTopic(conversationID int64) string {
	return "/topic/conversation/" + strconv.FormatInt(conversationID, 10)
}

// ============================================================================
// Event Union
// ============================================================================
//
// Every inbound frame body is JSON. Frames carrying a "type" tag map to one
// of the typed variants below; tagless frames are message-shaped and decode
// to MessageEvent. Decoding happens once at the transport boundary so
// consumers switch on concrete types, never on raw tags.

const (
	eventUserStatus      = "USER_STATUS"
	eventTyping          = "TYPING"
	eventReactionAdded   = "REACTION_ADDED"
	eventReactionUpdated = "REACTION_UPDATED"
	eventReactionRemoved = "REACTION_REMOVED"
	eventNewConversation = "NEW_CONVERSATION"
)

// Event is an inbound realtime event. The concrete type is one of
// UserStatusEvent, TypingEvent, ReactionEvent, NewConversationEvent, or
// MessageEvent.
type Event interface {
	isEvent()
}

// UserStatusEvent reports a presence change for a user.
type UserStatusEvent struct {
	UserID     int64 `json:"userId"`
	IsOnline   bool  `json:"isOnline"`
	LastActive int64 `json:"lastActive,omitempty"`
}

func (UserStatusEvent) isEvent() {}

// TypingEvent reports that a user started or stopped typing in a
// conversation. A start without a matching stop expires client-side.
type TypingEvent struct {
	ConversationID int64  `json:"conversationId"`
	UserID         int64  `json:"userId"`
	UserName       string `json:"userName"`
	Avatar         string `json:"avatar,omitempty"`
	Typing         bool   `json:"typing"`
}

func (TypingEvent) isEvent() {}

// ReactionKind discriminates the three reaction event shapes.
type ReactionKind int

const (
	ReactionAdded ReactionKind = iota
	ReactionUpdated
	ReactionRemoved
)

// ReactionEvent reports a reaction change on a message.
type ReactionEvent struct {
	Kind      ReactionKind
	MessageID int64
	UserID    int64
	UserName  string
	Emoji     string
	ReactedAt int64
}

func (ReactionEvent) isEvent() {}

// NewConversationEvent announces a conversation the user was just added to.
type NewConversationEvent struct {
	Conversation Conversation
}

func (NewConversationEvent) isEvent() {}

// MessageEvent carries a message-shaped frame: a brand-new message, an edit,
// a pin change, a revoke, or a delete acknowledgment. The reconciler
// discriminates by the message's Status and by whether the id is known.
type MessageEvent struct {
	Message Message
}

func (MessageEvent) isEvent() {}

// ============================================================================
// Decoding
// ============================================================================

type eventTag struct {
	Type string `json:"type"`
}

type reactionPayload struct {
	MessageID int64  `json:"messageId"`
	UserID    int64  `json:"userId"`
	UserName  string `json:"userName"`
	Emoji     string `json:"emoji"`
	ReactedAt int64  `json:"reactedAt"`
}

type conversationPayload struct {
	Conversation *Conversation `json:"conversation"`
}

// messageShape tolerates both "id" and "messageId" as the identity field.
type messageShape struct {
	Message
	MessageID int64 `json:"messageId"`
}

// DecodeEvent turns one inbound frame body into a typed Event.
func DecodeEvent(data []byte) (Event, error) {
	var tag eventTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	switch tag.Type {
	case eventUserStatus:
		var ev UserStatusEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
		}
		return &ev, nil

	case eventTyping:
		var ev TypingEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
		}
		return &ev, nil

	case eventReactionAdded, eventReactionUpdated, eventReactionRemoved:
		var p reactionPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
		}
		kind := ReactionAdded
		switch tag.Type {
		case eventReactionUpdated:
			kind = ReactionUpdated
		case eventReactionRemoved:
			kind = ReactionRemoved
		}
		return &ReactionEvent{
			Kind:      kind,
			MessageID: p.MessageID,
			UserID:    p.UserID,
			UserName:  p.UserName,
			Emoji:     p.Emoji,
			ReactedAt: p.ReactedAt,
		}, nil

	case eventNewConversation:
		var p conversationPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
		}
		if p.Conversation != nil {
			return &NewConversationEvent{Conversation: *p.Conversation}, nil
		}
		var conv Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag.Type, err)
		}
		return &NewConversationEvent{Conversation: conv}, nil

	case "":
		var shape messageShape
		if err := json.Unmarshal(data, &shape); err != nil {
			return nil, fmt.Errorf("decode message event: %w", err)
		}
		msg := shape.Message
		if msg.ID == 0 {
			msg.ID = shape.MessageID
		}
		if msg.ID == 0 {
			return nil, fmt.Errorf("decode message event: missing id")
		}
		return &MessageEvent{Message: msg}, nil

	default:
		return nil, fmt.Errorf("decode event: unknown type %q", tag.Type)
	}
}
