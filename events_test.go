package teamchat

import (
	"testing"
)

func TestDecodeEventUserStatus(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"USER_STATUS","userId":7,"isOnline":true,"lastActive":123}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	status, ok := ev.(*UserStatusEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if status.UserID != 7 || !status.IsOnline || status.LastActive != 123 {
		t.Errorf("event = %+v", status)
	}
}

func TestDecodeEventTyping(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"TYPING","conversationId":3,"userId":7,"userName":"Alice","typing":true}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	typing, ok := ev.(*TypingEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if typing.ConversationID != 3 || !typing.Typing || typing.UserName != "Alice" {
		t.Errorf("event = %+v", typing)
	}
}

func TestDecodeEventReactions(t *testing.T) {
	cases := []struct {
		tag  string
		kind ReactionKind
	}{
		{"REACTION_ADDED", ReactionAdded},
		{"REACTION_UPDATED", ReactionUpdated},
		{"REACTION_REMOVED", ReactionRemoved},
	}
	for _, tc := range cases {
		raw := `{"type":"` + tc.tag + `","messageId":42,"userId":7,"userName":"Alice","emoji":"+1","reactedAt":99}`
		ev, err := DecodeEvent([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeEvent(%s): %v", tc.tag, err)
		}
		re, ok := ev.(*ReactionEvent)
		if !ok {
			t.Fatalf("event type = %T", ev)
		}
		if re.Kind != tc.kind || re.MessageID != 42 || re.Emoji != "+1" {
			t.Errorf("%s event = %+v", tc.tag, re)
		}
	}
}

func TestDecodeEventNewConversation(t *testing.T) {
	// Nested shape.
	ev, err := DecodeEvent([]byte(`{"type":"NEW_CONVERSATION","conversation":{"id":9,"name":"dm","type":"DM"}}`))
	if err != nil {
		t.Fatalf("DecodeEvent nested: %v", err)
	}
	nc, ok := ev.(*NewConversationEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if nc.Conversation.ID != 9 || nc.Conversation.Type != ConversationDM {
		t.Errorf("event = %+v", nc)
	}

	// Inline shape.
	ev, err = DecodeEvent([]byte(`{"type":"NEW_CONVERSATION","id":10,"name":"general","type":"NEW_CONVERSATION"}`))
	if err != nil {
		t.Fatalf("DecodeEvent inline: %v", err)
	}
	if nc := ev.(*NewConversationEvent); nc.Conversation.ID != 10 {
		t.Errorf("inline event = %+v", nc)
	}
}

func TestDecodeEventTaglessMessage(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"id":42,"conversationId":3,"senderId":7,"content":"hi","status":"SENT"}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	me, ok := ev.(*MessageEvent)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if me.Message.ID != 42 || me.Message.Content != "hi" {
		t.Errorf("event = %+v", me.Message)
	}

	// messageId fallback for identity.
	ev, err = DecodeEvent([]byte(`{"messageId":43,"status":"REVOKED"}`))
	if err != nil {
		t.Fatalf("DecodeEvent fallback: %v", err)
	}
	if me := ev.(*MessageEvent); me.Message.ID != 43 || me.Message.Status != StatusRevoked {
		t.Errorf("fallback event = %+v", me.Message)
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"type":"SOMETHING_ELSE"}`)); err == nil {
		t.Error("unknown type accepted")
	}
	if _, err := DecodeEvent([]byte(`{"content":"no identity"}`)); err == nil {
		t.Error("message without id accepted")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Error("non-JSON accepted")
	}
}

func TestConversationTopic(t *testing.T) {
	if got := ConversationTopic(42); got != "/topic/conversation/42" {
		t.Errorf("ConversationTopic = %q", got)
	}
}
