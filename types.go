package teamchat

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error reported by the chat backend.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Envelope is the backend's generic response wrapper.
// Code == CodeSuccess means the Data field carries the payload.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// CodeSuccess is the envelope code for a successful response.
const CodeSuccess = 1000

// OK reports whether the envelope carries a successful result.
func (e *Envelope) OK() bool {
	return e.Code == CodeSuccess
}

// Err converts a non-success envelope into an *APIError, nil otherwise.
func (e *Envelope) Err() error {
	if e.OK() {
		return nil
	}
	return &APIError{Code: e.Code, Message: e.Message}
}

// Decode unmarshals the Data field into the provided type.
func (e *Envelope) Decode(v interface{}) error {
	if e.Data == nil {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ============================================================================
// Message Types
// ============================================================================

// MessageStatus is the lifecycle status of a message.
type MessageStatus string

const (
	StatusSent    MessageStatus = "SENT"
	StatusRevoked MessageStatus = "REVOKED"
	StatusDeleted MessageStatus = "DELETED"
)

// Message is a single chat message as held in the client window.
type Message struct {
	ID               int64         `json:"id"`
	Content          string        `json:"content"`
	Status           MessageStatus `json:"status,omitempty"`
	IsDeleted        bool          `json:"isDeleted"`
	CreatedAt        int64         `json:"createdAt"`
	UpdatedAt        int64         `json:"updatedAt,omitempty"`
	ConversationID   int64         `json:"conversationId"`
	SenderID         int64         `json:"senderId"`
	SenderName       string        `json:"senderName"`
	SenderAvatar     string        `json:"senderAvatar,omitempty"`
	ParentMessageID  int64         `json:"parentMessageId,omitempty"`
	ParentContent    string        `json:"parentContent,omitempty"`
	Reactions        []Reaction    `json:"reactions,omitempty"`
	Mentions         []Mention     `json:"mentions,omitempty"`
	IsPinned         bool          `json:"isPinned,omitempty"`
	Attachments      []Attachment  `json:"attachments,omitempty"`
	ThreadID         int64         `json:"threadId,omitempty"`
	ThreadReplyCount int           `json:"threadReplyCount,omitempty"`
}

// IsThreadReply reports whether the message belongs inside a thread rather
// than the main window. A thread root carries its own id as ThreadID, so only
// a differing non-zero ThreadID marks a reply.
func (m *Message) IsThreadReply() bool {
	return m.ThreadID != 0 && m.ThreadID != m.ID
}

// Reaction is one user's emoji reaction on a message. A user holds at most
// one reaction per message; a newer reaction supersedes the old one.
type Reaction struct {
	UserID    int64  `json:"userId"`
	UserName  string `json:"userName"`
	Emoji     string `json:"emoji"`
	ReactedAt int64  `json:"reactedAt"`
}

// Mention is a user mention embedded in a message.
type Mention struct {
	MemberID int64  `json:"memberId"`
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       int64  `json:"id"`
	FileName string `json:"fileName,omitempty"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType"`
	FileSize int64  `json:"fileSize"`
}

// SendMessageRequest is the publish body for sending a message.
type SendMessageRequest struct {
	Content         string  `json:"content"`
	URLs            []int64 `json:"urls"`
	MemberIDs       []int64 `json:"memberIds"`
	ParentMessageID int64   `json:"parentMessageId,omitempty"`
	ThreadID        int64   `json:"threadId,omitempty"`
}

// PaginatedMessages is one server page of message history. Page 0 is the
// newest slice; items within a page are ordered newest-first.
type PaginatedMessages struct {
	Content       []Message `json:"content"`
	TotalPages    int       `json:"totalPages"`
	TotalElements int64     `json:"totalElements"`
	Size          int       `json:"size"`
	Number        int       `json:"number"`
}

// ============================================================================
// Conversation Types
// ============================================================================

// ConversationType distinguishes channels from direct messages.
type ConversationType string

const (
	ConversationChannel ConversationType = "CHANNEL"
	ConversationDM      ConversationType = "DM"
)

// ConversationRole is a member's role within a conversation.
type ConversationRole string

const (
	RoleAdmin  ConversationRole = "ADMIN"
	RoleMember ConversationRole = "MEMBER"
)

// Conversation is a channel or DM, with optional member detail.
type Conversation struct {
	ID            int64                `json:"id"`
	Name          string               `json:"name"`
	Type          ConversationType     `json:"type"`
	IsPrivate     bool                 `json:"isPrivate"`
	IsJoined      bool                 `json:"isJoined"`
	TotalMembers  int                  `json:"totalMembers,omitempty"`
	Members       []ConversationMember `json:"members,omitempty"`
	UnseenCount   int                  `json:"unseenCount,omitempty"`
	LastMessage   string               `json:"lastMessage,omitempty"`
	LastMessageAt int64                `json:"lastMessageAt,omitempty"`
}

// ConversationMember is one member of a conversation, with presence detail.
type ConversationMember struct {
	ID         int64            `json:"id"`
	UserID     int64            `json:"userId"`
	FullName   string           `json:"fullName"`
	Avatar     string           `json:"avatar,omitempty"`
	Role       ConversationRole `json:"role"`
	IsOnline   bool             `json:"isOnline,omitempty"`
	LastActive int64            `json:"lastActive,omitempty"`
}

// CreateConversationRequest creates a channel or DM.
// DMs require exactly one member id (the peer).
type CreateConversationRequest struct {
	WorkspaceID int64            `json:"workspaceId"`
	Name        string           `json:"name"`
	Type        ConversationType `json:"type"`
	IsPrivate   bool             `json:"isPrivate"`
	MemberIDs   []int64          `json:"memberIds,omitempty"`
}

// ============================================================================
// User Types
// ============================================================================

// UserProfile is the authenticated user's own profile.
type UserProfile struct {
	ID       int64  `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Status   string `json:"status,omitempty"`
}

// UserItem is one entry in a paginated user listing or search result.
type UserItem struct {
	UserID   int64  `json:"userId"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar,omitempty"`
}

// PaginatedUsers is one server page of the user directory.
type PaginatedUsers struct {
	Content       []UserItem `json:"content"`
	TotalPages    int        `json:"totalPages"`
	TotalElements int64      `json:"totalElements"`
	Size          int        `json:"size"`
	Number        int        `json:"number"`
}
