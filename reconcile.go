package teamchat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Typing Tracker
// ============================================================================

// DefaultTypingTTL is how long a typing indicator stays visible without a
// refresh. Typing events carry no duration; the peer may vanish without ever
// sending the stop.
const DefaultTypingTTL = 5 * time.Second

// TypingUser is one currently-typing participant.
type TypingUser struct {
	UserID   int64
	UserName string
	Avatar   string
}

type typingState struct {
	user      TypingUser
	expiresAt time.Time
}

// TypingTracker holds who is typing in one conversation. Entries refresh on
// every typing event and expire on their own; expired entries are purged
// lazily when the set is read.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]typingState
}

// NewTypingTracker creates a tracker. A zero ttl uses DefaultTypingTTL.
func NewTypingTracker(ttl time.Duration) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]typingState),
	}
}

// Refresh records or re-arms a user's typing indicator.
func (t *TypingTracker) Refresh(userID int64, userName, avatar string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[userID] = typingState{
		user:      TypingUser{UserID: userID, UserName: userName, Avatar: avatar},
		expiresAt: t.now().Add(t.ttl),
	}
}

// Stop removes a user's indicator immediately.
func (t *TypingTracker) Stop(userID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, userID)
}

// Active returns the users whose indicators have not expired, ordered by id
// for stable output.
func (t *TypingTracker) Active() []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var out []TypingUser
	for id, s := range t.entries {
		if now.After(s.expiresAt) {
			delete(t.entries, id)
			continue
		}
		out = append(out, s.user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Clear drops every indicator. Used when switching conversations.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[int64]typingState)
}

// ============================================================================
// Thread State
// ============================================================================

// ThreadState holds an open thread panel: the root message plus its replies,
// oldest-first and deduplicated, maintained separately from the main window.
type ThreadState struct {
	mu      sync.Mutex
	rootID  int64
	root    Message
	replies []Message
	present map[int64]struct{}
}

// NewThreadState returns a closed thread panel.
func NewThreadState() *ThreadState {
	return &ThreadState{present: make(map[int64]struct{})}
}

// Open switches the panel to a thread root and seeds its replies.
func (ts *ThreadState) Open(root Message, replies []Message) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.rootID = root.ID
	ts.root = root
	ts.replies = nil
	ts.present = make(map[int64]struct{})
	for _, r := range replies {
		if _, dup := ts.present[r.ID]; dup {
			continue
		}
		ts.present[r.ID] = struct{}{}
		ts.replies = append(ts.replies, r)
	}
	sort.Slice(ts.replies, func(i, j int) bool { return ts.replies[i].ID < ts.replies[j].ID })
}

// Close clears the panel.
func (ts *ThreadState) Close() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.rootID = 0
	ts.root = Message{}
	ts.replies = nil
	ts.present = make(map[int64]struct{})
}

// RootID returns the open thread root, or 0 when closed.
func (ts *ThreadState) RootID() int64 {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.rootID
}

// accepts reports whether a message belongs to the open thread.
func (ts *ThreadState) accepts(m *Message) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.rootID != 0 && m.IsThreadReply() && m.ThreadID == ts.rootID
}

// upsert merges a reply into the panel, appending when new.
func (ts *ThreadState) upsert(m Message) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if _, ok := ts.present[m.ID]; ok {
		for i := range ts.replies {
			if ts.replies[i].ID == m.ID {
				ts.replies[i] = m
				return
			}
		}
		return
	}
	ts.present[m.ID] = struct{}{}
	ts.replies = append(ts.replies, m)
	ts.root.ThreadReplyCount++
}

// mutate applies fn to the root or a reply by id. Returns false on a miss.
func (ts *ThreadState) mutate(id int64, fn func(*Message)) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.rootID == id {
		fn(&ts.root)
		return true
	}
	if _, ok := ts.present[id]; !ok {
		return false
	}
	for i := range ts.replies {
		if ts.replies[i].ID == id {
			fn(&ts.replies[i])
			return true
		}
	}
	return false
}

// Root returns a copy of the root message.
func (ts *ThreadState) Root() (Message, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.rootID == 0 {
		return Message{}, false
	}
	return ts.root, true
}

// Replies returns a copy of the reply list, oldest-first.
func (ts *ThreadState) Replies() []Message {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]Message(nil), ts.replies...)
}

// ============================================================================
// Reconciler
// ============================================================================

// Reconciler folds the event stream of one conversation into its local
// state: the message window, the open thread, the typing set, the member
// roster, and the presence cache. Apply is driven from the realtime dispatch
// goroutine, so events for a conversation are reconciled in arrival order.
type Reconciler struct {
	window *MessageWindow
	thread *ThreadState
	typing *TypingTracker
	log    *zap.Logger

	status    StatusStore
	paginator *Paginator

	mu      sync.Mutex
	selfID  int64
	self    UserProfile
	members map[int64]ConversationMember
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithStatusStore wires the presence cache updated on status events.
func WithStatusStore(s StatusStore) ReconcilerOption {
	return func(r *Reconciler) { r.status = s }
}

// WithTypingTTL overrides the typing indicator lifetime.
func WithTypingTTL(ttl time.Duration) ReconcilerOption {
	return func(r *Reconciler) { r.typing = NewTypingTracker(ttl) }
}

// WithReconcilerLogger sets the logger. Defaults to a no-op logger.
func WithReconcilerLogger(log *zap.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// NewReconciler creates a reconciler over the paginator's window. The self
// profile suppresses the user's own typing events and names their own live
// messages.
func NewReconciler(paginator *Paginator, self UserProfile, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		window:    paginator.Window(),
		thread:    NewThreadState(),
		typing:    NewTypingTracker(0),
		log:       zap.NewNop(),
		paginator: paginator,
		selfID:    self.ID,
		self:      self,
		members:   make(map[int64]ConversationMember),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Thread exposes the open thread panel.
func (r *Reconciler) Thread() *ThreadState { return r.thread }

// Typing exposes the typing tracker.
func (r *Reconciler) Typing() *TypingTracker { return r.typing }

// SetMembers replaces the member roster, usually after loading conversation
// detail over REST.
func (r *Reconciler) SetMembers(members []ConversationMember) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members = make(map[int64]ConversationMember, len(members))
	for _, m := range members {
		r.members[m.UserID] = m
	}
}

// Members returns the roster ordered by user id.
func (r *Reconciler) Members() []ConversationMember {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConversationMember, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// HandleTopic is the TopicHandler to register on the conversation topic and
// the private notification queue.
func (r *Reconciler) HandleTopic(_ string, event Event) {
	r.Apply(event)
}

// Apply reconciles one event into local state. Events referencing messages
// outside the window (and outside the open thread) are dropped; history
// loaded later carries the post-event server state anyway.
func (r *Reconciler) Apply(event Event) {
	switch ev := event.(type) {
	case *UserStatusEvent:
		r.applyStatus(ev)
	case *TypingEvent:
		r.applyTyping(ev)
	case *ReactionEvent:
		r.applyReaction(ev)
	case *MessageEvent:
		r.applyMessage(&ev.Message)
	case *NewConversationEvent:
		// Conversation lifecycle belongs to the roster consumer.
	}
}

func (r *Reconciler) applyStatus(ev *UserStatusEvent) {
	r.mu.Lock()
	if m, ok := r.members[ev.UserID]; ok {
		m.IsOnline = ev.IsOnline
		m.LastActive = ev.LastActive
		r.members[ev.UserID] = m
	}
	r.mu.Unlock()

	if !ev.IsOnline {
		r.typing.Stop(ev.UserID)
	}
	if r.status != nil {
		if err := r.status.Put(context.Background(), ev.UserID, ev.IsOnline, ev.LastActive); err != nil {
			r.log.Warn("presence cache update failed",
				zap.Int64("user_id", ev.UserID), zap.Error(err))
		}
	}
}

func (r *Reconciler) applyTyping(ev *TypingEvent) {
	r.mu.Lock()
	self := r.selfID
	r.mu.Unlock()
	if ev.UserID == self {
		return
	}
	if ev.Typing {
		r.typing.Refresh(ev.UserID, ev.UserName, ev.Avatar)
	} else {
		r.typing.Stop(ev.UserID)
	}
}

// applyReaction rewrites a message's reaction list. The backend allows one
// reaction per user per message, so add and update are the same operation
// locally and remove is keyed by user alone.
func (r *Reconciler) applyReaction(ev *ReactionEvent) {
	fn := func(m *Message) {
		kept := m.Reactions[:0]
		for _, re := range m.Reactions {
			if re.UserID != ev.UserID {
				kept = append(kept, re)
			}
		}
		m.Reactions = kept
		if ev.Kind != ReactionRemoved {
			m.Reactions = append(m.Reactions, Reaction{
				UserID:    ev.UserID,
				UserName:  ev.UserName,
				Emoji:     ev.Emoji,
				ReactedAt: ev.ReactedAt,
			})
		}
	}
	// A thread root lives in the window and the panel at once; hit both.
	inWindow := r.window.Mutate(ev.MessageID, fn)
	inThread := r.thread.mutate(ev.MessageID, fn)
	if !inWindow && !inThread {
		r.log.Debug("reaction for unloaded message dropped",
			zap.Int64("message_id", ev.MessageID))
	}
}

func (r *Reconciler) applyMessage(msg *Message) {
	switch {
	case msg.Status == StatusRevoked:
		r.applyRevoke(msg.ID)
	case msg.Status == StatusDeleted || msg.IsDeleted:
		r.applyDelete(msg.ID)
	default:
		r.upsertMessage(*msg)
	}
}

// applyRevoke blanks a revoked message in place. Revoking an already-revoked
// message changes nothing.
func (r *Reconciler) applyRevoke(id int64) {
	fn := func(m *Message) {
		m.Status = StatusRevoked
		m.Content = ""
		m.Attachments = nil
		m.Reactions = nil
	}
	r.window.Mutate(id, fn)
	r.thread.mutate(id, fn)
}

func (r *Reconciler) applyDelete(id int64) {
	fn := func(m *Message) {
		m.Status = StatusDeleted
		m.IsDeleted = true
	}
	r.window.Mutate(id, fn)
	r.thread.mutate(id, fn)
}

// mergeMessage folds the non-zero fields of an event's message into the held
// record. Broadcast acks are sparse (a pin ack carries little beyond the id
// and the flag), so an absent field must leave held state alone.
func mergeMessage(dst *Message, src Message) {
	if src.Content != "" {
		dst.Content = src.Content
	}
	if src.Status != "" {
		dst.Status = src.Status
	}
	if src.IsDeleted {
		dst.IsDeleted = true
	}
	if src.CreatedAt != 0 {
		dst.CreatedAt = src.CreatedAt
	}
	if src.UpdatedAt != 0 {
		dst.UpdatedAt = src.UpdatedAt
	}
	if src.ConversationID != 0 {
		dst.ConversationID = src.ConversationID
	}
	if src.SenderID != 0 {
		dst.SenderID = src.SenderID
	}
	if src.SenderName != "" {
		dst.SenderName = src.SenderName
	}
	if src.SenderAvatar != "" {
		dst.SenderAvatar = src.SenderAvatar
	}
	if src.ParentMessageID != 0 {
		dst.ParentMessageID = src.ParentMessageID
	}
	if src.ParentContent != "" {
		dst.ParentContent = src.ParentContent
	}
	if src.Reactions != nil {
		dst.Reactions = src.Reactions
	}
	if src.Mentions != nil {
		dst.Mentions = src.Mentions
	}
	// Pin state flips both ways; pin and unpin acks always carry it.
	dst.IsPinned = src.IsPinned
	if src.Attachments != nil {
		dst.Attachments = src.Attachments
	}
	if src.ThreadID != 0 {
		dst.ThreadID = src.ThreadID
	}
	if src.ThreadReplyCount != 0 {
		dst.ThreadReplyCount = src.ThreadReplyCount
	}
}

// DiscardMessage drops a message from the window after a successful
// delete-for-me call. The server broadcasts nothing for it; the removal is
// local to this client.
func (r *Reconciler) DiscardMessage(messageID int64) {
	r.window.Remove(messageID)
}

// upsertMessage merges an edited message or appends a new one. A sender who
// just posted is clearly done typing.
func (r *Reconciler) upsertMessage(msg Message) {
	if msg.ConversationID != 0 && msg.ConversationID != r.paginator.ConversationID() {
		// The private queue carries previews for every conversation; only
		// the open one is reconciled here. The roster consumes the rest.
		return
	}
	r.enrichSender(&msg)
	r.typing.Stop(msg.SenderID)

	if r.window.Contains(msg.ID) {
		r.window.Mutate(msg.ID, func(m *Message) { mergeMessage(m, msg) })
		if r.thread.accepts(&msg) || r.thread.RootID() == msg.ID {
			r.thread.mutate(msg.ID, func(m *Message) { mergeMessage(m, msg) })
		}
		return
	}

	if r.thread.accepts(&msg) {
		r.thread.upsert(msg)
		// A reply also bumps the root's counter in the main window.
		r.window.Mutate(msg.ThreadID, func(m *Message) { m.ThreadReplyCount++ })
		return
	}

	if msg.IsThreadReply() {
		// Reply to a thread that is not open: only the root's counter is
		// visible state here.
		r.window.Mutate(msg.ThreadID, func(m *Message) { m.ThreadReplyCount++ })
		return
	}

	if r.window.AppendLive(msg) {
		r.paginator.NoteLiveMessage(msg.ID)
	}
}

// enrichSender fills a missing sender name from the roster or self profile.
// Some broadcast paths omit it.
func (r *Reconciler) enrichSender(msg *Message) {
	if msg.SenderName != "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.SenderID == r.selfID {
		msg.SenderName = r.self.FullName
		if msg.SenderAvatar == "" {
			msg.SenderAvatar = r.self.Avatar
		}
		return
	}
	if m, ok := r.members[msg.SenderID]; ok {
		msg.SenderName = m.FullName
		if msg.SenderAvatar == "" {
			msg.SenderAvatar = m.Avatar
		}
	}
}

// ============================================================================
// Roster
// ============================================================================

// Roster maintains the conversation list from the private notification
// queue: new conversations appear, previews and unseen counts track incoming
// messages, presence flips DM indicators.
type Roster struct {
	mu       sync.Mutex
	selfID   int64
	selected int64
	byID     map[int64]*Conversation
}

// NewRoster creates a roster for the given user.
func NewRoster(selfID int64) *Roster {
	return &Roster{selfID: selfID, byID: make(map[int64]*Conversation)}
}

// SetConversations seeds the roster from a REST listing.
func (ro *Roster) SetConversations(convs []Conversation) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.byID = make(map[int64]*Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		ro.byID[c.ID] = &c
	}
}

// Select marks a conversation as the one on screen and clears its unseen
// count. Pass 0 to deselect.
func (ro *Roster) Select(conversationID int64) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	ro.selected = conversationID
	if c, ok := ro.byID[conversationID]; ok {
		c.UnseenCount = 0
	}
}

// HandleTopic is the TopicHandler to register on the private notification
// queue.
func (ro *Roster) HandleTopic(_ string, event Event) {
	ro.Apply(event)
}

// Apply folds one event into the roster.
func (ro *Roster) Apply(event Event) {
	ro.mu.Lock()
	defer ro.mu.Unlock()

	switch ev := event.(type) {
	case *NewConversationEvent:
		if _, ok := ro.byID[ev.Conversation.ID]; !ok {
			c := ev.Conversation
			ro.byID[c.ID] = &c
		}
	case *MessageEvent:
		c, ok := ro.byID[ev.Message.ConversationID]
		if !ok {
			return
		}
		if ev.Message.Status == StatusSent || ev.Message.Status == "" {
			c.LastMessage = ev.Message.Content
			c.LastMessageAt = ev.Message.CreatedAt
		}
		if ev.Message.SenderID != ro.selfID && ev.Message.ConversationID != ro.selected {
			c.UnseenCount++
		}
	}
}

// Conversations returns the roster newest-activity-first.
func (ro *Roster) Conversations() []Conversation {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	out := make([]Conversation, 0, len(ro.byID))
	for _, c := range ro.byID {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Get returns a conversation by id.
func (ro *Roster) Get(conversationID int64) (Conversation, bool) {
	ro.mu.Lock()
	defer ro.mu.Unlock()
	c, ok := ro.byID[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return *c, true
}
