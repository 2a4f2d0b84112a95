package teamchat

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Message Window
// ============================================================================

// MessageWindow is the client-held slice of a conversation's history:
// oldest-first, deduplicated by id, bounded by the server page numbers loaded
// on each end (page 0 is the newest slice server-side). All methods are
// goroutine-safe.
type MessageWindow struct {
	mu         sync.RWMutex
	msgs       []Message
	present    map[int64]struct{}
	minPage    int
	maxPage    int
	totalPages int
}

// NewMessageWindow returns an empty window.
func NewMessageWindow() *MessageWindow {
	return &MessageWindow{present: make(map[int64]struct{})}
}

// reverseOldestFirst flips a newest-first server page into window order.
func reverseOldestFirst(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[len(in)-1-i] = m
	}
	return out
}

// Reset replaces the whole window with one server page. Used for the initial
// load of a conversation and for jump-to-message.
func (w *MessageWindow) Reset(page *PaginatedMessages) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.msgs = reverseOldestFirst(page.Content)
	w.present = make(map[int64]struct{}, len(w.msgs))
	for _, m := range w.msgs {
		w.present[m.ID] = struct{}{}
	}
	w.minPage = page.Number
	w.maxPage = page.Number
	w.totalPages = page.TotalPages
}

// PrependOlder merges an older server page onto the front of the window,
// skipping ids already present, and advances the oldest-loaded page marker.
func (w *MessageWindow) PrependOlder(page *PaginatedMessages) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	var fresh []Message
	for _, m := range reverseOldestFirst(page.Content) {
		if _, dup := w.present[m.ID]; dup {
			continue
		}
		w.present[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	w.msgs = append(fresh, w.msgs...)
	w.maxPage = page.Number
	w.totalPages = page.TotalPages
	return len(fresh)
}

// AppendNewer merges a newer server page onto the end of the window and
// lowers the newest-loaded page marker.
func (w *MessageWindow) AppendNewer(page *PaginatedMessages) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	added := 0
	for _, m := range reverseOldestFirst(page.Content) {
		if _, dup := w.present[m.ID]; dup {
			continue
		}
		w.present[m.ID] = struct{}{}
		w.msgs = append(w.msgs, m)
		added++
	}
	w.minPage = page.Number
	w.totalPages = page.TotalPages
	return added
}

// AppendLive adds a brand-new message to the end of the window. Returns false
// without modifying anything when the id is already present.
func (w *MessageWindow) AppendLive(m Message) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, dup := w.present[m.ID]; dup {
		return false
	}
	w.present[m.ID] = struct{}{}
	w.msgs = append(w.msgs, m)
	// Live inserts normally arrive in order; a reconnect gap can deliver a
	// REST-loaded newer page first, so keep the ordering invariant explicit.
	if n := len(w.msgs); n > 1 && w.msgs[n-2].ID > m.ID {
		sort.Slice(w.msgs, func(i, j int) bool { return w.msgs[i].ID < w.msgs[j].ID })
	}
	return true
}

// Contains reports whether the id is materialized in the window.
func (w *MessageWindow) Contains(id int64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.present[id]
	return ok
}

// Mutate applies fn to the message with the given id, in place. Returns false
// when the id is outside the window (the mutation is dropped, not queued).
func (w *MessageWindow) Mutate(id int64, fn func(*Message)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.present[id]; !ok {
		return false
	}
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			fn(&w.msgs[i])
			return true
		}
	}
	return false
}

// Remove drops the message with the given id from the window. Used only for
// delete-for-me acknowledgments.
func (w *MessageWindow) Remove(id int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.present[id]; !ok {
		return false
	}
	delete(w.present, id)
	for i := range w.msgs {
		if w.msgs[i].ID == id {
			w.msgs = append(w.msgs[:i], w.msgs[i+1:]...)
			return true
		}
	}
	return false
}

// Newest returns a copy of the last (newest) message, or false when empty.
func (w *MessageWindow) Newest() (Message, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.msgs) == 0 {
		return Message{}, false
	}
	return w.msgs[len(w.msgs)-1], true
}

// Messages returns a copy of the window contents, oldest-first.
func (w *MessageWindow) Messages() []Message {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Message(nil), w.msgs...)
}

// Len returns the number of materialized messages.
func (w *MessageWindow) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.msgs)
}

// Bounds returns (newest-loaded page, oldest-loaded page, total pages).
func (w *MessageWindow) Bounds() (minPage, maxPage, totalPages int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.minPage, w.maxPage, w.totalPages
}

// ============================================================================
// Pagination Controller
// ============================================================================

// MessageFetcher is the REST collaborator the paginator loads pages from.
type MessageFetcher interface {
	GetMessages(ctx context.Context, conversationID int64, page, size int) (*PaginatedMessages, error)
	GetMessageContext(ctx context.Context, messageID int64, size int) (*PaginatedMessages, error)
}

// ReadMarker is the fire-and-forget read-receipt collaborator.
type ReadMarker interface {
	SetReadMessage(ctx context.Context, conversationID, messageID int64) error
}

// DefaultPageSize matches the backend's default history page size.
const DefaultPageSize = 20

// Paginator drives the bidirectional paging of one conversation's history
// into a MessageWindow. At most one fetch is in flight at a time; overlapping
// requests are rejected as no-ops rather than queued. A fetch whose
// conversation is no longer selected when it completes is discarded.
type Paginator struct {
	fetch    MessageFetcher
	read     ReadMarker
	log      *zap.Logger
	pageSize int

	mu             sync.Mutex
	conversationID int64
	inFlight       bool

	window *MessageWindow
}

// PaginatorOption configures a Paginator.
type PaginatorOption func(*Paginator)

// WithPageSize overrides the server page size requested per fetch.
func WithPageSize(n int) PaginatorOption {
	return func(p *Paginator) {
		if n > 0 {
			p.pageSize = n
		}
	}
}

// WithReadMarker wires the read-receipt collaborator.
func WithReadMarker(r ReadMarker) PaginatorOption {
	return func(p *Paginator) { p.read = r }
}

// WithPaginatorLogger sets the logger. Defaults to a no-op logger.
func WithPaginatorLogger(log *zap.Logger) PaginatorOption {
	return func(p *Paginator) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPaginator creates a paginator over the given fetcher.
func NewPaginator(fetch MessageFetcher, opts ...PaginatorOption) *Paginator {
	p := &Paginator{
		fetch:    fetch,
		log:      zap.NewNop(),
		pageSize: DefaultPageSize,
		window:   NewMessageWindow(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Window exposes the window the paginator maintains.
func (p *Paginator) Window() *MessageWindow {
	return p.window
}

// ConversationID returns the currently selected conversation.
func (p *Paginator) ConversationID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversationID
}

// begin reserves the in-flight slot for a fetch against conversationID.
func (p *Paginator) begin() (conversationID int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight || p.conversationID == 0 {
		return 0, false
	}
	p.inFlight = true
	return p.conversationID, true
}

// finish releases the slot and reports whether the response is still current.
func (p *Paginator) finish(conversationID int64) (current bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight = false
	return p.conversationID == conversationID
}

// Open selects a conversation and loads its newest page, replacing the
// window. Switching conversations while a fetch is in flight is allowed; the
// stale response is discarded when it lands.
func (p *Paginator) Open(ctx context.Context, conversationID int64) error {
	p.mu.Lock()
	p.conversationID = conversationID
	p.mu.Unlock()

	page, err := p.fetch.GetMessages(ctx, conversationID, 0, p.pageSize)
	if err != nil {
		p.log.Warn("initial history load failed",
			zap.Int64("conversation_id", conversationID), zap.Error(err))
		return err
	}

	p.mu.Lock()
	stale := p.conversationID != conversationID
	p.mu.Unlock()
	if stale {
		return nil
	}

	p.window.Reset(page)
	if newest, ok := p.window.Newest(); ok {
		p.markRead(conversationID, newest.ID)
	}
	return nil
}

// LoadOlder fetches the next older page. Returns false when nothing was
// loaded: already at the oldest page, no conversation open, or another fetch
// in flight. The window is untouched on error.
func (p *Paginator) LoadOlder(ctx context.Context) (bool, error) {
	conversationID, ok := p.begin()
	if !ok {
		return false, nil
	}
	_, maxPage, totalPages := p.window.Bounds()
	if totalPages > 0 && maxPage >= totalPages-1 {
		p.finish(conversationID)
		return false, nil
	}

	page, err := p.fetch.GetMessages(ctx, conversationID, maxPage+1, p.pageSize)
	if !p.finish(conversationID) {
		return false, nil
	}
	if err != nil {
		p.log.Warn("older page load failed",
			zap.Int64("conversation_id", conversationID),
			zap.Int("page", maxPage+1), zap.Error(err))
		return false, err
	}
	p.window.PrependOlder(page)
	return true, nil
}

// LoadNewer fetches the next newer page. Returns false when the newest page
// is already loaded or another fetch is in flight. Never marks messages read:
// paginated-in messages are not new.
func (p *Paginator) LoadNewer(ctx context.Context) (bool, error) {
	conversationID, ok := p.begin()
	if !ok {
		return false, nil
	}
	minPage, _, _ := p.window.Bounds()
	if minPage <= 0 {
		p.finish(conversationID)
		return false, nil
	}

	page, err := p.fetch.GetMessages(ctx, conversationID, minPage-1, p.pageSize)
	if !p.finish(conversationID) {
		return false, nil
	}
	if err != nil {
		p.log.Warn("newer page load failed",
			zap.Int64("conversation_id", conversationID),
			zap.Int("page", minPage-1), zap.Error(err))
		return false, err
	}
	p.window.AppendNewer(page)
	return true, nil
}

// JumpToMessage materializes the window around a specific message. When the
// target is already loaded this is a no-fetch no-op (the caller just
// scrolls); otherwise the server-computed context page replaces the window.
// Returns true when a fetch replaced the window.
func (p *Paginator) JumpToMessage(ctx context.Context, messageID int64) (bool, error) {
	if p.window.Contains(messageID) {
		return false, nil
	}
	conversationID, ok := p.begin()
	if !ok {
		return false, nil
	}

	page, err := p.fetch.GetMessageContext(ctx, messageID, p.pageSize)
	if !p.finish(conversationID) {
		return false, nil
	}
	if err != nil {
		p.log.Warn("context page load failed",
			zap.Int64("message_id", messageID), zap.Error(err))
		return false, err
	}
	p.window.Reset(page)
	return true, nil
}

// NoteLiveMessage reports a genuinely new newest message so it can be marked
// read. Called by the reconciler after a live append, never for paginated-in
// history.
func (p *Paginator) NoteLiveMessage(messageID int64) {
	p.mu.Lock()
	conversationID := p.conversationID
	p.mu.Unlock()
	if conversationID != 0 {
		p.markRead(conversationID, messageID)
	}
}

// markRead fires the read receipt without blocking the caller. Failures are
// logged and dropped; read receipts are best effort.
func (p *Paginator) markRead(conversationID, messageID int64) {
	if p.read == nil {
		return
	}
	go func() {
		if err := p.read.SetReadMessage(context.Background(), conversationID, messageID); err != nil {
			p.log.Warn("read receipt failed",
				zap.Int64("conversation_id", conversationID),
				zap.Int64("message_id", messageID), zap.Error(err))
		}
	}()
}
