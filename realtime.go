package teamchat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrNotConnected is returned by publish operations while the realtime
// connection is down. Publishes are never queued for later delivery.
var ErrNotConnected = errors.New("teamchat: realtime connection not established")

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	Token             string
	ReconnectDelay    time.Duration
	HeartbeatInterval time.Duration
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 4 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
)

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient maintains one STOMP session over a WebSocket: it connects,
// heart-beats, resubscribes after a drop, and fans inbound events out to
// topic listeners. Inbound frames are dispatched one at a time from a single
// goroutine, so listeners never run concurrently with each other.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	log     *zap.Logger
	topics  *topicTable

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc
	lastRead         time.Time
	serverHeartBeat  time.Duration

	handlerMu      sync.Mutex
	onConnected    []func()
	onDisconnected []func(error)
}

// NewRealtimeClient creates a realtime client against the given HTTP base
// URL. The WebSocket endpoint is derived from it. Connect must be called
// before any publish.
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	if config == nil {
		config = &RealtimeConfig{}
	}
	config.defaults()
	return &RealtimeClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		config:  config,
		log:     config.Logger,
		topics:  newTopicTable(),
		state:   StateDisconnected,
	}
}

// OnConnected registers a callback invoked after every successful session
// establishment, including reconnects. Subscriptions have already been
// replayed when it fires.
func (rc *RealtimeClient) OnConnected(h func()) {
	rc.handlerMu.Lock()
	rc.onConnected = append(rc.onConnected, h)
	rc.handlerMu.Unlock()
}

// OnDisconnected registers a callback invoked when the session drops for any
// reason other than an explicit Disconnect.
func (rc *RealtimeClient) OnDisconnected(h func(error)) {
	rc.handlerMu.Lock()
	rc.onDisconnected = append(rc.onDisconnected, h)
	rc.handlerMu.Unlock()
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// wsURL derives the WebSocket endpoint from the HTTP base URL. The token
// rides in the query string because browsers cannot set headers on WebSocket
// upgrades and the backend accepts it there for every client.
func (rc *RealtimeClient) wsURL() string {
	u := strings.Replace(rc.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?access_token=" + rc.config.Token
}

// Connect establishes the STOMP session. Calling it while connected or
// connecting is a no-op.
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.mu.Unlock()

	if err := rc.connect(ctx); err != nil {
		rc.mu.Lock()
		rc.state = StateDisconnected
		rc.mu.Unlock()
		return err
	}
	return nil
}

// connect performs one dial + STOMP handshake attempt. The caller owns the
// state transitions around failure.
func (rc *RealtimeClient) connect(ctx context.Context) error {
	opts := &websocket.DialOptions{
		HTTPClient: rc.config.HTTPClient,
		HTTPHeader: http.Header{hdrAuthorization: []string{"Bearer " + rc.config.Token}},
	}
	conn, _, err := websocket.Dial(ctx, rc.wsURL(), opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	hb := rc.config.HeartbeatInterval.Milliseconds()
	connectFrame := &stompFrame{Command: frameConnect}
	connectFrame.addHeader(hdrAcceptVersion, "1.2")
	connectFrame.addHeader(hdrHeartBeat, heartBeatHeader(hb))
	connectFrame.addHeader(hdrAuthorization, "Bearer "+rc.config.Token)
	if err := conn.Write(ctx, websocket.MessageText, marshalFrame(connectFrame)); err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return fmt.Errorf("send connect frame: %w", err)
	}

	connected, err := readHandshake(ctx, conn)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return err
	}

	sx, _ := parseHeartBeat(connected.header(hdrHeartBeat))
	serverSend := time.Duration(sx) * time.Millisecond

	rc.ensureSessionQueue()

	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.lastRead = time.Now()
	rc.serverHeartBeat = serverSend
	connCtx, cancel := context.WithCancel(context.Background())
	rc.cancelFn = cancel
	// Snapshot while holding the lock that publishes the Connected state, so
	// a topic is either in this replay set or wired by its own Subscribe.
	replay := rc.topics.snapshot()
	rc.mu.Unlock()

	rc.replaySubscriptions(ctx, conn, replay)

	go rc.readLoop(connCtx, conn)
	go rc.heartbeatLoop(connCtx, conn)

	rc.emitConnected()
	rc.log.Info("realtime session established",
		zap.Duration("server_heartbeat", serverSend))
	return nil
}

// readHandshake reads frames until the broker answers the CONNECT, skipping
// any heart-beats that arrive first.
func readHandshake(ctx context.Context, conn *websocket.Conn) (*stompFrame, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("read connected frame: %w", err)
		}
		if isHeartBeat(data) {
			continue
		}
		frame, err := parseFrame(data)
		if err != nil {
			return nil, fmt.Errorf("parse connected frame: %w", err)
		}
		switch frame.Command {
		case frameConnected:
			return frame, nil
		case frameError:
			return nil, fmt.Errorf("broker rejected connect: %s", frame.header("message"))
		default:
			return nil, fmt.Errorf("expected CONNECTED, got %s", frame.Command)
		}
	}
}

// Disconnect tears the session down and stops the reconnect cycle. Topic
// listeners survive and are replayed if Connect is called again.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.mu.Unlock()
	rc.topics.clearWired()

	if conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame := &stompFrame{Command: frameDisconnect}
	_ = conn.Write(ctx, websocket.MessageText, marshalFrame(frame))
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// ============================================================================
// Subscriptions
// ============================================================================

// Subscribe registers a named listener for a topic. The first listener on a
// topic opens the broker subscription; registering the same listenerID again
// just replaces the handler. While disconnected the subscription is recorded
// and opened on the next successful connect.
func (rc *RealtimeClient) Subscribe(ctx context.Context, topic, listenerID string, h TopicHandler) error {
	subID, open := rc.topics.add(topic, listenerID, h)
	if !open {
		return nil
	}
	rc.mu.Lock()
	conn := rc.conn
	connected := rc.state == StateConnected
	rc.mu.Unlock()
	if !connected {
		return nil
	}
	if !rc.topics.markWired(topic) {
		// The connect replay got there first.
		return nil
	}
	return rc.sendSubscribe(ctx, conn, topic, subID)
}

// Unsubscribe removes a named listener. When the topic's last listener is
// removed the broker subscription is closed and the topic forgotten.
func (rc *RealtimeClient) Unsubscribe(ctx context.Context, topic, listenerID string) error {
	subID, closeSub := rc.topics.remove(topic, listenerID)
	if !closeSub {
		return nil
	}
	rc.mu.Lock()
	conn := rc.conn
	connected := rc.state == StateConnected
	rc.mu.Unlock()
	if !connected {
		return nil
	}
	frame := &stompFrame{Command: frameUnsubscribe}
	frame.addHeader(hdrID, subID)
	return rc.write(ctx, conn, marshalFrame(frame))
}

func (rc *RealtimeClient) sendSubscribe(ctx context.Context, conn *websocket.Conn, topic, subID string) error {
	frame := &stompFrame{Command: frameSubscribe}
	frame.addHeader(hdrID, subID)
	frame.addHeader(hdrDestination, topic)
	return rc.write(ctx, conn, marshalFrame(frame))
}

// ensureSessionQueue keeps a listener on the private notification queue so
// presence and conversation events are not lost between listener
// registrations.
func (rc *RealtimeClient) ensureSessionQueue() {
	if rc.topics.listenerCount(TopicUserNotifications) == 0 {
		rc.topics.add(TopicUserNotifications, "_session", func(string, Event) {})
	}
}

// replaySubscriptions opens every snapshotted topic not already on the wire.
// A Subscribe racing the connect may have sent its own frame first; the
// wired flag arbitrates so each subscription id goes out once per session.
func (rc *RealtimeClient) replaySubscriptions(ctx context.Context, conn *websocket.Conn, topics map[string]string) {
	for topic, subID := range topics {
		if !rc.topics.markWired(topic) {
			continue
		}
		if err := rc.sendSubscribe(ctx, conn, topic, subID); err != nil {
			rc.log.Warn("subscription replay failed",
				zap.String("topic", topic), zap.Error(err))
		}
	}
}

// ============================================================================
// Publishing
// ============================================================================

// SendMessage publishes a new message into a conversation.
func (rc *RealtimeClient) SendMessage(ctx context.Context, conversationID int64, req *SendMessageRequest) error {
	return rc.publish(ctx, fmt.Sprintf("/app/message.send/%d", conversationID), req)
}

// React adds or replaces the caller's reaction on a message. The backend
// keeps at most one reaction per user per message.
func (rc *RealtimeClient) React(ctx context.Context, messageID int64, emoji string) error {
	return rc.publish(ctx, fmt.Sprintf("/app/msg/react/%d", messageID), map[string]string{"emoji": emoji})
}

// Unreact removes the caller's reaction on a message.
func (rc *RealtimeClient) Unreact(ctx context.Context, messageID int64, emoji string) error {
	return rc.publish(ctx, fmt.Sprintf("/app/msg/unreact/%d", messageID), map[string]string{"emoji": emoji})
}

// Pin pins a message in its conversation.
func (rc *RealtimeClient) Pin(ctx context.Context, messageID int64) error {
	return rc.publish(ctx, fmt.Sprintf("/app/msg/pin/%d", messageID), nil)
}

// Unpin unpins a message.
func (rc *RealtimeClient) Unpin(ctx context.Context, messageID int64) error {
	return rc.publish(ctx, fmt.Sprintf("/app/msg/unpin/%d", messageID), nil)
}

// Typing broadcasts the caller's typing state to a conversation.
func (rc *RealtimeClient) Typing(ctx context.Context, conversationID int64, user *UserProfile, typing bool) error {
	payload := map[string]any{"typing": typing}
	if user != nil {
		payload["userId"] = user.ID
		payload["userName"] = user.FullName
		payload["avatar"] = user.Avatar
	}
	return rc.publish(ctx, fmt.Sprintf("/app/typing/%d", conversationID), payload)
}

// publish sends one SEND frame. It fails immediately with ErrNotConnected
// while the session is down; nothing is queued.
func (rc *RealtimeClient) publish(ctx context.Context, destination string, body any) error {
	rc.mu.Lock()
	conn := rc.conn
	connected := rc.state == StateConnected
	rc.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	frame := &stompFrame{Command: frameSend}
	frame.addHeader(hdrDestination, destination)
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal publish body: %w", err)
		}
		frame.addHeader(hdrContentType, "application/json")
		frame.Body = data
	}
	return rc.write(ctx, conn, marshalFrame(frame))
}

func (rc *RealtimeClient) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if conn == nil {
		return ErrNotConnected
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// ============================================================================
// Loops
// ============================================================================

func (rc *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.handleReadError(err)
			return
		}

		rc.mu.Lock()
		rc.lastRead = time.Now()
		rc.mu.Unlock()

		if isHeartBeat(data) {
			continue
		}
		frame, err := parseFrame(data)
		if err != nil {
			rc.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		switch frame.Command {
		case frameMessage:
			rc.dispatch(frame)
		case frameError:
			rc.log.Error("broker error frame",
				zap.String("message", frame.header("message")),
				zap.ByteString("body", frame.Body))
		}
	}
}

// dispatch routes one MESSAGE frame to its topic's listeners, in order, on
// this goroutine. A panicking listener is isolated and logged; it never
// takes down the session or starves other listeners.
func (rc *RealtimeClient) dispatch(frame *stompFrame) {
	topic, ok := rc.topics.resolve(frame.header(hdrSubscription), frame.header(hdrDestination))
	if !ok {
		// Frames can trail in after an unsubscribe; drop them quietly.
		return
	}
	event, err := DecodeEvent(frame.Body)
	if err != nil {
		rc.log.Warn("dropping undecodable event",
			zap.String("topic", topic), zap.Error(err))
		return
	}
	for _, h := range rc.topics.handlers(topic) {
		rc.invoke(topic, h, event)
	}
}

func (rc *RealtimeClient) invoke(topic string, h TopicHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			rc.log.Error("listener panic",
				zap.String("topic", topic), zap.Any("panic", r))
		}
	}()
	h(topic, event)
}

// heartbeatLoop sends the outgoing heart-beats and watches for a silent
// broker. A connection with no traffic for well past the negotiated server
// interval is forced closed so the read loop reconnects.
func (rc *RealtimeClient) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(rc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.mu.Lock()
			connected := rc.state == StateConnected && rc.conn == conn
			lastRead := rc.lastRead
			serverHB := rc.serverHeartBeat
			rc.mu.Unlock()
			if !connected {
				return
			}

			if serverHB > 0 && time.Since(lastRead) > 3*serverHB {
				rc.log.Warn("broker silent past heartbeat window, closing",
					zap.Duration("since_last_read", time.Since(lastRead)))
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			}

			writeCtx, cancel := context.WithTimeout(ctx, rc.config.HeartbeatInterval)
			err := conn.Write(writeCtx, websocket.MessageText, heartBeatFrame)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "heartbeat write failed")
				return
			}
		}
	}
}

// handleReadError runs the disconnect bookkeeping for a dropped session and
// kicks off the reconnect cycle unless the close was requested.
func (rc *RealtimeClient) handleReadError(err error) {
	rc.mu.Lock()
	if rc.intentionalClose {
		rc.mu.Unlock()
		return
	}
	rc.state = StateDisconnected
	rc.conn = nil
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	rc.mu.Unlock()
	rc.topics.clearWired()

	rc.log.Warn("realtime session lost", zap.Error(err))
	rc.emitDisconnected(err)
	go rc.reconnectLoop()
}

// reconnectLoop retries at a fixed delay until a session is established or
// Disconnect is called. There is no attempt cap and no backoff growth; the
// cadence stays constant however long the outage lasts.
func (rc *RealtimeClient) reconnectLoop() {
	for {
		time.Sleep(rc.config.ReconnectDelay)

		rc.mu.Lock()
		if rc.intentionalClose || rc.state != StateDisconnected {
			rc.mu.Unlock()
			return
		}
		rc.state = StateConnecting
		rc.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := rc.connect(ctx)
		cancel()
		if err == nil {
			return
		}

		rc.mu.Lock()
		rc.state = StateDisconnected
		intentional := rc.intentionalClose
		rc.mu.Unlock()
		if intentional {
			return
		}
		rc.log.Warn("reconnect attempt failed", zap.Error(err))
	}
}

func (rc *RealtimeClient) emitConnected() {
	rc.handlerMu.Lock()
	handlers := append([]func(){}, rc.onConnected...)
	rc.handlerMu.Unlock()
	for _, h := range handlers {
		go h()
	}
}

func (rc *RealtimeClient) emitDisconnected(err error) {
	rc.handlerMu.Lock()
	handlers := append([]func(error){}, rc.onDisconnected...)
	rc.handlerMu.Unlock()
	for _, h := range handlers {
		go h(err)
	}
}
