package ws

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/qased/internal/store"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			avatar_url TEXT,
			is_online INTEGER NOT NULL DEFAULT 0,
			last_seen TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id INTEGER NOT NULL,
			receiver_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'text',
			file_url TEXT,
			reply_to_id INTEGER,
			is_read INTEGER NOT NULL DEFAULT 0,
			read_at TIMESTAMP,
			is_edited INTEGER NOT NULL DEFAULT 0,
			edited_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		t.Fatalf("Failed to create tables: %v", err)
	}

	db.Exec("INSERT INTO users (id, username, email, password_hash) VALUES (1, 'alice', 'alice@example.com', 'hash1')")
	db.Exec("INSERT INTO users (id, username, email, password_hash) VALUES (2, 'bob', 'bob@example.com', 'hash2')")
	db.Exec("INSERT INTO users (id, username, email, password_hash) VALUES (3, 'carol', 'carol@example.com', 'hash3')")

	return db
}

func newTestHub(t *testing.T) (*Hub, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	hub := NewHub(store.New(db), nil, 1000)
	go hub.Run()
	time.Sleep(10 * time.Millisecond)
	return hub, db
}

func newTestClient(hub *Hub, userID int) *Client {
	return &Client{
		id:     fmt.Sprintf("test-%d", userID),
		userID: userID,
		hub:    hub,
		send:   make(chan interface{}, 256),
		rooms:  make(map[string]struct{}),
	}
}

func register(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	time.Sleep(20 * time.Millisecond)
}

func unregister(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.unregister <- c
	time.Sleep(20 * time.Millisecond)
}

// drain empties a client's send buffer so a test can count only the events
// produced after this point.
func drain(c *Client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

func collect(c *Client) []interface{} {
	var events []interface{}
	for {
		select {
		case evt := <-c.send:
			events = append(events, evt)
		default:
			return events
		}
	}
}

func countMessages(db *sql.DB) int {
	var count int
	db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count)
	return count
}

func TestRoomKeySymmetry(t *testing.T) {
	if RoomKeyFor(1, 2) != RoomKeyFor(2, 1) {
		t.Errorf("RoomKeyFor is not order-independent: %q vs %q", RoomKeyFor(1, 2), RoomKeyFor(2, 1))
	}
	if RoomKeyFor(1, 2) != "1_2" {
		t.Errorf("RoomKeyFor(1,2) = %q, want %q", RoomKeyFor(1, 2), "1_2")
	}
	if RoomKeyFor(1, 2) == RoomKeyFor(1, 3) {
		t.Error("Distinct pairs must have distinct keys")
	}
}

func TestSelfSendRejected(t *testing.T) {
	hub, db := newTestHub(t)

	for _, content := range []string{"hi", "", strings.Repeat("a", 2000)} {
		_, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 1, Content: content})
		if !errors.Is(err, ErrSelfMessage) {
			t.Errorf("content=%q: expected ErrSelfMessage, got %v", content, err)
		}
	}

	if n := countMessages(db); n != 0 {
		t.Errorf("Expected 0 messages persisted, got %d", n)
	}
}

func TestContentLengthBounds(t *testing.T) {
	hub, db := newTestHub(t)

	_, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "   "})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Expected ErrEmptyContent, got %v", err)
	}

	_, err = hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: strings.Repeat("a", 1001)})
	if !errors.Is(err, ErrContentTooLong) {
		t.Errorf("Expected ErrContentTooLong, got %v", err)
	}

	// Exactly at the bound is accepted, counted in runes, not bytes.
	msg, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: strings.Repeat("é", 1000)})
	if err != nil {
		t.Fatalf("Expected 1000-rune message to be accepted, got %v", err)
	}
	if msg.ID == 0 {
		t.Error("Expected persisted message to carry an id")
	}

	if n := countMessages(db); n != 1 {
		t.Errorf("Expected exactly 1 message persisted, got %d", n)
	}
}

func TestSendFanOutTwoTabsNoDuplicates(t *testing.T) {
	hub, db := newTestHub(t)

	alice := newTestClient(hub, 1)
	bobTab1 := newTestClient(hub, 2)
	bobTab2 := newTestClient(hub, 2)
	register(t, hub, alice)
	register(t, hub, bobTab1)
	register(t, hub, bobTab2)

	// One tab is viewing the conversation, which puts it in both the
	// conversation room and bob's personal room.
	hub.Join(bobTab1, RoomKeyFor(1, 2))
	hub.Join(alice, RoomKeyFor(1, 2))

	drain(alice)
	drain(bobTab1)
	drain(bobTab2)

	alice.handleEvent([]byte(`{"type":"send_message","receiver_id":2,"content":"hi"}`))
	time.Sleep(20 * time.Millisecond)

	for name, tab := range map[string]*Client{"tab1": bobTab1, "tab2": bobTab2} {
		events := collect(tab)
		var newMsgs []*newMessageEvent
		for _, evt := range events {
			if m, ok := evt.(*newMessageEvent); ok {
				newMsgs = append(newMsgs, m)
			}
		}
		if len(newMsgs) != 1 {
			t.Fatalf("%s: expected exactly 1 new_message, got %d (events: %v)", name, len(newMsgs), events)
		}
		if newMsgs[0].Message.Content != "hi" {
			t.Errorf("%s: content = %q, want %q", name, newMsgs[0].Message.Content, "hi")
		}
		if newMsgs[0].Message.Sender == nil || newMsgs[0].Message.Sender.ID != 1 || newMsgs[0].Message.Sender.Username != "alice" {
			t.Errorf("%s: expected enriched sender alice, got %+v", name, newMsgs[0].Message.Sender)
		}
	}

	// Alice gets one ack plus her copy through the conversation room.
	var acks, copies int
	for _, evt := range collect(alice) {
		switch e := evt.(type) {
		case *messageSentEvent:
			acks++
			if e.Status != "delivered" {
				t.Errorf("ack status = %q, want %q", e.Status, "delivered")
			}
		case *newMessageEvent:
			copies++
		}
	}
	if acks != 1 {
		t.Errorf("Expected exactly 1 message_sent ack, got %d", acks)
	}
	if copies != 1 {
		t.Errorf("Expected 1 new_message copy via conversation room, got %d", copies)
	}

	var isRead bool
	var readAt sql.NullTime
	var content string
	err := db.QueryRow("SELECT is_read, read_at, content FROM messages WHERE sender_id = 1 AND receiver_id = 2").
		Scan(&isRead, &readAt, &content)
	if err != nil {
		t.Fatalf("Failed to query message row: %v", err)
	}
	if isRead || readAt.Valid {
		t.Error("New message must start unread with null read_at")
	}
	if content != "hi" {
		t.Errorf("Persisted content = %q", content)
	}
	if n := countMessages(db); n != 1 {
		t.Errorf("Expected exactly 1 row, got %d", n)
	}
}

func TestUnknownReceiverRejectedSenderOnly(t *testing.T) {
	hub, db := newTestHub(t)

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	register(t, hub, alice)
	register(t, hub, bob)
	drain(alice)
	drain(bob)

	alice.handleEvent([]byte(`{"type":"send_message","receiver_id":999,"content":"hi"}`))
	time.Sleep(20 * time.Millisecond)

	events := collect(alice)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 event for sender, got %d", len(events))
	}
	if _, ok := events[0].(*messageErrorEvent); !ok {
		t.Errorf("Expected message_error, got %T", events[0])
	}

	if leaked := collect(bob); len(leaked) != 0 {
		t.Errorf("Error must go to the sender only, bob got %v", leaked)
	}
	if n := countMessages(db); n != 0 {
		t.Errorf("Expected 0 rows after rejected send, got %d", n)
	}
}

func TestPersistFailureSenderOnlyError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to open mock db: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	// Registration flips presence from the hub goroutine, so the order
	// against the dispatch calls is not deterministic.
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec("UPDATE users SET is_online").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE users SET is_online").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(errors.New("database is locked"))

	hub := NewHub(store.New(mockDB), nil, 1000)
	go hub.Run()

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	register(t, hub, alice)
	register(t, hub, bob)
	drain(alice)
	drain(bob)

	alice.handleEvent([]byte(`{"type":"send_message","receiver_id":2,"content":"hi"}`))
	time.Sleep(20 * time.Millisecond)

	events := collect(alice)
	if len(events) != 1 {
		t.Fatalf("Expected exactly 1 event for sender, got %d: %v", len(events), events)
	}
	evt, ok := events[0].(*messageErrorEvent)
	if !ok {
		t.Fatalf("Expected message_error, got %T", events[0])
	}
	if evt.Reason == "database is locked" {
		t.Error("Driver error must not leak to the client")
	}

	if leaked := collect(bob); len(leaked) != 0 {
		t.Errorf("Failed persist must not fan out, bob got %v", leaked)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestReplyToValidation(t *testing.T) {
	hub, db := newTestHub(t)

	missing := 12345
	_, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "re", ReplyToID: &missing})
	if !errors.Is(err, ErrReplyNotFound) {
		t.Errorf("Expected ErrReplyNotFound, got %v", err)
	}
	if n := countMessages(db); n != 0 {
		t.Errorf("Expected no rows, got %d", n)
	}

	first, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "original"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	reply, err := hub.Dispatch(context.Background(), 2, SendRequest{ReceiverID: 1, Content: "re", ReplyToID: &first.ID})
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if reply.ReplyToID == nil || *reply.ReplyToID != first.ID {
		t.Errorf("ReplyToID = %v, want %d", reply.ReplyToID, first.ID)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.Content != "original" {
		t.Errorf("Expected populated reply target, got %+v", reply.ReplyTo)
	}
}

func TestMarkReadByNonReceiverIgnored(t *testing.T) {
	hub, db := newTestHub(t)

	alice := newTestClient(hub, 1)
	carol := newTestClient(hub, 3)
	register(t, hub, alice)
	register(t, hub, carol)

	msg, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	drain(alice)
	drain(carol)

	// Neither the sender nor a third party may flip the flag.
	for _, c := range []*Client{alice, carol} {
		c.handleEvent([]byte(fmt.Sprintf(`{"type":"mark_read","message_id":%d}`, msg.ID)))
	}
	time.Sleep(20 * time.Millisecond)

	var isRead bool
	var readAt sql.NullTime
	if err := db.QueryRow("SELECT is_read, read_at FROM messages WHERE id = ?", msg.ID).Scan(&isRead, &readAt); err != nil {
		t.Fatalf("Failed to query row: %v", err)
	}
	if isRead || readAt.Valid {
		t.Error("Row must stay unread after unauthorized mark_read")
	}

	for name, c := range map[string]*Client{"alice": alice, "carol": carol} {
		for _, evt := range collect(c) {
			if _, ok := evt.(*messageReadEvent); ok {
				t.Errorf("%s received message_read for an ignored receipt", name)
			}
		}
	}
}

func TestMarkReadNotifiesSender(t *testing.T) {
	hub, db := newTestHub(t)

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	register(t, hub, alice)
	register(t, hub, bob)

	msg, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "hi"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	drain(alice)
	drain(bob)

	bob.handleEvent([]byte(fmt.Sprintf(`{"type":"mark_read","message_id":%d}`, msg.ID)))
	time.Sleep(20 * time.Millisecond)

	var isRead bool
	var readAt sql.NullTime
	if err := db.QueryRow("SELECT is_read, read_at FROM messages WHERE id = ?", msg.ID).Scan(&isRead, &readAt); err != nil {
		t.Fatalf("Failed to query row: %v", err)
	}
	if !isRead || !readAt.Valid {
		t.Error("Expected row flipped to read with read_at set")
	}

	events := collect(alice)
	var receipts []*messageReadEvent
	for _, evt := range events {
		if r, ok := evt.(*messageReadEvent); ok {
			receipts = append(receipts, r)
		}
	}
	if len(receipts) != 1 {
		t.Fatalf("Expected exactly 1 message_read to sender, got %d", len(receipts))
	}
	if receipts[0].MessageID != msg.ID {
		t.Errorf("message_read id = %d, want %d", receipts[0].MessageID, msg.ID)
	}
	if receipts[0].ReadAt.IsZero() {
		t.Error("message_read must carry read_at")
	}
}

func TestPresenceMultipleConnections(t *testing.T) {
	hub, db := newTestHub(t)

	observer := newTestClient(hub, 3)
	register(t, hub, observer)
	drain(observer)

	tab1 := newTestClient(hub, 1)
	tab2 := newTestClient(hub, 1)
	register(t, hub, tab1)
	register(t, hub, tab2)

	// Only the first connection announces the user.
	var online int
	for _, evt := range collect(observer) {
		if p, ok := evt.(*presenceChangedEvent); ok && p.UserID == 1 && p.IsOnline {
			online++
		}
	}
	if online != 1 {
		t.Errorf("Expected exactly 1 online broadcast for user 1, got %d", online)
	}

	unregister(t, hub, tab1)
	if !hub.IsUserOnline(1) {
		t.Fatal("User with one remaining connection must still be online")
	}
	for _, evt := range collect(observer) {
		if p, ok := evt.(*presenceChangedEvent); ok && p.UserID == 1 && !p.IsOnline {
			t.Error("Offline broadcast before the last connection closed")
		}
	}

	unregister(t, hub, tab2)
	if hub.IsUserOnline(1) {
		t.Fatal("User must be offline after the last connection closed")
	}
	var offline int
	for _, evt := range collect(observer) {
		if p, ok := evt.(*presenceChangedEvent); ok && p.UserID == 1 && !p.IsOnline {
			offline++
		}
	}
	if offline != 1 {
		t.Errorf("Expected exactly 1 offline broadcast, got %d", offline)
	}

	var isOnline bool
	var lastSeen sql.NullTime
	if err := db.QueryRow("SELECT is_online, last_seen FROM users WHERE id = 1").Scan(&isOnline, &lastSeen); err != nil {
		t.Fatalf("Failed to query user: %v", err)
	}
	if isOnline {
		t.Error("Offline status must be persisted after last disconnect")
	}
	if !lastSeen.Valid {
		t.Error("last_seen must be stamped on disconnect")
	}
}

func TestTypingIsEphemeral(t *testing.T) {
	hub, db := newTestHub(t)

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	carol := newTestClient(hub, 3)
	register(t, hub, alice)
	register(t, hub, bob)
	register(t, hub, carol)
	drain(alice)
	drain(bob)
	drain(carol)

	before := countMessages(db)

	alice.handleEvent([]byte(`{"type":"typing_start","receiver_id":2,"conversation_key":"1_2"}`))
	alice.handleEvent([]byte(`{"type":"typing_stop","receiver_id":2,"conversation_key":"1_2"}`))
	time.Sleep(20 * time.Millisecond)

	events := collect(bob)
	if len(events) != 2 {
		t.Fatalf("Expected 2 typing_changed events, got %d", len(events))
	}
	start, ok := events[0].(*typingChangedEvent)
	if !ok || !start.IsTyping || start.SenderID != 1 || start.ConversationKey != "1_2" {
		t.Errorf("Unexpected first typing event: %+v", events[0])
	}
	stop, ok := events[1].(*typingChangedEvent)
	if !ok || stop.IsTyping {
		t.Errorf("Unexpected second typing event: %+v", events[1])
	}

	if leaked := collect(carol); len(leaked) != 0 {
		t.Errorf("Typing must reach the receiver's personal room only, carol got %v", leaked)
	}
	if after := countMessages(db); after != before {
		t.Errorf("Typing must not persist anything: %d -> %d rows", before, after)
	}
}

func TestJoinIsIdempotentAndScoped(t *testing.T) {
	hub, _ := newTestHub(t)

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	carol := newTestClient(hub, 3)
	register(t, hub, alice)
	register(t, hub, bob)
	register(t, hub, carol)

	key := RoomKeyFor(1, 2)
	hub.Join(bob, key)
	hub.Join(bob, key)
	// Carol is not part of the 1_2 pair.
	hub.Join(carol, key)

	drain(alice)
	drain(bob)
	drain(carol)

	if _, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "hi"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var delivered int
	for _, evt := range collect(bob) {
		if _, ok := evt.(*newMessageEvent); ok {
			delivered++
		}
	}
	if delivered != 1 {
		t.Errorf("Double join must not duplicate delivery: got %d events", delivered)
	}

	for _, evt := range collect(carol) {
		if _, ok := evt.(*newMessageEvent); ok {
			t.Error("Foreign room join must be ignored")
		}
	}
}

func TestOnlineUsersSnapshotOnConnect(t *testing.T) {
	hub, _ := newTestHub(t)

	alice := newTestClient(hub, 1)
	register(t, hub, alice)

	bob := newTestClient(hub, 2)
	register(t, hub, bob)

	var snapshot *onlineUsersEvent
	for _, evt := range collect(bob) {
		if s, ok := evt.(*onlineUsersEvent); ok {
			snapshot = s
		}
	}
	if snapshot == nil {
		t.Fatal("New connection must receive an online_users snapshot")
	}
	want := []int{1, 2}
	if len(snapshot.UserIDs) != len(want) || snapshot.UserIDs[0] != 1 || snapshot.UserIDs[1] != 2 {
		t.Errorf("Snapshot = %v, want %v", snapshot.UserIDs, want)
	}
}

func TestDisconnectCleansRooms(t *testing.T) {
	hub, _ := newTestHub(t)

	alice := newTestClient(hub, 1)
	bob := newTestClient(hub, 2)
	register(t, hub, alice)
	register(t, hub, bob)

	key := RoomKeyFor(1, 2)
	hub.Join(bob, key)
	unregister(t, hub, bob)

	hub.mu.RLock()
	_, roomExists := hub.rooms[key]
	hub.mu.RUnlock()
	if roomExists {
		t.Error("Empty room must be dropped after its last member disconnects")
	}

	// The persisted write still completes; only the delivery is lost.
	drain(alice)
	if _, err := hub.Dispatch(context.Background(), 1, SendRequest{ReceiverID: 2, Content: "late"}); err != nil {
		t.Fatalf("Send after receiver disconnect failed: %v", err)
	}

	// Rejoining after unregister must be refused.
	hub.Join(bob, key)
	hub.mu.RLock()
	_, roomExists = hub.rooms[key]
	hub.mu.RUnlock()
	if roomExists {
		t.Error("Unregistered connection must not be able to join rooms")
	}
}

func TestWebSocketIntegration(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hub, _ := newTestHub(t)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("user_id", 1)
		c.Set("username", "alice")
		hub.HandleWebSocket(c)
	})

	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)

	if !hub.IsUserOnline(1) {
		t.Error("WebSocket client was not registered in hub")
	}

	// First frame is the online_users snapshot.
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read snapshot frame: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if env.Type != evtOnlineUsers {
		t.Errorf("First frame type = %q, want %q", env.Type, evtOnlineUsers)
	}
}
