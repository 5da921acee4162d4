package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/deskchat/internal/crypto"
	"github.com/eldtechnologies/deskchat/internal/models"
	"github.com/eldtechnologies/deskchat/internal/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// newTestServer serves a seeded in-memory store, optionally backed by an
// in-memory Redis.
func newTestServer(t *testing.T, withRedis bool) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ds, err := store.NewSQLiteStore(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ds.Close)
	if err := store.Seed(ctx, ds, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	tokens, err := crypto.NewTokenIssuer(strings.Repeat("s", 32), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	deps := Deps{Store: ds, Tokens: tokens}
	if withRedis {
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		deps.Redis = store.NewRedisStoreFromClient(client)
	}

	router, events := NewRouter(zerolog.Nop(), deps)
	if err := events.Start(ctx); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req, _ := http.NewRequest(method, srv.URL+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", env.Data, err)
	}
	return v
}

func login(t *testing.T, srv *httptest.Server, username string) (string, *models.User) {
	t.Helper()
	status, env := call(t, srv, http.MethodPost, "/api/auth/login", "", models.LoginRequest{Username: username, Password: store.DemoPassword})
	if status != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, status, env.Error)
	}
	auth := decodeData[models.AuthResponse](t, env)
	return auth.Token, auth.User
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, false)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Status string                    `json:"status"`
		Checks map[string]map[string]any `json:"checks"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		t.Fatalf("unexpected health %d %+v", resp.StatusCode, body)
	}
	if body.Checks["redis"]["status"] != "skip" {
		t.Fatalf("redis should be skipped, got %+v", body.Checks["redis"])
	}
}

func TestRegisterAndLogin(t *testing.T) {
	srv := newTestServer(t, false)

	reg := models.RegisterRequest{Username: "newbie", Password: "longenough", Email: "newbie@example.com"}
	status, env := call(t, srv, http.MethodPost, "/api/auth/register", "", reg)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, env.Error)
	}
	auth := decodeData[models.AuthResponse](t, env)
	if auth.Token == "" || auth.User.Role != models.RoleCustomer {
		t.Fatalf("unexpected registration %+v", auth)
	}

	if status, _ := call(t, srv, http.MethodPost, "/api/auth/register", "", reg); status != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", status)
	}

	reg.Username, reg.Role = "boss", models.RoleSuperAgent
	if status, _ := call(t, srv, http.MethodPost, "/api/auth/register", "", reg); status != http.StatusBadRequest {
		t.Fatalf("super-agent self registration: expected 400, got %d", status)
	}

	bad := models.LoginRequest{Username: "newbie", Password: "wrong-password"}
	status, env = call(t, srv, http.MethodPost, "/api/auth/login", "", bad)
	if status != http.StatusUnauthorized || env.Success || env.Error == "" {
		t.Fatalf("bad login: %d %+v", status, env)
	}

	status, env = call(t, srv, http.MethodGet, "/api/users/me", auth.Token, nil)
	if status != http.StatusOK {
		t.Fatalf("me: %d %s", status, env.Error)
	}
	if me := decodeData[models.User](t, env); me.Username != "newbie" {
		t.Fatalf("unexpected me %+v", me)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, false)

	status, env := call(t, srv, http.MethodGet, "/api/chats", "", nil)
	if status != http.StatusUnauthorized || env.Success {
		t.Fatalf("expected 401 envelope, got %d %+v", status, env)
	}
	if status, _ := call(t, srv, http.MethodGet, "/api/chats", "not-a-token", nil); status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", status)
	}
}

func TestChatVisibilityAndMessages(t *testing.T) {
	srv := newTestServer(t, false)
	token, _ := login(t, srv, "customer1")
	otherToken, _ := login(t, srv, "customer2")

	_, env := call(t, srv, http.MethodGet, "/api/chats", token, nil)
	chats := decodeData[[]models.Chat](t, env)
	if len(chats) != 1 || chats[0].Agent == nil || chats[0].Agent.Username != "agent1" {
		t.Fatalf("unexpected chats %+v", chats)
	}
	chatID := chats[0].ID

	_, env = call(t, srv, http.MethodGet, "/api/chats", otherToken, nil)
	otherChat := decodeData[[]models.Chat](t, env)[0].ID
	if status, _ := call(t, srv, http.MethodGet, "/api/chats/"+otherChat, token, nil); status != http.StatusNotFound {
		t.Fatalf("foreign chat should be hidden, got %d", status)
	}

	status, env := call(t, srv, http.MethodPost, "/api/chats/"+chatID+"/messages", token, models.SendMessageRequest{Content: "  where is it?  "})
	if status != http.StatusCreated {
		t.Fatalf("send: %d %s", status, env.Error)
	}
	sent := decodeData[models.Message](t, env)
	if sent.Content != "  where is it?  " || sent.Type != models.MessageText {
		t.Fatalf("unexpected message %+v", sent)
	}

	if status, _ := call(t, srv, http.MethodPost, "/api/chats/"+chatID+"/messages", token, models.SendMessageRequest{Content: "   "}); status != http.StatusBadRequest {
		t.Fatalf("blank content: expected 400, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/chats/"+otherChat+"/messages", token, models.SendMessageRequest{Content: "hi"}); status != http.StatusNotFound {
		t.Fatalf("send to foreign chat: expected 404, got %d", status)
	}

	_, env = call(t, srv, http.MethodGet, "/api/chats/"+chatID+"/messages?limit=10", token, nil)
	msgs := decodeData[[]models.Message](t, env)
	if len(msgs) != 2 || msgs[1].ID != sent.ID {
		t.Fatalf("expected greeting then new message, got %+v", msgs)
	}
	if msgs[1].Content != "  where is it?  " {
		t.Fatalf("stored content %q differs from what was sent", msgs[1].Content)
	}

	if status, _ := call(t, srv, http.MethodGet, "/api/chats/"+chatID+"/messages?limit=-1", token, nil); status != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", status)
	}
}

func TestCreateChatRules(t *testing.T) {
	srv := newTestServer(t, false)
	custToken, cust := login(t, srv, "customer1")
	_, other := login(t, srv, "customer2")
	agentToken, agent := login(t, srv, "agent1")
	_, agent3 := login(t, srv, "agent3")

	cases := []struct {
		name   string
		token  string
		req    models.CreateChatRequest
		status int
	}{
		{"customer for someone else", custToken, models.CreateChatRequest{CustomerID: other.ID}, http.StatusForbidden},
		{"customer with agent", custToken, models.CreateChatRequest{CustomerID: cust.ID, AgentID: &agent3.ID}, http.StatusCreated},
		{"customer naming a customer as agent", custToken, models.CreateChatRequest{CustomerID: cust.ID, AgentID: &other.ID}, http.StatusBadRequest},
		{"agent assigning another agent", agentToken, models.CreateChatRequest{CustomerID: other.ID, AgentID: &agent3.ID}, http.StatusForbidden},
		{"agent with agent as customer", agentToken, models.CreateChatRequest{CustomerID: agent3.ID}, http.StatusBadRequest},
		{"agent self assigned", agentToken, models.CreateChatRequest{CustomerID: other.ID}, http.StatusCreated},
		{"missing customer", agentToken, models.CreateChatRequest{}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		status, env := call(t, srv, http.MethodPost, "/api/chats", tc.token, tc.req)
		if status != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.name, tc.status, status, env.Error)
		}
		if status == http.StatusCreated {
			chat := decodeData[models.Chat](t, env)
			if chat.AgentID == nil || chat.Status != models.ChatActive {
				t.Fatalf("%s: unexpected chat %+v", tc.name, chat)
			}
			if tc.token == agentToken && *chat.AgentID != agent.ID {
				t.Fatalf("%s: agent chat not self assigned", tc.name)
			}
		}
	}
}

func TestArchiveLifecycle(t *testing.T) {
	srv := newTestServer(t, false)
	token, _ := login(t, srv, "customer1")
	strangerToken, _ := login(t, srv, "agent2")

	_, env := call(t, srv, http.MethodGet, "/api/chats", token, nil)
	chatID := decodeData[[]models.Chat](t, env)[0].ID

	if status, _ := call(t, srv, http.MethodPut, "/api/chats/"+chatID+"/archive", strangerToken, nil); status != http.StatusNotFound {
		t.Fatalf("stranger archive: expected 404, got %d", status)
	}

	status, env := call(t, srv, http.MethodPut, "/api/chats/"+chatID+"/archive", token, nil)
	if status != http.StatusOK {
		t.Fatalf("archive: %d %s", status, env.Error)
	}
	if chat := decodeData[models.Chat](t, env); chat.Status != models.ChatArchived || chat.IsActive {
		t.Fatalf("unexpected archived chat %+v", chat)
	}

	if status, _ := call(t, srv, http.MethodPut, "/api/chats/"+chatID+"/archive", token, nil); status != http.StatusConflict {
		t.Fatalf("double archive: expected 409, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPost, "/api/chats/"+chatID+"/messages", token, models.SendMessageRequest{Content: "hello?"}); status != http.StatusConflict {
		t.Fatalf("send to archived: expected 409, got %d", status)
	}

	_, env = call(t, srv, http.MethodGet, "/api/archived-chats", token, nil)
	if archived := decodeData[[]models.Chat](t, env); len(archived) != 1 || archived[0].ID != chatID {
		t.Fatalf("unexpected archived list %+v", archived)
	}
	_, env = call(t, srv, http.MethodGet, "/api/chats", token, nil)
	if active := decodeData[[]models.Chat](t, env); len(active) != 0 {
		t.Fatalf("archived chat still active %+v", active)
	}

	status, _ = call(t, srv, http.MethodPut, "/api/chats/"+chatID+"/status", token, models.UpdateChatStatusRequest{Status: models.ChatActive})
	if status != http.StatusOK {
		t.Fatalf("unarchive via status: expected 200, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodPut, "/api/chats/"+chatID+"/unarchive", token, nil); status != http.StatusConflict {
		t.Fatalf("unarchive active: expected 409, got %d", status)
	}
}

func TestAvailableListsAreRoleGated(t *testing.T) {
	srv := newTestServer(t, false)
	custToken, _ := login(t, srv, "customer1")
	agentToken, _ := login(t, srv, "agent1")

	if status, _ := call(t, srv, http.MethodGet, "/api/available-agents", agentToken, nil); status != http.StatusForbidden {
		t.Fatalf("agent listing agents: expected 403, got %d", status)
	}
	if status, _ := call(t, srv, http.MethodGet, "/api/available-customers", custToken, nil); status != http.StatusForbidden {
		t.Fatalf("customer listing customers: expected 403, got %d", status)
	}
	status, env := call(t, srv, http.MethodGet, "/api/available-agents", custToken, nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("customer listing agents: %d %s", status, env.Error)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	srv := newTestServer(t, true)
	token, _ := login(t, srv, "agent1")

	if status, _ := call(t, srv, http.MethodPost, "/api/auth/logout", token, nil); status != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", status)
	}
	status, env := call(t, srv, http.MethodGet, "/api/users/me", token, nil)
	if status != http.StatusUnauthorized || env.Error != "session revoked" {
		t.Fatalf("revoked token accepted: %d %+v", status, env)
	}
}

func TestStatsForSuperAgentsOnly(t *testing.T) {
	srv := newTestServer(t, true)
	agentToken, _ := login(t, srv, "agent1")
	superToken, _ := login(t, srv, "superagent1")

	if status, _ := call(t, srv, http.MethodGet, "/api/stats", agentToken, nil); status != http.StatusForbidden {
		t.Fatalf("agent stats: expected 403, got %d", status)
	}
	status, env := call(t, srv, http.MethodGet, "/api/stats", superToken, nil)
	if status != http.StatusOK {
		t.Fatalf("stats: %d %s", status, env.Error)
	}
	var stats struct {
		TotalUsers     int64 `json:"totalUsers"`
		ActiveChats    int64 `json:"activeChats"`
		SharedPresence bool  `json:"sharedPresence"`
	}
	json.Unmarshal(env.Data, &stats)
	if stats.TotalUsers != 6 || stats.ActiveChats != 2 || !stats.SharedPresence {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestWebSocketDeliversNewMessage(t *testing.T) {
	for _, withRedis := range []bool{false, true} {
		srv := newTestServer(t, withRedis)
		custToken, cust := login(t, srv, "customer1")
		agentToken, _ := login(t, srv, "agent1")

		dial := func(token string) *websocket.Conn {
			url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		readUntil := func(conn *websocket.Conn, typ string) map[string]any {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			for {
				var ev map[string]any
				if err := conn.ReadJSON(&ev); err != nil {
					t.Fatalf("redis=%v waiting for %s: %v", withRedis, typ, err)
				}
				if ev["type"] == typ {
					return ev
				}
			}
		}

		agentConn := dial(agentToken)
		dial(custToken)
		// seeing the customer come online proves both sockets are registered
		if ev := readUntil(agentConn, "user_connected"); ev["userId"] != cust.ID {
			t.Fatalf("unexpected presence %+v", ev)
		}

		_, env := call(t, srv, http.MethodGet, "/api/chats", custToken, nil)
		chatID := decodeData[[]models.Chat](t, env)[0].ID
		if status, env := call(t, srv, http.MethodPost, "/api/chats/"+chatID+"/messages", custToken, models.SendMessageRequest{Content: "ping"}); status != http.StatusCreated {
			t.Fatalf("send: %d %s", status, env.Error)
		}

		ev := readUntil(agentConn, "new_message")
		data := ev["data"].(map[string]any)
		if ev["chatId"] != chatID || data["content"] != "ping" {
			t.Fatalf("redis=%v: unexpected event %+v", withRedis, ev)
		}
	}
}

func TestWebSocketRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, false)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
