package deskchat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrSessionActive is returned by Start while a session is running.
var ErrSessionActive = errors.New("engine session already active")

// State is a complete, immutable view of the engine for rendering.
type State struct {
	Identity           *User
	Active             []Chat // newest activity first
	Archived           []Chat
	AvailableAgents    []User
	AvailableCustomers []User
	Selected           *Chat
	Messages           []Message
}

type subscription struct {
	name string
	id   HandlerID
}

// Engine reconciles snapshot loads, command results and streamed events
// into one roster and one open-chat message list.
//
// The engine is the only writer of its Roster and MessageLog. Every fold
// runs under mu, and mu is never held across a network call, so streamed
// events keep being applied while commands are in flight. Commands and
// events may therefore complete in any order; each fold looks its target
// up by id and does nothing when the target has moved.
//
// Newly sent messages and newly created chats are inserted only when the
// stream confirms them (new_message, new_chat), never from the command's
// own response, so the two paths cannot produce duplicates.
type Engine struct {
	api    ActionClient
	events EventChannel
	logger zerolog.Logger

	roster   *Roster
	messages *MessageLog
	presence *Presence

	mu         sync.Mutex
	identity   *User
	session    uint64
	selected   string
	selection  uint64
	subs       []subscription
	refreshing int
	// active chats inserted by the stream while an active snapshot was in
	// flight; they survive that snapshot.
	streamed map[string]struct{}

	changes chan struct{}
}

// NewEngine wires an engine to its action client and event channel.
func NewEngine(api ActionClient, events EventChannel, logger zerolog.Logger) *Engine {
	roster := NewRoster()
	return &Engine{
		api:      api,
		events:   events,
		logger:   logger,
		roster:   roster,
		messages: NewMessageLog(),
		presence: NewPresence(roster),
		changes:  make(chan struct{}, 1),
	}
}

// Changes is signalled after every state change. Notifications coalesce:
// a reader that falls behind sees one pending signal, then reads State.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// State returns the current view.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.roster.Snapshot()
	st := State{
		Active:             e.roster.ActiveChats(),
		Archived:           e.roster.ArchivedChats(),
		AvailableAgents:    s.AvailableAgents,
		AvailableCustomers: s.AvailableCustomers,
		Messages:           e.messages.Messages(),
	}
	if e.identity != nil {
		id := *e.identity
		st.Identity = &id
	}
	if e.selected != "" {
		if chat, _, ok := e.roster.Find(e.selected); ok {
			st.Selected = &chat
		}
	}
	return st
}

// Identity returns the session's identity, or nil outside a session.
func (e *Engine) Identity() *User {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.identity == nil {
		return nil
	}
	id := *e.identity
	return &id
}

// Start opens a session for identity: it registers the stream handlers,
// connects the event channel to streamURL (skipped when empty) and loads
// the roster snapshots. Failures are recoverable: the affected collection
// is left empty and the joined *TransportErrors are returned.
func (e *Engine) Start(ctx context.Context, identity User, streamURL string) error {
	if err := checkIdentity(identity); err != nil {
		return &ValidationError{Op: "start", Reason: err.Error()}
	}
	e.mu.Lock()
	if e.identity != nil {
		e.mu.Unlock()
		return ErrSessionActive
	}
	e.session++
	e.identity = &identity
	e.register(e.session)
	e.mu.Unlock()

	e.logger.Info().
		Str("user", identity.ID).
		Str("role", string(identity.Role)).
		Msg("session started")

	var errs []error
	if streamURL != "" {
		if err := e.events.Connect(ctx, streamURL); err != nil {
			e.logger.Warn().Err(err).Msg("event stream unavailable")
			errs = append(errs, &TransportError{Op: "connect stream", Err: err})
		}
	}
	errs = append(errs, e.RefreshChats(ctx), e.RefreshArchivedChats(ctx))
	return errors.Join(errs...)
}

// Stop ends the session: handlers are unregistered before the channel is
// disconnected, and all state is dropped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.session++
	e.identity = nil
	e.selected = ""
	e.selection++
	e.streamed, e.refreshing = nil, 0
	e.roster.Reset()
	e.messages.Clear()
	e.mu.Unlock()

	for _, s := range subs {
		e.events.Off(s.name, s.id)
	}
	err := e.events.Disconnect()
	e.notify()
	return err
}

// register installs the fold handlers for session sess. Must hold mu.
func (e *Engine) register(sess uint64) {
	on := func(name string, fold func(uint64, Event)) {
		id := e.events.On(name, func(ev Event) { fold(sess, ev) })
		e.subs = append(e.subs, subscription{name: name, id: id})
	}
	on(EventNewMessage, e.foldNewMessage)
	on(EventNewChat, e.foldNewChat)
	on(EventUserConnected, e.foldPresence)
	on(EventUserDisconnected, e.foldPresence)
}

// RefreshChats reloads the active chats and the one counterpart list the
// identity's role uses; the other list is cleared. The two requests run
// concurrently and fail independently.
func (e *Engine) RefreshChats(ctx context.Context) error {
	e.mu.Lock()
	if e.identity == nil {
		e.mu.Unlock()
		return &ValidationError{Op: "refresh chats", Reason: "no identity"}
	}
	role, sess := e.identity.Role, e.session
	if e.refreshing == 0 {
		e.streamed = make(map[string]struct{})
	}
	e.refreshing++
	e.mu.Unlock()

	// Each call keeps its own error: the collections degrade independently,
	// so neither failure may cancel the other request. The group only joins.
	var (
		g            errgroup.Group
		chats        []Chat
		chatsErr     error
		counterparts []User
		counterErr   error
	)
	g.Go(func() error {
		chats, chatsErr = e.api.ListChats(ctx)
		return nil
	})
	switch {
	case role.IsCustomer():
		g.Go(func() error {
			counterparts, counterErr = e.api.ListAvailableAgents(ctx)
			return nil
		})
	case role.IsAgent():
		g.Go(func() error {
			counterparts, counterErr = e.api.ListAvailableCustomers(ctx)
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if sess != e.session {
		return nil
	}

	var errs []error
	if chatsErr != nil {
		errs = append(errs, &TransportError{Op: "list chats", Err: chatsErr})
		chats = nil
	}
	if counterErr != nil {
		errs = append(errs, &TransportError{Op: "list available counterparts", Err: counterErr})
		counterparts = nil
	}

	chats = e.retainStreamed(chats)
	e.refreshing--
	if e.refreshing == 0 {
		e.streamed = nil
	}

	e.roster.ReplaceActive(chats)
	switch {
	case role.IsCustomer():
		e.roster.ReplaceAvailableAgents(counterparts)
		e.roster.ReplaceAvailableCustomers(nil)
	case role.IsAgent():
		e.roster.ReplaceAvailableCustomers(counterparts)
		e.roster.ReplaceAvailableAgents(nil)
	default:
		e.roster.ReplaceAvailableAgents(nil)
		e.roster.ReplaceAvailableCustomers(nil)
	}
	e.notify()

	for _, err := range errs {
		e.logger.Warn().Err(err).Msg("snapshot degraded to empty")
	}
	return errors.Join(errs...)
}

// retainStreamed appends to snapshot the active chats the stream inserted
// while it was loading and that it does not list. Must hold mu.
func (e *Engine) retainStreamed(snapshot []Chat) []Chat {
	if len(e.streamed) == 0 {
		return snapshot
	}
	listed := make(map[string]struct{}, len(snapshot))
	for _, c := range snapshot {
		listed[c.ID] = struct{}{}
	}
	for _, c := range e.roster.Snapshot().Active {
		_, fromStream := e.streamed[c.ID]
		_, known := listed[c.ID]
		if fromStream && !known {
			snapshot = append(snapshot, c)
		}
	}
	return snapshot
}

// RefreshArchivedChats reloads the archived collection.
func (e *Engine) RefreshArchivedChats(ctx context.Context) error {
	e.mu.Lock()
	if e.identity == nil {
		e.mu.Unlock()
		return &ValidationError{Op: "refresh archived chats", Reason: "no identity"}
	}
	sess := e.session
	e.mu.Unlock()

	chats, err := e.api.ListArchivedChats(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	if sess != e.session {
		return nil
	}
	if err != nil {
		chats = nil
		err = &TransportError{Op: "list archived chats", Err: err}
		e.logger.Warn().Err(err).Msg("snapshot degraded to empty")
	}
	e.roster.ReplaceArchived(chats)
	e.notify()
	return err
}

// SelectChat opens chat and loads its messages, or closes the open chat
// when chat is nil. Only one chat's messages are held at a time; a load
// that completes after the selection changed is discarded.
func (e *Engine) SelectChat(ctx context.Context, chat *Chat) error {
	e.mu.Lock()
	if chat == nil {
		e.selected = ""
		e.selection++
		e.messages.Clear()
		e.mu.Unlock()
		e.notify()
		return nil
	}
	if _, _, ok := e.roster.Find(chat.ID); !ok {
		e.mu.Unlock()
		e.logger.Warn().Str("chat", chat.ID).Msg("select of unknown chat ignored")
		return &StaleReferenceError{Op: "select chat", ChatID: chat.ID}
	}
	e.selection++
	gen, sess, chatID := e.selection, e.session, chat.ID
	e.selected = chatID
	e.messages.Open(chatID)
	e.mu.Unlock()
	e.notify()

	messages, err := e.api.ListMessages(ctx, chatID, DefaultMessageLimit, 0)

	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.selection || sess != e.session {
		e.logger.Debug().Str("chat", chatID).Msg("discarding messages of a superseded selection")
		return nil
	}
	if err != nil {
		e.messages.Load(chatID, nil)
		e.notify()
		return &TransportError{Op: "list messages", Err: err}
	}
	e.messages.Load(chatID, messages)
	e.notify()
	return nil
}

// SendMessage posts content to the selected chat. The message is not
// inserted here; it appears when the stream delivers new_message.
func (e *Engine) SendMessage(ctx context.Context, content string, typ MessageType) (*Message, error) {
	const op = "send message"
	if typ == "" {
		typ = TypeText
	}

	e.mu.Lock()
	identity, chatID := e.identity, e.selected
	e.mu.Unlock()

	switch {
	case identity == nil:
		return nil, &ValidationError{Op: op, Reason: "no identity"}
	case chatID == "":
		return nil, &ValidationError{Op: op, Reason: "no chat selected"}
	case strings.TrimSpace(content) == "":
		return nil, &ValidationError{Op: op, Reason: "content is empty"}
	case !typ.Valid():
		return nil, &ValidationError{Op: op, Reason: "unknown message type " + string(typ)}
	}

	msg, err := e.api.SendMessage(ctx, chatID, content, typ)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	e.logger.Debug().Str("chat", chatID).Str("message", msg.ID).Msg("message sent, awaiting stream confirmation")
	return msg, nil
}

// CreateChat opens a chat between customerID and agentID (agentID may be
// empty for an unassigned chat). The identity must be one side of the
// pairing: a customer only as the customer, an agent or super-agent only
// as the agent facing a customer. The chat enters the roster when the
// stream confirms it; the counterpart leaves the available list now.
func (e *Engine) CreateChat(ctx context.Context, customerID, agentID string) (*Chat, error) {
	return e.createChat(ctx, "create chat", customerID, agentID)
}

// StartChatWithAgent opens a chat between the customer identity and agentID.
func (e *Engine) StartChatWithAgent(ctx context.Context, agentID string) (*Chat, error) {
	const op = "start chat with agent"
	identity := e.Identity()
	switch {
	case identity == nil:
		return nil, &ValidationError{Op: op, Reason: "no identity"}
	case !identity.Role.IsCustomer():
		return nil, &ValidationError{Op: op, Reason: "only customers can start chats with agents"}
	case agentID == "":
		return nil, &ValidationError{Op: op, Reason: "agent id is required"}
	}
	return e.createChat(ctx, op, identity.ID, agentID)
}

// StartChatWithCustomer opens a chat between the agent identity and customerID.
func (e *Engine) StartChatWithCustomer(ctx context.Context, customerID string) (*Chat, error) {
	const op = "start chat with customer"
	identity := e.Identity()
	switch {
	case identity == nil:
		return nil, &ValidationError{Op: op, Reason: "no identity"}
	case !identity.Role.IsAgent():
		return nil, &ValidationError{Op: op, Reason: "only agents can start chats with customers"}
	}
	return e.createChat(ctx, op, customerID, identity.ID)
}

func (e *Engine) createChat(ctx context.Context, op, customerID, agentID string) (*Chat, error) {
	e.mu.Lock()
	identity, sess := e.identity, e.session
	e.mu.Unlock()

	if identity == nil {
		return nil, &ValidationError{Op: op, Reason: "no identity"}
	}
	if reason := checkPairing(*identity, customerID, agentID); reason != "" {
		return nil, &ValidationError{Op: op, Reason: reason}
	}

	chat, err := e.api.CreateChat(ctx, customerID, agentID)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	e.mu.Lock()
	changed := false
	if sess == e.session {
		switch {
		case identity.Role.IsCustomer() && agentID != "":
			changed = e.roster.RemoveAvailableAgent(agentID)
		case identity.Role.IsAgent():
			changed = e.roster.RemoveAvailableCustomer(customerID)
		}
	}
	e.mu.Unlock()
	if changed {
		e.notify()
	}
	return chat, nil
}

// checkPairing returns why identity may not create the chat, or "".
func checkPairing(identity User, customerID, agentID string) string {
	switch {
	case customerID == "":
		return "customer id is required"
	case identity.Role.IsCustomer():
		if customerID != identity.ID {
			return "customers can only open their own chats"
		}
		if agentID == identity.ID {
			return "customers can only start chats with agents"
		}
	case identity.Role.IsAgent():
		if customerID == identity.ID {
			return "agents can only start chats with customers"
		}
		if agentID != "" && agentID != identity.ID {
			return "agents can only assign chats to themselves"
		}
	default:
		return "unknown role " + string(identity.Role)
	}
	return ""
}

// ArchiveChat archives an active chat. The chat must be active before the
// call and still active when it succeeds; otherwise a *StaleReferenceError
// is returned and the roster is untouched. Archiving the open chat closes it.
func (e *Engine) ArchiveChat(ctx context.Context, chatID string) error {
	const op = "archive chat"

	sess, err := e.expect(op, chatID, StatusActive)
	if err != nil {
		return err
	}
	if err := e.api.ArchiveChat(ctx, chatID); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	e.mu.Lock()
	if sess != e.session {
		e.mu.Unlock()
		return nil
	}
	if _, ok := e.roster.MoveToArchived(chatID); !ok {
		e.mu.Unlock()
		e.logger.Warn().Str("chat", chatID).Msg("archived chat no longer active")
		return &StaleReferenceError{Op: op, ChatID: chatID}
	}
	if e.selected == chatID {
		e.selected = ""
		e.selection++
		e.messages.Clear()
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// UnarchiveChat restores an archived chat to the head of the active list.
func (e *Engine) UnarchiveChat(ctx context.Context, chatID string) error {
	const op = "unarchive chat"

	sess, err := e.expect(op, chatID, StatusArchived)
	if err != nil {
		return err
	}
	if err := e.api.UnarchiveChat(ctx, chatID); err != nil {
		return &TransportError{Op: op, Err: err}
	}

	e.mu.Lock()
	if sess != e.session {
		e.mu.Unlock()
		return nil
	}
	if _, ok := e.roster.MoveToActive(chatID); !ok {
		e.mu.Unlock()
		e.logger.Warn().Str("chat", chatID).Msg("unarchived chat no longer archived")
		return &StaleReferenceError{Op: op, ChatID: chatID}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// expect checks that chatID currently sits in the status collection and
// returns the session to apply the result against.
func (e *Engine) expect(op, chatID string, status ChatStatus) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.identity == nil {
		return 0, &ValidationError{Op: op, Reason: "no identity"}
	}
	if _, got, ok := e.roster.Find(chatID); !ok || got != status {
		e.logger.Warn().Str("chat", chatID).Str("op", op).Msg("stale chat reference")
		return 0, &StaleReferenceError{Op: op, ChatID: chatID}
	}
	return e.session, nil
}

func (e *Engine) foldNewMessage(sess uint64, ev Event) {
	var msg Message
	if err := json.Unmarshal(ev.Data, &msg); err != nil || msg.ID == "" || msg.ChatID == "" {
		e.logger.Warn().Err(err).Str("event", ev.Type).Msg("dropping malformed event")
		return
	}

	e.mu.Lock()
	if sess != e.session {
		e.mu.Unlock()
		return
	}
	changed := e.roster.PatchLastMessage(msg.ChatID, msg)
	if msg.ChatID == e.selected {
		if e.messages.Append(msg) {
			changed = true
		} else {
			e.logger.Debug().Str("message", msg.ID).Msg("duplicate message absorbed")
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

func (e *Engine) foldNewChat(sess uint64, ev Event) {
	var chat Chat
	if err := json.Unmarshal(ev.Data, &chat); err != nil || chat.ID == "" {
		e.logger.Warn().Err(err).Str("event", ev.Type).Msg("dropping malformed event")
		return
	}

	e.mu.Lock()
	if sess != e.session {
		e.mu.Unlock()
		return
	}
	before := e.roster.Snapshot()
	if e.roster.UpsertActive(chat) {
		if e.streamed != nil {
			e.streamed[chat.ID] = struct{}{}
		}
	} else {
		e.logger.Debug().Str("chat", chat.ID).Msg("duplicate chat absorbed")
	}
	changed := e.roster.Snapshot() != before

	switch role := e.identity.Role; {
	case role.IsCustomer():
		if agentID := chat.AssignedAgent(); agentID != "" && e.roster.RemoveAvailableAgent(agentID) {
			changed = true
		}
	case role.IsAgent():
		if e.roster.RemoveAvailableCustomer(chat.CustomerID) {
			changed = true
		}
	}
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

func (e *Engine) foldPresence(sess uint64, ev Event) {
	var update PresenceUpdate
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &update); err != nil {
			e.logger.Warn().Err(err).Str("event", ev.Type).Msg("dropping malformed event")
			return
		}
	}
	if update.UserID == "" {
		update.UserID = ev.UserID
	}
	if update.UserID == "" {
		return
	}
	online := ev.Type == EventUserConnected

	e.mu.Lock()
	if sess != e.session {
		e.mu.Unlock()
		return
	}
	changed := e.presence.Apply(update.UserID, online)
	e.mu.Unlock()

	if changed {
		e.notify()
	}
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}
