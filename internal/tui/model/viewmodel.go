package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matheus3301/wpprtc/internal/api"
	chat "github.com/matheus3301/wpprtc/internal/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// Caller is the part of the control client the view model needs.
type Caller interface {
	Call(ctx context.Context, method string, args map[string]any) (*structpb.Struct, error)
}

// Status mirrors GetStatus.
type Status struct {
	Profile       string `json:"profile"`
	UserID        string `json:"user_id"`
	Username      string `json:"username"`
	UptimeMs      int64  `json:"uptime_ms"`
	Link          string `json:"link"`
	CallState     string `json:"call_state"`
	Conversations int    `json:"conversations"`
	Active        string `json:"active"`
	PendingSends  int    `json:"pending_sends"`
	FailedSends   int    `json:"failed_sends"`
	PresenceError string `json:"presence_error"`
}

// Conversation is a row of ListConversations.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []chat.User   `json:"participants"`
	UnreadCount  int           `json:"unread_count"`
	LastMessage  *chat.Message `json:"last_message"`
}

// Peer returns the first participant other than localID.
func (c Conversation) Peer(localID string) chat.User {
	for _, u := range c.Participants {
		if u.ID != "" && u.ID != localID {
			return u
		}
	}
	return chat.User{}
}

// Title names the conversation after its peer.
func (c Conversation) Title(localID string) string {
	return DisplayName(c.Peer(localID))
}

// DisplayName prefers the username and falls back to the id.
func DisplayName(u chat.User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.ID != "" {
		return u.ID
	}
	return "unknown"
}

// Day is a group of messages under a date label.
type Day struct {
	Label    string         `json:"label"`
	Messages []chat.Message `json:"messages"`
}

// Call mirrors GetCall.
type Call struct {
	ID           string    `json:"id"`
	Role         string    `json:"role"`
	Remote       chat.User `json:"remote"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	Reason       string    `json:"reason"`
	RemoteStream bool      `json:"remote_stream"`
	AudioMuted   bool      `json:"audio_muted"`
	VideoMuted   bool      `json:"video_muted"`
	StartedAt    int64     `json:"started_at"`
	ConnectedAt  int64     `json:"connected_at"`
}

// Live reports whether the call has not reached a final state.
func (c Call) Live() bool {
	switch c.State {
	case "ringing", "calling", "connecting", "connected":
		return true
	}
	return false
}

// Incoming reports whether the call is ringing on this side.
func (c Call) Incoming() bool {
	return c.State == "ringing" && c.Role == "callee"
}

// SearchHit is a row of SearchMessages.
type SearchHit struct {
	Message chat.Message `json:"message"`
	Snippet string       `json:"snippet"`
}

// Presence mirrors GetPresence.
type Presence struct {
	Online   bool  `json:"online"`
	Known    bool  `json:"known"`
	LastSeen int64 `json:"last_seen"`
	Typing   bool  `json:"typing"`
}

// ErrNoConversation is returned by thread actions when nothing is open.
var ErrNoConversation = errors.New("no conversation is open")

// ViewModel caches what the views render and turns user actions into
// control calls. Every call is bounded by the configured timeout.
type ViewModel struct {
	client  Caller
	timeout time.Duration

	mu       sync.RWMutex
	status   Status
	convs    []Conversation
	active   string
	days     []Day
	session  Call
	presence Presence
}

func NewViewModel(client Caller, timeout time.Duration) *ViewModel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ViewModel{client: client, timeout: timeout}
}

func (vm *ViewModel) call(ctx context.Context, method string, args map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, vm.timeout)
	defer cancel()
	if args == nil {
		args = map[string]any{}
	}
	resp, err := vm.client.Call(ctx, method, args)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := api.Decode(resp, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", method, err)
	}
	return nil
}

// RefreshStatus reloads the daemon status and the call session.
func (vm *ViewModel) RefreshStatus(ctx context.Context) error {
	var st Status
	if err := vm.call(ctx, "GetStatus", nil, &st); err != nil {
		return err
	}
	var c Call
	if err := vm.call(ctx, "GetCall", nil, &c); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status, vm.session = st, c
	vm.mu.Unlock()
	return nil
}

// RefreshConversations reloads the conversation list. With remote set the
// daemon refetches it from the server first.
func (vm *ViewModel) RefreshConversations(ctx context.Context, remote bool) error {
	var out struct {
		Items []Conversation `json:"items"`
	}
	if err := vm.call(ctx, "ListConversations", map[string]any{"refresh": remote}, &out); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.convs = out.Items
	vm.mu.Unlock()
	return nil
}

// Open makes id the active conversation and loads its thread.
func (vm *ViewModel) Open(ctx context.Context, id string) error {
	if err := vm.call(ctx, "OpenConversation", map[string]any{"conversation_id": id}, nil); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.active, vm.days, vm.presence = id, nil, Presence{}
	vm.mu.Unlock()
	return vm.RefreshThread(ctx)
}

// Close forgets the active conversation on the client side.
func (vm *ViewModel) Close() {
	vm.mu.Lock()
	vm.active, vm.days = "", nil
	vm.mu.Unlock()
}

// RefreshThread reloads the active conversation's messages grouped by day.
func (vm *ViewModel) RefreshThread(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return nil
	}
	var out struct {
		Days []Day `json:"days"`
	}
	if err := vm.call(ctx, "ListMessages", map[string]any{"conversation_id": id, "grouped": true}, &out); err != nil {
		return err
	}
	vm.mu.Lock()
	if vm.active == id {
		vm.days = out.Days
	}
	vm.mu.Unlock()
	return nil
}

// RefreshPresence loads the peer's presence for the active conversation.
func (vm *ViewModel) RefreshPresence(ctx context.Context) error {
	conv, ok := vm.ActiveConversation()
	if !ok {
		return ErrNoConversation
	}
	peer := conv.Peer(vm.LocalID())
	if peer.ID == "" {
		return nil
	}
	var p Presence
	if err := vm.call(ctx, "GetPresence", map[string]any{"user_id": peer.ID, "conversation_id": conv.ID}, &p); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.presence = p
	vm.mu.Unlock()
	return nil
}

// Send posts text to the peer of the active conversation.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	peer, err := vm.activePeer()
	if err != nil {
		return err
	}
	if err := vm.call(ctx, "SendMessage", map[string]any{"receiver_id": peer.ID, "content": text}, nil); err != nil {
		return err
	}
	return vm.RefreshThread(ctx)
}

// Typing tells the peer the local user is typing in the active conversation.
func (vm *ViewModel) Typing(ctx context.Context) error {
	id := vm.Active()
	if id == "" {
		return ErrNoConversation
	}
	return vm.call(ctx, "Typing", map[string]any{"conversation_id": id}, nil)
}

// RetryFailed resends every failed message of the active thread and returns
// how many were resent.
func (vm *ViewModel) RetryFailed(ctx context.Context) (int, error) {
	failed := vm.failed()
	n := 0
	for _, tempID := range failed {
		if err := vm.call(ctx, "RetryMessage", map[string]any{"temp_id": tempID}, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, vm.RefreshThread(ctx)
}

// DiscardFailed drops every failed message of the active thread.
func (vm *ViewModel) DiscardFailed(ctx context.Context) (int, error) {
	failed := vm.failed()
	for i, tempID := range failed {
		if err := vm.call(ctx, "DiscardMessage", map[string]any{"temp_id": tempID}, nil); err != nil {
			return i, err
		}
	}
	return len(failed), vm.RefreshThread(ctx)
}

func (vm *ViewModel) failed() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	var ids []string
	for _, d := range vm.days {
		for _, m := range d.Messages {
			if m.Pending() && m.Status == chat.StatusFailed && m.TempID != "" {
				ids = append(ids, m.TempID)
			}
		}
	}
	return ids
}

// ReactLast reacts to the newest message of the active thread.
func (vm *ViewModel) ReactLast(ctx context.Context, emoji string) error {
	vm.mu.RLock()
	var last *chat.Message
	for i := len(vm.days) - 1; i >= 0 && last == nil; i-- {
		msgs := vm.days[i].Messages
		for j := len(msgs) - 1; j >= 0; j-- {
			if !msgs[j].Pending() && !msgs[j].Deleted {
				last = &msgs[j]
				break
			}
		}
	}
	vm.mu.RUnlock()
	if last == nil {
		return errors.New("nothing to react to")
	}
	if err := vm.call(ctx, "React", map[string]any{"message_id": last.ID, "emoji": emoji}, nil); err != nil {
		return err
	}
	return vm.RefreshThread(ctx)
}

// Search runs a full text search over cached messages.
func (vm *ViewModel) Search(ctx context.Context, query string) ([]SearchHit, error) {
	var out struct {
		Items []SearchHit `json:"items"`
	}
	if err := vm.call(ctx, "SearchMessages", map[string]any{"query": query}, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// StartCall calls the peer of the active conversation.
func (vm *ViewModel) StartCall(ctx context.Context, kind string) error {
	peer, err := vm.activePeer()
	if err != nil {
		return err
	}
	args := map[string]any{"user_id": peer.ID, "username": peer.Username}
	if kind != "" {
		args["kind"] = kind
	}
	var c Call
	if err := vm.call(ctx, "StartCall", args, &c); err != nil {
		return err
	}
	vm.setCall(c)
	return nil
}

func (vm *ViewModel) AcceptCall(ctx context.Context) error {
	var c Call
	if err := vm.call(ctx, "AcceptCall", nil, &c); err != nil {
		return err
	}
	vm.setCall(c)
	return nil
}

func (vm *ViewModel) RejectCall(ctx context.Context) error {
	if err := vm.call(ctx, "RejectCall", nil, nil); err != nil {
		return err
	}
	return vm.RefreshStatus(ctx)
}

func (vm *ViewModel) EndCall(ctx context.Context) error {
	if err := vm.call(ctx, "EndCall", nil, nil); err != nil {
		return err
	}
	return vm.RefreshStatus(ctx)
}

// ToggleMute flips sending of local "audio" or "video" on the live call.
func (vm *ViewModel) ToggleMute(ctx context.Context, kind string) error {
	var c Call
	if err := vm.call(ctx, "MuteCall", map[string]any{"kind": kind}, &c); err != nil {
		return err
	}
	vm.setCall(c)
	return nil
}

// Reconnect asks the daemon to dial the signaling server again.
func (vm *ViewModel) Reconnect(ctx context.Context) error {
	if err := vm.call(ctx, "Reconnect", nil, nil); err != nil {
		return err
	}
	return vm.RefreshStatus(ctx)
}

// FindConversation returns the id of the first conversation whose title
// contains name, ignoring case.
func (vm *ViewModel) FindConversation(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", false
	}
	local := vm.LocalID()
	for _, c := range vm.Conversations() {
		if strings.Contains(strings.ToLower(c.Title(local)), name) {
			return c.ID, true
		}
	}
	return "", false
}

func (vm *ViewModel) activePeer() (chat.User, error) {
	conv, ok := vm.ActiveConversation()
	if !ok {
		return chat.User{}, ErrNoConversation
	}
	peer := conv.Peer(vm.LocalID())
	if peer.ID == "" {
		return chat.User{}, fmt.Errorf("conversation %s has no other participant", conv.ID)
	}
	return peer, nil
}

func (vm *ViewModel) setCall(c Call) {
	vm.mu.Lock()
	vm.session = c
	vm.status.CallState = c.State
	vm.mu.Unlock()
}

func (vm *ViewModel) Status() Status {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

func (vm *ViewModel) LocalID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status.UserID
}

func (vm *ViewModel) Conversations() []Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.convs
}

func (vm *ViewModel) Active() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.active
}

// ActiveConversation returns the list entry of the open conversation.
func (vm *ViewModel) ActiveConversation() (Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.convs {
		if c.ID == vm.active {
			return c, true
		}
	}
	return Conversation{}, false
}

func (vm *ViewModel) Days() []Day {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.days
}

func (vm *ViewModel) Call() Call {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.session
}

func (vm *ViewModel) Presence() Presence {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.presence
}
