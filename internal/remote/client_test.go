package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/matheus3301/wpprtc/internal/model"
)

type fakeStore struct {
	mu      sync.Mutex
	auth    []string
	read    []string
	deleted []string
	form    map[string]string
	media   []byte
	mediaCT string
}

func (f *fakeStore) router() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.mu.Lock()
			f.auth = append(f.auth, r.Header.Get("Authorization"))
			f.mu.Unlock()
			if r.Header.Get("Authorization") != "Bearer secret" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "token expired"})
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	api.HandleFunc("/chat/conversations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data": []map[string]any{
				{"_id": "c1", "participants": []map[string]string{{"_id": "me"}, {"_id": "bob", "username": "Bob"}}, "unreadCount": 2},
			},
		})
	}).Methods("GET")

	// Bare array, no envelope.
	api.HandleFunc("/chat/conversations/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		if mux.Vars(r)["id"] != "c1" {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "error", "message": "conversation not found"})
			return
		}
		writeJSON(w, http.StatusOK, []map[string]any{
			{"_id": "m1", "sender": "bob", "receiver": map[string]string{"_id": "me"}, "messageStatus": "read", "contentType": "text", "content": "hi"},
		})
	}).Methods("GET")

	api.HandleFunc("/chat/send-message", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		f.mu.Lock()
		f.form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.form[k] = v[0]
		}
		if file, hdr, err := r.FormFile("media"); err == nil {
			f.media, _ = io.ReadAll(file)
			f.mediaCT = hdr.Header.Get("Content-Type")
			file.Close()
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]any{
			"status": "success",
			"data": map[string]any{
				"_id": "m2", "sender": map[string]string{"_id": r.FormValue("senderId")},
				"receiver": map[string]string{"_id": r.FormValue("receiverId")},
				"conversation": "c1", "content": r.FormValue("content"), "messageStatus": "sent",
			},
		})
	}).Methods("POST")

	api.HandleFunc("/chat/messages/read", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MessageIDs []string `json:"messageIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "bad body"})
			return
		}
		f.mu.Lock()
		f.read = append(f.read, body.MessageIDs...)
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": body.MessageIDs})
	}).Methods("PUT")

	api.HandleFunc("/chat/messages/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, mux.Vars(r)["id"])
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "deleted"})
	}).Methods("DELETE")

	api.HandleFunc("/users/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "success",
			"data":   map[string]any{"isOnline": true, "lastSeen": "2024-05-01T10:00:00Z"},
		})
	}).Methods("GET")

	api.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": []map[string]any{
			{"_id": "s1", "user": map[string]string{"_id": "bob"}, "content": "hello", "contentType": "text"},
		}})
	}).Methods("GET")

	api.HandleFunc("/status/{id}/viewers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": []map[string]string{{"_id": "amy"}}})
	}).Methods("GET")

	api.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, token string) (*Client, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	srv := httptest.NewServer(store.router())
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL + "/api", Token: token}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c, store
}

func TestConversationsUnwrapsEnvelope(t *testing.T) {
	c, store := newTestClient(t, "secret")
	convs, err := c.Conversations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 || convs[0].ID != "c1" || convs[0].UnreadCount != 2 || convs[0].Participants[1].Username != "Bob" {
		t.Errorf("convs = %+v", convs)
	}
	if store.auth[0] != "Bearer secret" {
		t.Errorf("auth header = %q", store.auth[0])
	}
}

func TestMessagesAcceptsBareArray(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	msgs, err := c.Messages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("len = %d", len(msgs))
	}
	if msgs[0].Sender.ID != "bob" || msgs[0].Status != model.StatusSeen {
		t.Errorf("message = %+v", msgs[0])
	}

	_, err = c.Messages(context.Background(), "nope")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusNotFound || httpErr.Message != "conversation not found" {
		t.Errorf("err = %v, want 404 HTTPError", err)
	}
}

func TestSendMessageMultipart(t *testing.T) {
	c, store := newTestClient(t, "secret")
	msg, err := c.SendMessage(context.Background(), model.Draft{
		SenderID: "me", ReceiverID: "bob", Content: "look",
		Media: &model.Media{FileName: "cat.png", ContentType: "image/png", Data: []byte("png-bytes")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m2" || msg.Receiver.ID != "bob" {
		t.Errorf("msg = %+v", msg)
	}
	if store.form["senderId"] != "me" || store.form["receiverId"] != "bob" || store.form["content"] != "look" {
		t.Errorf("form = %v", store.form)
	}
	if string(store.media) != "png-bytes" || store.mediaCT != "image/png" {
		t.Errorf("media = %q (%s)", store.media, store.mediaCT)
	}
}

func TestMarkReadAndDelete(t *testing.T) {
	c, store := newTestClient(t, "secret")
	if err := c.MarkRead(context.Background(), []string{"m1", "m3"}); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteMessage(context.Background(), "m1"); err != nil {
		t.Fatal(err)
	}
	if len(store.read) != 2 || store.read[1] != "m3" {
		t.Errorf("read = %v", store.read)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "m1" {
		t.Errorf("deleted = %v", store.deleted)
	}
}

func TestUserStatusFillsID(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	p, err := c.UserStatus(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if p.UserID != "bob" || !p.Online || p.LastSeen.IsZero() {
		t.Errorf("presence = %+v", p)
	}
}

func TestStories(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	stories, err := c.Stories(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(stories) != 1 || stories[0].User.ID != "bob" {
		t.Errorf("stories = %+v", stories)
	}
	viewers, err := c.StoryViewers(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(viewers) != 1 || viewers[0].ID != "amy" {
		t.Errorf("viewers = %+v", viewers)
	}
}

func TestUnauthorized(t *testing.T) {
	c, _ := newTestClient(t, "stale")
	_, err := c.Conversations(context.Background())
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestPlainTextError(t *testing.T) {
	c, _ := newTestClient(t, "secret")
	err := c.getJSON(context.Background(), nil, "broken")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusBadGateway || httpErr.Message != "upstream exploded" {
		t.Errorf("err = %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("empty base url accepted")
	}
	if _, err := New(Config{BaseURL: "ftp://example.com"}, nil); err == nil {
		t.Error("ftp scheme accepted")
	}
}
