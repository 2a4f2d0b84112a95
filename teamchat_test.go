package teamchat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func envelopeHandler(t *testing.T, wantPath string, data any) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		raw, _ := json.Marshal(data)
		json.NewEncoder(w).Encode(Envelope{Code: CodeSuccess, Data: raw})
	}
}

func TestUsersMe(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(t, "/api/users/me",
		UserProfile{ID: 100, FullName: "Me", Email: "me@example.com"}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	me, err := client.Users.Me(context.Background())
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if me.ID != 100 || me.FullName != "Me" {
		t.Errorf("profile = %+v", me)
	}
}

func TestGetMessagesQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/messages/7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("page") != "2" || q.Get("size") != "20" {
			t.Errorf("query = %v", q)
		}
		raw, _ := json.Marshal(PaginatedMessages{
			Content:    []Message{{ID: 5, Content: "x"}},
			TotalPages: 3,
			Number:     2,
		})
		json.NewEncoder(w).Encode(Envelope{Code: CodeSuccess, Data: raw})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	page, err := client.Messages.GetMessages(context.Background(), 7, 2, 20)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if page.Number != 2 || len(page.Content) != 1 || page.Content[0].ID != 5 {
		t.Errorf("page = %+v", page)
	}
}

func TestEnvelopeErrorBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Envelope{Code: 4004, Message: "conversation not found"})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	_, err := client.Conversations.Get(context.Background(), 99)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %T (%v), want *APIError", err, err)
	}
	if apiErr.Code != 4004 || apiErr.Message != "conversation not found" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestSetReadMessagePath(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.Method != "POST" || r.URL.Path != "/api/conversations/7/read/45" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(Envelope{Code: CodeSuccess})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	if err := client.Conversations.SetReadMessage(context.Background(), 7, 45); err != nil {
		t.Fatalf("SetReadMessage: %v", err)
	}
	if !called {
		t.Fatal("backend never hit")
	}
}

func TestUploadAttachments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/attachments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("multipart parse: %v", err)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Fatalf("files = %d, want 2", len(files))
		}
		raw, _ := json.Marshal([]Attachment{{ID: 1, FileName: files[0].Filename}, {ID: 2, FileName: files[1].Filename}})
		json.NewEncoder(w).Encode(Envelope{Code: CodeSuccess, Data: raw})
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	attachments, err := client.Interactions.UploadAttachments(context.Background(), []AttachmentUpload{
		{FileName: "a.txt", Data: []byte("aaa")},
		{FileName: "b.png", Data: []byte{1, 2, 3}},
	})
	if err != nil {
		t.Fatalf("UploadAttachments: %v", err)
	}
	if len(attachments) != 2 || attachments[0].ID != 1 {
		t.Errorf("attachments = %+v", attachments)
	}
}

func TestThreadReplyDetection(t *testing.T) {
	root := Message{ID: 40, ThreadID: 40}
	if root.IsThreadReply() {
		t.Error("root misclassified as reply")
	}
	reply := Message{ID: 46, ThreadID: 40}
	if !reply.IsThreadReply() {
		t.Error("reply not detected")
	}
	plain := Message{ID: 50}
	if plain.IsThreadReply() {
		t.Error("plain message misclassified")
	}
}
