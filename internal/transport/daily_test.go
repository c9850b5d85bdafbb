package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchRoomConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"room_url":"https://rooms.example.com/abc","token":"tok"}`))
	}))
	defer srv.Close()

	cfg, err := FetchRoomConfig(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchRoomConfig() error = %v", err)
	}
	if cfg.RoomURL != "https://rooms.example.com/abc" || cfg.Token != "tok" {
		t.Fatalf("config = %+v", cfg)
	}
}

func TestFetchRoomConfigMissingRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := FetchRoomConfig(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected error for missing room_url")
	}
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("error type = %T", err)
	}
	if terr.Transport != KindDaily {
		t.Fatalf("transport = %q", terr.Transport)
	}
}

func TestFetchRoomConfigBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := FetchRoomConfig(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error for 403")
	}
}
