package scrobbler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kkyr/scrobbled/pkg/lastfm"
)

func newClientAgainst(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	sdk, err := lastfm.NewClient(lastfm.Config{
		APIKey:     "k",
		APISecret:  "s",
		SessionKey: "sk",
		BaseURL:    server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return NewClient(sdk, zerolog.Nop()), server
}

func respond(body string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestClient_ScrobbleOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   Outcome
	}{
		{
			name:   "accepted",
			body:   `{"scrobbles":{"@attr":{"accepted":1,"ignored":0},"scrobble":{}}}`,
			status: http.StatusOK,
			want:   OutcomeSuccess,
		},
		{
			name:   "ignored still counts as done",
			body:   `{"scrobbles":{"@attr":{"accepted":0,"ignored":1},"scrobble":{"ignoredMessage":{"code":"1","#text":"Artist ignored"}}}}`,
			status: http.StatusOK,
			want:   OutcomeSuccess,
		},
		{
			name:   "service offline",
			body:   `{"error":11,"message":"Service Offline"}`,
			status: http.StatusOK,
			want:   OutcomeTemporary,
		},
		{
			name:   "rate limited",
			body:   `{"error":29,"message":"Rate limit exceeded"}`,
			status: http.StatusOK,
			want:   OutcomeTemporary,
		},
		{
			name:   "invalid session key",
			body:   `{"error":9,"message":"Invalid session key"}`,
			status: http.StatusOK,
			want:   OutcomeInvalidSession,
		},
		{
			name:   "forbidden without envelope",
			body:   "Forbidden",
			status: http.StatusForbidden,
			want:   OutcomeInvalidSession,
		},
		{
			name:   "server error",
			body:   "Internal Server Error",
			status: http.StatusInternalServerError,
			want:   OutcomeTemporary,
		},
		{
			name:   "invalid parameters",
			body:   `{"error":6,"message":"Invalid parameters"}`,
			status: http.StatusOK,
			want:   OutcomeOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newClientAgainst(t, respond(tt.body, tt.status))

			got := client.Scrobble(context.Background(),
				Track{Artist: "Artist", Title: "Song", Duration: 180}, 95, 1700000000)
			if got != tt.want {
				t.Errorf("Scrobble() outcome = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_NetworkFailureIsTemporary(t *testing.T) {
	server := httptest.NewServer(respond("{}", http.StatusOK))
	serverURL := server.URL
	server.Close() // nothing listens anymore

	sdk, err := lastfm.NewClient(lastfm.Config{
		APIKey: "k", APISecret: "s", SessionKey: "sk", BaseURL: serverURL,
	})
	if err != nil {
		t.Fatal(err)
	}
	client := NewClient(sdk, zerolog.Nop())

	got := client.Scrobble(context.Background(),
		Track{Artist: "Artist", Title: "Song"}, 95, 1700000000)
	if got != OutcomeTemporary {
		t.Errorf("Scrobble() outcome = %v, want %v", got, OutcomeTemporary)
	}
}

func TestClient_UpdateNowPlaying(t *testing.T) {
	client, _ := newClientAgainst(t, respond(`{"nowplaying":{}}`, http.StatusOK))

	if !client.UpdateNowPlaying(context.Background(), Track{Artist: "Artist", Title: "Song"}) {
		t.Error("UpdateNowPlaying() = false, want true")
	}
}

func TestClient_UpdateNowPlayingFailure(t *testing.T) {
	client, _ := newClientAgainst(t, respond(`{"error":9,"message":"Invalid session key"}`, http.StatusOK))

	if client.UpdateNowPlaying(context.Background(), Track{Artist: "Artist", Title: "Song"}) {
		t.Error("UpdateNowPlaying() = true, want false")
	}
}
