package bsky

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyward/internal/model"
)

func newTestClient(t *testing.T, h http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(Options{
		Service:     srv.URL,
		Identifier:  "me.bsky.social",
		AppPassword: "app-pass",
		RPS:         1000,
		Burst:       1000,
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func session() *Session {
	return &Session{DID: "did:plc:me", Handle: "me.bsky.social", AccessJwt: "access", RefreshJwt: "refresh"}
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "me.bsky.social", in["identifier"])
		assert.Equal(t, "app-pass", in["password"])
		writeJSON(w, 200, map[string]string{"did": "did:plc:me", "handle": "me.bsky.social", "accessJwt": "a", "refreshJwt": "r"})
	}))

	s, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "did:plc:me", s.DID)
	assert.Equal(t, "a", s.AccessJwt)
}

func TestLoginRejected(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 401, xrpcErrorBody{Error: "AuthenticationRequired", Message: "Invalid identifier or password"})
	}))

	_, err := c.Login(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.Status)
}

func TestFollowersPaging(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "target.bsky.social", r.URL.Query().Get("actor"))
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("cursor") {
		case "":
			writeJSON(w, 200, getFollowersOutput{Cursor: "p2", Followers: []profileView{{Did: "did:plc:1", Handle: "one"}, {Did: "did:plc:2", Handle: "two"}}})
		case "p2":
			writeJSON(w, 200, getFollowersOutput{Followers: []profileView{{Did: "did:plc:3", Handle: "three", DisplayName: "Three"}}})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))

	var got []model.CandidateUser
	for u, err := range c.Followers(context.Background(), session(), "target.bsky.social") {
		require.NoError(t, err)
		got = append(got, u)
	}
	require.Len(t, got, 3)
	assert.Equal(t, "Three", got[2].DisplayName)
	assert.Equal(t, int32(2), calls.Load())

	// stopping early must not fetch the next page
	calls.Store(0)
	for range c.Followers(context.Background(), session(), "target.bsky.social") {
		break
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestFollowCreatesRecord(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/xrpc/com.atproto.repo.createRecord", r.URL.Path)
		var in struct {
			Repo       string       `json:"repo"`
			Collection string       `json:"collection"`
			Record     followRecord `json:"record"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "did:plc:me", in.Repo)
		assert.Equal(t, "app.bsky.graph.follow", in.Collection)
		assert.Equal(t, "app.bsky.graph.follow", in.Record.Type)
		assert.Equal(t, "did:plc:x", in.Record.Subject)
		assert.NotEmpty(t, in.Record.CreatedAt)
		writeJSON(w, 200, strongRef{URI: "at://did:plc:me/app.bsky.graph.follow/1", CID: "c"})
	}))

	require.NoError(t, c.Follow(context.Background(), session(), "did:plc:x"))
}

func TestExpiredTokenRefreshesOnce(t *testing.T) {
	var likes atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.refreshSession":
			assert.Equal(t, "Bearer refresh", r.Header.Get("Authorization"))
			writeJSON(w, 200, sessionOutput{AccessJwt: "access2", RefreshJwt: "refresh2", Did: "did:plc:me"})
		case "/xrpc/com.atproto.repo.createRecord":
			likes.Add(1)
			if r.Header.Get("Authorization") != "Bearer access2" {
				writeJSON(w, 400, xrpcErrorBody{Error: "ExpiredToken", Message: "Token has expired"})
				return
			}
			writeJSON(w, 200, strongRef{})
		}
	}))

	s := session()
	require.NoError(t, c.Like(context.Background(), s, model.PostRef{URI: "at://did:plc:x/app.bsky.feed.post/1", CID: "cid"}))
	assert.Equal(t, "access2", s.AccessJwt)
	assert.Equal(t, "refresh2", s.RefreshJwt)
	assert.Equal(t, int32(2), likes.Load())
}

func TestProcedureErrorsAreClassified(t *testing.T) {
	cases := []struct {
		status int
		name   string
		class  Class
	}{
		{429, "RateLimitExceeded", ClassRetryable},
		{503, "", ClassRetryable},
		{400, "BlockedActor", ClassCandidate},
		{401, "", ClassFatal},
		{400, "InvalidRequest", ClassFatal},
	}
	for _, tc := range cases {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, xrpcErrorBody{Error: tc.name, Message: "nope"})
		}))
		err := c.Follow(context.Background(), session(), "did:plc:x")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, tc.class, apiErr.Class, "status %d name %q", tc.status, tc.name)
		assert.Equal(t, tc.status, apiErr.Status)
	}
}

func TestQueriesRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			writeJSON(w, 503, xrpcErrorBody{Error: "InternalServerError"})
			return
		}
		writeJSON(w, 200, getAuthorFeedOutput{})
	}))
	defer srv.Close()

	var retried []string
	c, err := NewHTTPClient(Options{
		Service: srv.URL,
		Retries: 2,
		RPS:     1000,
		Logger:  zerolog.Nop(),
		OnRetry: func(method string) { retried = append(retried, method) },
	})
	require.NoError(t, err)

	post, err := c.LatestPost(context.Background(), session(), "did:plc:x")
	require.NoError(t, err)
	assert.Nil(t, post)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"app.bsky.feed.getAuthorFeed"}, retried)
}

func TestProceduresAreNotRetriedByTransport(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, 502, xrpcErrorBody{})
	}))

	err := c.Follow(context.Background(), session(), "did:plc:x")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLatestPostSkipsReposts(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "did:plc:x", r.URL.Query().Get("actor"))
		_, _ = w.Write([]byte(`{"feed":[
			{"post":{"uri":"at://did:plc:y/app.bsky.feed.post/1","cid":"c1","author":{"did":"did:plc:y"}},"reason":{"$type":"app.bsky.feed.defs#reasonRepost"}},
			{"post":{"uri":"at://did:plc:x/app.bsky.feed.post/2","cid":"c2","author":{"did":"did:plc:x"}}}
		]}`))
	}))

	post, err := c.LatestPost(context.Background(), session(), "did:plc:x")
	require.NoError(t, err)
	require.NotNil(t, post)
	assert.Equal(t, "c2", post.CID)
}

func TestSendDM(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, chatProxy, r.Header.Get("atproto-proxy"))
		switch r.URL.Path {
		case "/xrpc/chat.bsky.convo.getConvoForMembers":
			assert.Equal(t, "did:plc:x", r.URL.Query().Get("members"))
			writeJSON(w, 200, map[string]any{"convo": map[string]string{"id": "convo1"}})
		case "/xrpc/chat.bsky.convo.sendMessage":
			var in sendMessageInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "convo1", in.ConvoID)
			assert.Equal(t, "hello", in.Message.Text)
			writeJSON(w, 200, map[string]string{"id": "m1"})
		}
	}))

	require.NoError(t, c.SendDM(context.Background(), session(), "did:plc:x", "hello"))
}

func TestSendDMUnavailable(t *testing.T) {
	for _, tc := range []struct {
		status int
		name   string
	}{
		{501, "MethodNotImplemented"},
		{404, ""},
		{400, "InvalidToken"},
	} {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tc.status, xrpcErrorBody{Error: tc.name})
		}))
		err := c.SendDM(context.Background(), session(), "did:plc:x", "hello")
		assert.True(t, errors.Is(err, ErrDMUnavailable), "status %d name %q", tc.status, tc.name)
	}
}

func TestSendDMRecipientRefusal(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 400, xrpcErrorBody{Error: "InvalidRequest", Message: "recipient has disabled incoming messages"})
	}))
	err := c.SendDM(context.Background(), session(), "did:plc:x", "hello")
	assert.False(t, errors.Is(err, ErrDMUnavailable))
	assert.Equal(t, ClassCandidate, ClassOf(err))
}
