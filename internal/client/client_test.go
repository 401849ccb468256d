package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"civicvoice/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigninStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/signin":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "abel@x.com", body["email"])
			_, _ = io.WriteString(w, `{"token":"tok-1","user":{"id":"u1","email":"abel@x.com","is_verified":true}}`)
		case "/api/auth/me":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"user":{"id":"u1","email":"abel@x.com","name":"Abel"}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	sess, err := c.Signin(context.Background(), "abel@x.com", "Secret123")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", sess.Token)
	assert.True(t, sess.User.IsVerified)
	assert.Equal(t, "tok-1", c.Token())

	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Abel", me.Name)
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/feedback":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":"validation failed","fields":{"rating":"must be at most 5"}}`)
		case "/api/auth/resend-otp":
			w.Header().Set("Retry-After", "42")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"too many requests","retry_after":42}`)
		case "/healthz":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"status":"error"}`)
		}
	}))
	defer srv.Close()
	c := New(srv.URL)
	ctx := context.Background()

	_, err := c.SubmitFeedback(ctx, Feedback{Rating: 9})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "must be at most 5", apiErr.Fields["rating"])
	assert.Contains(t, err.Error(), "rating")

	err = c.ResendOTP(ctx, "abel@x.com")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 42, apiErr.RetryAfter)

	err = c.Health(ctx)
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
	assert.Equal(t, 0, StatusOf(nil))
}

func TestListFeedbackQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "5", q.Get("limit"))
		assert.Equal(t, "resolved", q.Get("status"))
		assert.Equal(t, "water", q.Get("service"))
		assert.Empty(t, q.Get("region"))
		_, _ = io.WriteString(w, `{"items":[{"id":"f1","status":"resolved"}],"total":6,"page":2,"limit":5}`)
	}))
	defer srv.Close()

	page, err := New(srv.URL).ListFeedback(context.Background(), ListOptions{
		Page: 2, Limit: 5, Status: model.StatusResolved, Service: "water",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 6, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, model.StatusResolved, page.Items[0].Status)
}

func TestSetFeedbackStatusAndLogout(t *testing.T) {
	var sawLogout bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/feedback/f1/status":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "in_progress", body["status"])
			_, _ = io.WriteString(w, `{"feedback":{"id":"f1","status":"in_progress"}}`)
		case r.URL.Path == "/api/auth/logout":
			sawLogout = r.Header.Get("Authorization") == "Bearer admin"
			_, _ = io.WriteString(w, `{"message":"logged out"}`)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("admin"))
	fb, err := c.SetFeedbackStatus(context.Background(), "f1", model.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, fb.Status)

	require.NoError(t, c.Logout(context.Background()))
	assert.True(t, sawLogout)
	assert.Empty(t, c.Token())
}

func TestUploadAvatarReplacesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/avatar", r.URL.Path)
		assert.Equal(t, "Bearer old", r.Header.Get("Authorization"))
		f, fh, err := r.FormFile("avatar")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "me.png", fh.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, "\x89PNG-bytes", string(data))
		_, _ = io.WriteString(w, `{"avatar":"avatars/a.png","token":"new"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("old"))
	avatar, err := c.UploadAvatar(context.Background(), "/tmp/me.png", strings.NewReader("\x89PNG-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "avatars/a.png", avatar)
	assert.Equal(t, "new", c.Token())
}

func TestSubmitFeedbackWithAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "roads", r.FormValue("service"))
		assert.Equal(t, "1", r.FormValue("rating"))
		assert.Equal(t, "urgent", r.FormValue("priority"))
		_, fh, err := r.FormFile("attachment")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", fh.Filename)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"f9","status":"pending"}`)
	}))
	defer srv.Close()

	id, err := New(srv.URL).SubmitFeedbackWithAttachment(context.Background(), Feedback{
		Name: "Abel", Email: "abel@x.com", Service: "roads", Rating: 1,
		Comment: "Pothole on Bole road", Region: "Bole", Priority: "urgent",
	}, "report.pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "f9", id)
}
