package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

func TestUpsertExchangesTokenAndWritesRow(t *testing.T) {
	var tokenCalls atomic.Int32
	var gotPath, gotAuth string
	var gotBody rowValues

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/token":
			tokenCalls.Add(1)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			require.Equal(t, "client-id", r.PostForm.Get("client_id"))
			require.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
			require.Equal(t, "5000123", r.PostForm.Get("account_id"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":1080}`))
		default:
			require.Equal(t, http.MethodPut, r.Method)
			gotPath = r.URL.EscapedPath()
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"keys":{"MemberId":"m-1"}}`))
		}
	}))
	defer srv.Close()

	client := NewClient(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		AccountID:    "5000123",
		AuthBaseURL:  srv.URL,
		RestBaseURL:  srv.URL + "/",
		ExtensionKey: "SMS_Status",
	})

	update := domain.StatusUpdate{MemberID: "m-1", SubscriberKey: "c-1", MessageSID: "SM1", Status: "queued"}
	require.NoError(t, client.Upsert(context.Background(), update))
	require.NoError(t, client.Upsert(context.Background(), update))

	require.Equal(t, int32(1), tokenCalls.Load(), "token is reused until expiry")
	require.Equal(t, "/hub/v1/dataevents/key:SMS_Status/rows/MemberId:m-1", gotPath)
	require.Equal(t, "Bearer tok-1", gotAuth)
	require.Equal(t, map[string]string{"Status": "queued", "SubscriberKey": "c-1", "MessageSid": "SM1"}, gotBody.Values)
}

func TestUpsertReportsRejectedRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/token" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":1080}`))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Primary key MemberId not found"}`))
	}))
	defer srv.Close()

	client := NewClient(Config{ClientID: "id", ClientSecret: "secret", AuthBaseURL: srv.URL, RestBaseURL: srv.URL, ExtensionKey: "SMS_Status"})

	err := client.Upsert(context.Background(), domain.StatusUpdate{MemberID: "m-1", Status: "failed"})
	var upsertErr *UpsertError
	require.True(t, errors.As(err, &upsertErr))
	require.Equal(t, http.StatusBadRequest, upsertErr.Status)
	require.Contains(t, upsertErr.Body, "Primary key")
}

func TestUpsertSurfacesTokenFailure(t *testing.T) {
	var rowCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		rowCalls.Add(1)
	}))
	defer srv.Close()

	client := NewClient(Config{ClientID: "id", ClientSecret: "wrong", AuthBaseURL: srv.URL, RestBaseURL: srv.URL, ExtensionKey: "SMS_Status"})

	err := client.Upsert(context.Background(), domain.StatusUpdate{MemberID: "m-1", Status: "sent"})
	require.Error(t, err)
	require.Zero(t, rowCalls.Load())
}

func TestUpsertRequiresMember(t *testing.T) {
	client := NewClient(Config{AuthBaseURL: "http://127.0.0.1:1", RestBaseURL: "http://127.0.0.1:1"})
	require.Error(t, client.Upsert(context.Background(), domain.StatusUpdate{Status: "sent"}))
}
