// Package datastore writes delivery statuses into a Marketing Cloud data extension.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rockstartushar/twilio-jb-activity/internal/domain"
)

// Config describes the installed package and target data extension.
type Config struct {
	ClientID     string
	ClientSecret string
	AccountID    string
	AuthBaseURL  string
	RestBaseURL  string
	ExtensionKey string
	PrimaryKey   string
	Timeout      time.Duration
}

// Client upserts status rows. Tokens come from the client-credentials grant and are
// cached by the token source until they expire.
type Client struct {
	httpClient   *http.Client
	restBaseURL  string
	extensionKey string
	primaryKey   string
	timeout      time.Duration
}

// NewClient constructs a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PrimaryKey == "" {
		cfg.PrimaryKey = "MemberId"
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     strings.TrimRight(cfg.AuthBaseURL, "/") + "/v2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if cfg.AccountID != "" {
		credentials.EndpointParams = url.Values{"account_id": {cfg.AccountID}}
	}

	// The token source keeps this context for every refresh.
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout})

	return &Client{
		httpClient:   credentials.Client(tokenCtx),
		restBaseURL:  strings.TrimRight(cfg.RestBaseURL, "/"),
		extensionKey: cfg.ExtensionKey,
		primaryKey:   cfg.PrimaryKey,
		timeout:      cfg.Timeout,
	}
}

type rowValues struct {
	Values map[string]string `json:"values"`
}

// Upsert writes one status row keyed by member identifier.
func (c *Client) Upsert(ctx context.Context, update domain.StatusUpdate) error {
	if strings.TrimSpace(update.MemberID) == "" {
		return fmt.Errorf("status upsert requires a member id")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(rowValues{Values: map[string]string{
		"Status":        update.Status,
		"SubscriberKey": update.SubscriberKey,
		"MessageSid":    update.MessageSID,
	}})
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/hub/v1/dataevents/key:%s/rows/%s:%s",
		c.restBaseURL,
		url.PathEscape(c.extensionKey),
		url.PathEscape(c.primaryKey),
		url.PathEscape(update.MemberID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("data extension upsert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &UpsertError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return nil
}

// UpsertError represents a non-successful data extension response.
type UpsertError struct {
	Status int
	Body   string
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("data extension upsert failed with status %d: %s", e.Status, e.Body)
}
