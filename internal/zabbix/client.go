package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client speaks the Zabbix JSON-RPC 2.0 API. It logs in lazily, caches the
// auth token and re-logs in once when the server reports a dead session.
type Client struct {
	URL      string
	Username string
	Password string

	httpClient *http.Client

	mu   sync.Mutex
	auth string
}

func NewClient(url, username, password string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		URL:        url,
		Username:   username,
		Password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Item is one item.get result row. Zabbix returns every field as a string.
type Item struct {
	ItemID    string `json:"itemid"`
	Name      string `json:"name"`
	LastValue string `json:"lastvalue"`
	LastClock string `json:"lastclock"`
	HostID    string `json:"hostid"`
}

func (i Item) Value() (float64, error) {
	v, err := strconv.ParseFloat(i.LastValue, 64)
	if err != nil {
		return 0, fmt.Errorf("parse item %s lastvalue %q: %w", i.ItemID, i.LastValue, err)
	}
	return v, nil
}

func (i Item) Clock() (int64, error) {
	clock, err := strconv.ParseInt(i.LastClock, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse item %s lastclock %q: %w", i.ItemID, i.LastClock, err)
	}
	return clock, nil
}

// APIError is the error object of a JSON-RPC response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *APIError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("zabbix api error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("zabbix api error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error"`
}

func (c *Client) Login(ctx context.Context) error {
	result, err := c.call(ctx, "user.login", map[string]any{
		"user":     c.Username,
		"password": c.Password,
	}, 1, nil)
	if err != nil {
		return fmt.Errorf("zabbix login: %w", err)
	}
	var token string
	if err := json.Unmarshal(result, &token); err != nil {
		return fmt.Errorf("decode zabbix auth token: %w", err)
	}
	c.mu.Lock()
	c.auth = token
	c.mu.Unlock()
	return nil
}

// Items fetches the latest values of all items on the given host.
func (c *Client) Items(ctx context.Context, hostID string) ([]Item, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}
	params := map[string]any{"output": "extend", "hostids": hostID}
	result, err := c.call(ctx, "item.get", params, 2, token)
	if isSessionExpired(err) {
		if err = c.Login(ctx); err != nil {
			return nil, err
		}
		token, _ = c.token(ctx)
		result, err = c.call(ctx, "item.get", params, 2, token)
	}
	if err != nil {
		return nil, fmt.Errorf("zabbix item.get: %w", err)
	}
	var items []Item
	if err := json.Unmarshal(result, &items); err != nil {
		return nil, fmt.Errorf("decode zabbix items: %w", err)
	}
	return items, nil
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.auth
	c.auth = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	if _, err := c.call(ctx, "user.logout", []any{}, 3, token); err != nil {
		return fmt.Errorf("zabbix logout: %w", err)
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.auth
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	token = c.auth
	c.mu.Unlock()
	return token, nil
}

func (c *Client) call(ctx context.Context, method string, params any, id int, auth any) (json.RawMessage, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      id,
		"auth":    auth,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("zabbix http status %d", resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, err
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func isSessionExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "re-login") ||
		strings.Contains(msg, "session terminated") ||
		strings.Contains(msg, "not authorised") ||
		strings.Contains(msg, "not authorized")
}
