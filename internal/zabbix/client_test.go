package zabbix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int             `json:"id"`
	Auth    *string         `json:"auth"`
}

type fakeZabbix struct {
	mu          sync.Mutex
	logins      int
	itemCalls   int
	expireFirst bool
	items       []Item
	lastLogin   map[string]string
}

func (f *fakeZabbix) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var env rpcEnvelope
		if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
			t.Errorf("decode envelope: %v", err)
			return
		}
		if env.JSONRPC != "2.0" {
			t.Errorf("jsonrpc = %q, want 2.0", env.JSONRPC)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch env.Method {
		case "user.login":
			if env.Auth != nil {
				t.Errorf("login must carry null auth, got %q", *env.Auth)
			}
			var params map[string]string
			_ = json.Unmarshal(env.Params, &params)
			f.lastLogin = params
			f.logins++
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "result": fmt.Sprintf("token-%d", f.logins), "id": env.ID,
			})
		case "item.get":
			f.itemCalls++
			if env.Auth == nil {
				t.Errorf("item.get must carry an auth token")
				return
			}
			if f.expireFirst && *env.Auth == "token-1" {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"jsonrpc": "2.0",
					"error":   map[string]any{"code": -32500, "message": "Session terminated, re-login, please.", "data": ""},
					"id":      env.ID,
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "result": f.items, "id": env.ID,
			})
		case "user.logout":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "result": true, "id": env.ID,
			})
		default:
			t.Errorf("unexpected method %q", env.Method)
		}
	}
}

func testItems() []Item {
	return []Item{
		{ItemID: "23296", Name: "CPU utilization", LastValue: "87.5", LastClock: "995", HostID: "10105"},
		{ItemID: "23297", Name: "Free memory", LastValue: "1024", LastClock: "996", HostID: "10105"},
	}
}

func TestLoginSendsCredentials(t *testing.T) {
	fake := &fakeZabbix{items: testItems()}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := NewClient(server.URL, "Admin", "zabbix", time.Second)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if fake.lastLogin["user"] != "Admin" || fake.lastLogin["password"] != "zabbix" {
		t.Fatalf("unexpected login params: %v", fake.lastLogin)
	}

	if _, err := client.Items(context.Background(), "10105"); err != nil {
		t.Fatalf("Items: %v", err)
	}
	if fake.logins != 1 {
		t.Fatalf("cached token must be reused, got %d logins", fake.logins)
	}
}

func TestItemsAutoLogin(t *testing.T) {
	fake := &fakeZabbix{items: testItems()}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := NewClient(server.URL, "Admin", "zabbix", time.Second)
	items, err := client.Items(context.Background(), "10105")
	if err != nil {
		t.Fatalf("Items: %v", err)
	}
	if fake.logins != 1 {
		t.Fatalf("expected one implicit login, got %d", fake.logins)
	}
	if len(items) != 2 || items[0].ItemID != "23296" {
		t.Fatalf("unexpected items: %#v", items)
	}
}

func TestItemsReloginOnExpiredSession(t *testing.T) {
	fake := &fakeZabbix{items: testItems(), expireFirst: true}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := NewClient(server.URL, "Admin", "zabbix", time.Second)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	items, err := client.Items(context.Background(), "10105")
	if err != nil {
		t.Fatalf("Items after expiry: %v", err)
	}
	if fake.logins != 2 {
		t.Fatalf("expected re-login, got %d logins", fake.logins)
	}
	if fake.itemCalls != 2 {
		t.Fatalf("expected retried item.get, got %d calls", fake.itemCalls)
	}
	if len(items) != 2 {
		t.Fatalf("unexpected items: %#v", items)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var env rpcEnvelope
		_ = json.NewDecoder(r.Body).Decode(&env)
		if env.Method == "user.login" {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "result": "tok", "id": env.ID})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"error":   map[string]any{"code": -32602, "message": "Invalid params.", "data": `Host "999" does not exist`},
			"id":      env.ID,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "Admin", "zabbix", time.Second)
	_, err := client.Items(context.Background(), "999")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Code != -32602 || apiErr.Data == "" {
		t.Fatalf("error details lost: %#v", apiErr)
	}
}

func TestItemValueParsing(t *testing.T) {
	item := Item{ItemID: "1", LastValue: "87.5", LastClock: "995"}
	v, err := item.Value()
	if err != nil || v != 87.5 {
		t.Fatalf("Value() = %v, %v", v, err)
	}
	clock, err := item.Clock()
	if err != nil || clock != 995 {
		t.Fatalf("Clock() = %v, %v", clock, err)
	}

	bad := Item{ItemID: "2", LastValue: "n/a", LastClock: "soon"}
	if _, err := bad.Value(); err == nil {
		t.Fatalf("expected parse error for lastvalue")
	}
	if _, err := bad.Clock(); err == nil {
		t.Fatalf("expected parse error for lastclock")
	}
}

func TestLogoutClearsToken(t *testing.T) {
	fake := &fakeZabbix{items: testItems()}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	client := NewClient(server.URL, "Admin", "zabbix", time.Second)
	if err := client.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := client.Items(context.Background(), "10105"); err != nil {
		t.Fatalf("Items after logout: %v", err)
	}
	if fake.logins != 2 {
		t.Fatalf("expected fresh login after logout, got %d", fake.logins)
	}
}
