package tree

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var firebaseScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// Firebase talks to a Realtime Database over its REST API.
type Firebase struct {
	BaseURL   string
	AuthToken string
	HTTP      *http.Client
}

// NewFirebase creates a REST client for databaseURL. When credentialsFile is
// readable, requests carry OAuth2 access tokens minted from that service
// account; otherwise authToken (a database secret or ID token) is sent as the
// auth query parameter.
func NewFirebase(ctx context.Context, databaseURL, credentialsFile, authToken string) (*Firebase, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("firebase database url required")
	}
	fb := &Firebase{
		BaseURL:   strings.TrimSuffix(databaseURL, "/"),
		AuthToken: authToken,
		HTTP:      &http.Client{Timeout: 15 * time.Second},
	}
	if credentialsFile == "" {
		return fb, nil
	}
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		if os.IsNotExist(err) && authToken != "" {
			return fb, nil
		}
		return nil, fmt.Errorf("read firebase credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, firebaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("parse firebase credentials: %w", err)
	}
	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = 15 * time.Second
	fb.HTTP = client
	return fb, nil
}

func (f *Firebase) url(p Path) string {
	segs := make([]string, len(p))
	for i, s := range p {
		segs[i] = url.PathEscape(s)
	}
	u := f.BaseURL + "/" + strings.Join(segs, "/") + ".json"
	if f.AuthToken != "" {
		u += "?auth=" + url.QueryEscape(f.AuthToken)
	}
	return u
}

// Set writes value at path with PUT.
func (f *Firebase) Set(ctx context.Context, path Path, value string) error {
	if err := path.Validate(); err != nil {
		return err
	}
	body, _ := json.Marshal(value)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, f.url(path), bytes.NewReader(body))
	if err != nil {
		return wrap("firebase", "set", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = f.do(req)
	return wrap("firebase", "set", path, err)
}

// Get reads the subtree at path.
func (f *Firebase) Get(ctx context.Context, path Path) (*Node, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url(path), nil)
	if err != nil {
		return nil, wrap("firebase", "get", path, err)
	}
	body, err := f.do(req)
	if err != nil {
		return nil, wrap("firebase", "get", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, wrap("firebase", "get", path, fmt.Errorf("decode response: %w", err))
	}
	return decodeNode(path[len(path)-1], raw), nil
}

// Ping reads the shallow root.
func (f *Firebase) Ping(ctx context.Context) error {
	u := f.BaseURL + "/.json?shallow=true"
	if f.AuthToken != "" {
		u += "&auth=" + url.QueryEscape(f.AuthToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	_, err = f.do(req)
	return err
}

func (f *Firebase) do(req *http.Request) ([]byte, error) {
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// decodeNode converts a decoded JSON value into a snapshot. Arrays, which the
// database produces for small integer keys, are keyed by index.
func decodeNode(key string, raw interface{}) *Node {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		n := &Node{Key: key}
		for k, child := range v {
			if c := decodeNode(k, child); c != nil {
				n.Children = append(n.Children, c)
			}
		}
		if len(n.Children) == 0 {
			return nil
		}
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Key < n.Children[j].Key })
		return n
	case []interface{}:
		n := &Node{Key: key}
		for i, child := range v {
			if c := decodeNode(strconv.Itoa(i), child); c != nil {
				n.Children = append(n.Children, c)
			}
		}
		if len(n.Children) == 0 {
			return nil
		}
		sort.Slice(n.Children, func(i, j int) bool { return n.Children[i].Key < n.Children[j].Key })
		return n
	case string:
		return &Node{Key: key, Value: v}
	case json.Number:
		return &Node{Key: key, Value: v.String()}
	case bool:
		return &Node{Key: key, Value: strconv.FormatBool(v)}
	default:
		return &Node{Key: key, Value: fmt.Sprint(v)}
	}
}
