package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RESTConfig describes one vendor's JSON API declaratively. Most practice
// management platforms differ only in paths and auth style, so a config entry
// is usually all a new vendor needs.
type RESTConfig struct {
	Vendor       string            `yaml:"vendor"`
	BaseURL      string            `yaml:"base_url"`
	LoginPath    string            `yaml:"login_path"`
	EntityPaths  map[string]string `yaml:"entity_paths"`
	PatientPaths map[string]string `yaml:"patient_paths"` // {patient_id} placeholder
	FormPath     string            `yaml:"form_path"`     // {form_id} placeholder
	APIKeyHeader string            `yaml:"api_key_header"`
	TimeoutSecs  int               `yaml:"timeout_secs"`
}

// LoadRESTConfigs reads vendor definitions from a YAML file. An empty path
// yields no vendors; runs for such deployments use uploads or the browser
// strategy.
func LoadRESTConfigs(path string) ([]RESTConfig, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider config: %w", err)
	}
	var wrapper struct {
		Providers []RESTConfig `yaml:"providers"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("parse provider config: %w", err)
	}
	for _, cfg := range wrapper.Providers {
		if cfg.Vendor == "" {
			return nil, fmt.Errorf("provider config entry missing vendor name")
		}
	}
	return wrapper.Providers, nil
}

// RESTProvider is the generic API-strategy source. Auth styles supported:
// static API key header, OAuth2 client credentials (via HTTPClient), and
// session login against LoginPath for username/password portals.
type RESTProvider struct {
	cfg     RESTConfig
	session Session
	timeout time.Duration
}

func NewRESTProvider(cfg RESTConfig) *RESTProvider {
	timeout := 30 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return &RESTProvider{cfg: cfg, timeout: timeout}
}

func (p *RESTProvider) Vendor() string {
	return p.cfg.Vendor
}

func (p *RESTProvider) Capabilities() CapabilitySet {
	var caps []Capability
	for entity := range p.cfg.EntityPaths {
		caps = append(caps, Capability{Entity: entity})
	}
	for entity := range p.cfg.PatientPaths {
		caps = append(caps, Capability{Entity: entity, PatientScoped: true})
	}
	return NewCapabilitySet(caps...)
}

func (p *RESTProvider) baseURL(creds Credentials) string {
	if creds.BaseURL != "" {
		return strings.TrimRight(creds.BaseURL, "/")
	}
	return strings.TrimRight(p.cfg.BaseURL, "/")
}

// Authenticate establishes a fresh session for username/password vendors.
// Key- and OAuth-based vendors need no session; their auth rides on every
// request.
func (p *RESTProvider) Authenticate(ctx context.Context, creds Credentials) error {
	if p.cfg.LoginPath == "" || creds.Username == "" {
		return nil
	}
	p.session.Clear()

	body, err := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL(creds)+p.cfg.LoginPath, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := HTTPClient(ctx, creds, p.timeout).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var reply struct {
		Token     string `json:"token"`
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return err
	}
	cookie := ""
	if cookies := resp.Cookies(); len(cookies) > 0 {
		cookie = cookies[0].String()
	}
	p.session.Set(cookie, reply.CSRFToken, reply.Token)
	return nil
}

func (p *RESTProvider) TestConnection(ctx context.Context, creds Credentials) (ConnectionStatus, error) {
	if err := p.Authenticate(ctx, creds); err != nil {
		return ConnectionStatus{ErrorMessage: err.Error()}, nil
	}
	path, ok := p.cfg.EntityPaths["patients"]
	if !ok {
		for _, candidate := range p.cfg.EntityPaths {
			path = candidate
			break
		}
	}
	if path == "" {
		return ConnectionStatus{ErrorMessage: "no entity paths configured"}, nil
	}
	_, err := p.get(ctx, creds, path, url.Values{"limit": {"1"}})
	if err != nil {
		return ConnectionStatus{ErrorMessage: err.Error()}, nil
	}
	return ConnectionStatus{Connected: true}, nil
}

func (p *RESTProvider) Fetch(ctx context.Context, creds Credentials, entity string, req PageRequest) (Page, error) {
	path, ok := p.cfg.EntityPaths[entity]
	if !ok {
		return Page{}, fmt.Errorf("vendor %s does not export %s", p.cfg.Vendor, entity)
	}
	return p.fetchPage(ctx, creds, path, req)
}

func (p *RESTProvider) FetchByPatient(ctx context.Context, creds Credentials, entity, patientSourceID string, req PageRequest) (Page, error) {
	template, ok := p.cfg.PatientPaths[entity]
	if !ok {
		return Page{}, fmt.Errorf("vendor %s does not export %s per patient", p.cfg.Vendor, entity)
	}
	path := strings.ReplaceAll(template, "{patient_id}", url.PathEscape(patientSourceID))
	return p.fetchPage(ctx, creds, path, req)
}

func (p *RESTProvider) FetchFormContent(ctx context.Context, creds Credentials, formID string) ([]FormField, error) {
	if p.cfg.FormPath == "" {
		return nil, fmt.Errorf("vendor %s exposes no form content endpoint", p.cfg.Vendor)
	}
	path := strings.ReplaceAll(p.cfg.FormPath, "{form_id}", url.PathEscape(formID))
	body, err := p.get(ctx, creds, path, nil)
	if err != nil {
		return nil, err
	}
	var reply struct {
		Fields []FormField `json:"fields"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, err
	}
	if reply.Fields == nil {
		var fields []FormField
		if err := json.Unmarshal(body, &fields); err == nil {
			return fields, nil
		}
	}
	return reply.Fields, nil
}

func (p *RESTProvider) fetchPage(ctx context.Context, creds Credentials, path string, req PageRequest) (Page, error) {
	query := url.Values{}
	if req.Cursor != "" {
		query.Set("cursor", req.Cursor)
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	body, err := p.get(ctx, creds, path, query)
	if err != nil {
		return Page{}, err
	}

	var envelope struct {
		Data       []map[string]interface{} `json:"data"`
		NextCursor string                   `json:"next_cursor"`
		TotalCount int                      `json:"total_count"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Data != nil {
		return Page{Data: envelope.Data, NextCursor: envelope.NextCursor, TotalCount: envelope.TotalCount}, nil
	}
	// Some endpoints return a bare array with no pagination envelope.
	var bare []map[string]interface{}
	if err := json.Unmarshal(body, &bare); err != nil {
		return Page{}, fmt.Errorf("unexpected response shape: %w", err)
	}
	return Page{Data: bare, TotalCount: len(bare)}, nil
}

func (p *RESTProvider) get(ctx context.Context, creds Credentials, path string, query url.Values) ([]byte, error) {
	endpoint := p.baseURL(creds) + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	p.decorate(req, creds)

	resp, err := HTTPClient(ctx, creds, p.timeout).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrSessionExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("source responded with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (p *RESTProvider) decorate(req *http.Request, creds Credentials) {
	if creds.APIKey != "" {
		header := p.cfg.APIKeyHeader
		if header == "" {
			req.Header.Set("Authorization", "Bearer "+creds.APIKey)
		} else {
			req.Header.Set(header, creds.APIKey)
		}
	}
	if bearer := p.session.BearerToken; bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if cookie := p.session.Cookie; cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	if csrf := p.session.CSRFToken; csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
}
