package provider

import (
	"context"
	"errors"
)

// ErrSessionExpired marks a source-platform auth failure (401/403 class).
// The caller re-authenticates deterministically and retries exactly once.
var ErrSessionExpired = errors.New("source session expired")

// ErrRateLimited marks a source-platform rate-limit response. Pagination in
// this pipeline is deliberately sequential because source APIs are
// rate-sensitive; hitting this is surfaced as a phase failure.
var ErrRateLimited = errors.New("source rate limit exceeded")

// Credentials hold decrypted source-platform secrets. They live in memory
// only; at rest they exist solely as vault ciphertext on the run.
type Credentials struct {
	APIKey       string `json:"api_key,omitempty"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TokenURL     string `json:"token_url,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`
	PortalURL    string `json:"portal_url,omitempty"`
}

// Empty reports whether no usable API credential is present.
func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.Username == "" && c.ClientID == ""
}

type ConnectionStatus struct {
	Connected    bool   `json:"connected"`
	BusinessName string `json:"business_name,omitempty"`
	LocationID   string `json:"location_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// PageRequest / Page implement cursor pagination. Cursors rather than offsets
// tolerate concurrent source-side mutation.
type PageRequest struct {
	Cursor string
	Limit  int
}

type Page struct {
	Data       []map[string]interface{}
	NextCursor string
	TotalCount int
}

type FormField struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Type     string   `json:"type"` // text, select, heading, signature, image, ...
	Value    string   `json:"value,omitempty"`
	Options  []string `json:"options,omitempty"`
	Selected []string `json:"selected,omitempty"`
}

// Capability declares one entity type a vendor can export, and whether the
// vendor scopes it per patient. Declared once; callers never probe methods.
type Capability struct {
	Entity        string
	PatientScoped bool
}

type CapabilitySet map[string]Capability

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c.Entity] = c
	}
	return set
}

func (s CapabilitySet) Has(entity string) bool {
	_, ok := s[entity]
	return ok
}

func (s CapabilitySet) PatientScoped(entity string) bool {
	c, ok := s[entity]
	return ok && c.PatientScoped
}

// Provider is the read-only contract any source platform implements. The
// interface deliberately has no create/update/delete surface: source access
// is read-only by contract.
type Provider interface {
	Vendor() string
	Capabilities() CapabilitySet
	TestConnection(ctx context.Context, creds Credentials) (ConnectionStatus, error)
	// Fetch returns one page of a top-level entity type.
	Fetch(ctx context.Context, creds Credentials, entity string, req PageRequest) (Page, error)
	// FetchByPatient returns one page of a patient-scoped entity type.
	FetchByPatient(ctx context.Context, creds Credentials, entity, patientSourceID string, req PageRequest) (Page, error)
	// FetchFormContent returns the field list for one form template. Only
	// meaningful for vendors whose capability set includes forms.
	FetchFormContent(ctx context.Context, creds Credentials, formID string) ([]FormField, error)
}
