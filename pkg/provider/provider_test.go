package provider

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/clinicore/migration/pkg/common/logger"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

type stubProvider struct {
	vendor string
	caps   CapabilitySet
}

func (p *stubProvider) Vendor() string              { return p.vendor }
func (p *stubProvider) Capabilities() CapabilitySet { return p.caps }
func (p *stubProvider) TestConnection(ctx context.Context, creds Credentials) (ConnectionStatus, error) {
	return ConnectionStatus{Connected: true}, nil
}
func (p *stubProvider) Fetch(ctx context.Context, creds Credentials, entity string, req PageRequest) (Page, error) {
	return Page{}, nil
}
func (p *stubProvider) FetchByPatient(ctx context.Context, creds Credentials, entity, patientSourceID string, req PageRequest) (Page, error) {
	return Page{}, nil
}
func (p *stubProvider) FetchFormContent(ctx context.Context, creds Credentials, formID string) ([]FormField, error) {
	return nil, nil
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&stubProvider{vendor: "AestheticSuite"})

	if _, err := reg.Resolve("aestheticsuite"); err != nil {
		t.Fatalf("expected case-insensitive resolve, got %v", err)
	}
	if _, err := reg.Resolve("unknown-vendor"); err == nil {
		t.Fatal("expected configuration error for unknown vendor")
	}
}

func TestCapabilitySet(t *testing.T) {
	caps := NewCapabilitySet(
		Capability{Entity: "patients"},
		Capability{Entity: "photos", PatientScoped: true},
	)

	if !caps.Has("patients") {
		t.Fatal("expected patients capability")
	}
	if caps.Has("charts") {
		t.Fatal("charts should be absent, meaning the vendor does not support it")
	}
	if caps.PatientScoped("patients") {
		t.Fatal("patients is not patient-scoped")
	}
	if !caps.PatientScoped("photos") {
		t.Fatal("photos should be patient-scoped")
	}
}

type countingAuth struct {
	calls int
}

func (a *countingAuth) Authenticate(ctx context.Context, creds Credentials) error {
	a.calls++
	return nil
}

func TestFetchWithReauthRetriesOnce(t *testing.T) {
	auth := &countingAuth{}
	attempts := 0
	page, err := FetchWithReauth(context.Background(), auth, Credentials{}, func() (Page, error) {
		attempts++
		if attempts == 1 {
			return Page{}, ErrSessionExpired
		}
		return Page{Data: []map[string]interface{}{{"id": "1"}}}, nil
	})
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if auth.calls != 1 || attempts != 2 {
		t.Fatalf("expected one re-auth and two attempts, got %d/%d", auth.calls, attempts)
	}
	if len(page.Data) != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestFetchWithReauthGivesUpAfterSecondFailure(t *testing.T) {
	auth := &countingAuth{}
	attempts := 0
	_, err := FetchWithReauth(context.Background(), auth, Credentials{}, func() (Page, error) {
		attempts++
		return Page{}, ErrSessionExpired
	})
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected session error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected exactly two attempts, got %d", attempts)
	}
}

func TestFetchWithReauthPassesThroughOtherErrors(t *testing.T) {
	auth := &countingAuth{}
	boom := errors.New("boom")
	_, err := FetchWithReauth(context.Background(), auth, Credentials{}, func() (Page, error) {
		return Page{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected passthrough error, got %v", err)
	}
	if auth.calls != 0 {
		t.Fatal("re-auth must not run for non-session errors")
	}
}
