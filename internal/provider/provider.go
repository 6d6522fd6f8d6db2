// Package provider talks to the external verification service that performs
// document and identity checks and reports their outcome.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// ClientRequest mirrors a local identity record onto the provider.
type ClientRequest struct {
	Kind           string          `json:"type,omitempty"`
	Email          string          `json:"email,omitempty"`
	Mobile         string          `json:"mobile,omitempty"`
	Telephone      string          `json:"telephone,omitempty"`
	ExternalRef    string          `json:"externalId,omitempty"`
	JoinedDate     string          `json:"joinedDate,omitempty"`
	PersonDetails  *PersonDetails  `json:"personDetails,omitempty"`
	CompanyDetails *CompanyDetails `json:"companyDetails,omitempty"`
}

// PersonDetails is the provider-side shape of person data.
type PersonDetails struct {
	FirstName               string `json:"firstName,omitempty"`
	MiddleName              string `json:"middleName,omitempty"`
	LastName                string `json:"lastName,omitempty"`
	Gender                  string `json:"gender,omitempty"`
	DOB                     string `json:"dob,omitempty"`
	Nationality             string `json:"nationality,omitempty"`
	BirthCountry            string `json:"birthCountry,omitempty"`
	SSN                     string `json:"ssn,omitempty"`
	SocialInsuranceNumber   string `json:"socialInsuranceNumber,omitempty"`
	NationalIdentityNumber  string `json:"nationalIdentityNumber,omitempty"`
	TaxIdentificationNumber string `json:"taxIdentificationNumber,omitempty"`
}

// CompanyDetails is the provider-side shape of company data.
type CompanyDetails struct {
	Name               string `json:"name,omitempty"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	IncorporationDate  string `json:"incorporationDate,omitempty"`
	IncorporationType  string `json:"incorporationType,omitempty"`
	Country            string `json:"country,omitempty"`
}

// CheckRequest asks the provider to start one check against uploaded evidence.
type CheckRequest struct {
	Kind        string `json:"type"`
	DocumentID  string `json:"documentId,omitempty"`
	LivePhotoID string `json:"livePhotoId,omitempty"`
}

// CheckResult is the provider's current view of a check. Outcome and
// Breakdown are only meaningful when Complete is true.
type CheckResult struct {
	Complete  bool
	Outcome   string
	Breakdown json.RawMessage
}

// Webhook is an event subscription registered on the provider account.
type Webhook struct {
	ID      string   `json:"id,omitempty"`
	URL     string   `json:"url"`
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events,omitempty"`
}

// Client is the outbound contract the orchestration engine depends on.
// Implementations must respect ctx cancellation; every call is expected to
// carry a deadline.
type Client interface {
	CreateClient(ctx context.Context, req ClientRequest) (externalID string, err error)
	UpdateClient(ctx context.Context, externalID string, req ClientRequest) error
	CreateCheck(ctx context.Context, clientExternalID string, req CheckRequest) (providerCheckID string, err error)
	GetCheck(ctx context.Context, providerCheckID string) (CheckResult, error)
	// GenerateToken issues a short-lived SDK token scoped to one provider
	// client, used by the capture widget on the frontend.
	GenerateToken(ctx context.Context, clientExternalID, referrer string) (string, error)
	// ListWebhooks returns the subscriptions registered on the account.
	ListWebhooks(ctx context.Context) ([]Webhook, error)
	// EnsureWebhook guarantees an enabled subscription delivering the given
	// events to endpoint, creating one or re-enabling a disabled one.
	EnsureWebhook(ctx context.Context, endpoint string, events []string) (Webhook, error)
}

// Error is a non-2xx provider response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider responded %d", e.Status)
	}
	return fmt.Sprintf("provider responded %d: %s", e.Status, e.Message)
}
