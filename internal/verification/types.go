package verification

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ClientKind discriminates the two identity variants a session can verify.
type ClientKind string

const (
	KindPerson  ClientKind = "person"
	KindCompany ClientKind = "company"
)

// CheckKind identifies what a provider check verifies.
type CheckKind string

const (
	CheckDocument CheckKind = "document_check"
	CheckIdentity CheckKind = "identity_check"
)

// Outcome is the provider's terminal verdict for a processed check.
type Outcome string

const (
	OutcomeClear     Outcome = "clear"
	OutcomeAttention Outcome = "attention"
)

// DocumentClassification labels what a submitted document proves.
type DocumentClassification string

const ClassificationProofOfIdentity DocumentClassification = "proof_of_identity"

// Session is the correlation root of one end-user verification flow. Ref is
// the externally visible session identifier carried by the session token; it
// is opaque here.
type Session struct {
	ID        string    `json:"id"`
	Ref       string    `json:"ref"`
	ClientID  string    `json:"client_id"`
	CreatedAt time.Time `json:"created_at"`

	// Client is eagerly loaded together with its kind detail.
	Client *Client `json:"client,omitempty"`
}

// Client is the local identity record mirrored to the provider. ExternalID is
// empty until the first successful mirror-create and immutable afterwards.
type Client struct {
	ID         string     `json:"id"`
	Kind       ClientKind `json:"kind"`
	Email      string     `json:"email,omitempty"`
	Mobile     string     `json:"mobile,omitempty"`
	Telephone  string     `json:"telephone,omitempty"`
	ExternalID string     `json:"external_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`

	Person  *Person  `json:"person,omitempty"`
	Company *Company `json:"company,omitempty"`
}

// Person holds person-kind detail owned by exactly one client.
type Person struct {
	ClientID                string `json:"client_id"`
	FirstName               string `json:"first_name,omitempty"`
	MiddleName              string `json:"middle_name,omitempty"`
	LastName                string `json:"last_name,omitempty"`
	Gender                  string `json:"gender,omitempty"`
	DateOfBirth             string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	Nationality             string `json:"nationality,omitempty"`
	BirthCountry            string `json:"birth_country,omitempty"`
	SocialSecurityNumber    string `json:"social_security_number,omitempty"`
	SocialInsuranceNumber   string `json:"social_insurance_number,omitempty"`
	NationalIdentityNumber  string `json:"national_identity_number,omitempty"`
	TaxIdentificationNumber string `json:"tax_identification_number,omitempty"`
}

// Company holds company-kind detail owned by exactly one client.
type Company struct {
	ClientID           string `json:"client_id"`
	LegalName          string `json:"legal_name,omitempty"`
	RegistrationNumber string `json:"registration_number,omitempty"`
	IncorporationDate  string `json:"incorporation_date,omitempty"` // YYYY-MM-DD
	IncorporationType  string `json:"incorporation_type,omitempty"`
	Country            string `json:"country,omitempty"`
}

// DocumentType is a reference row naming an accepted document kind
// ("passport", "driving_license", ...). Seeded, never created at runtime.
type DocumentType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Document is one piece of submitted evidence. ExternalID references media
// already uploaded to the provider; the record is immutable once created.
type Document struct {
	ID             string                 `json:"id"`
	ExternalID     string                 `json:"external_id"`
	DocumentTypeID string                 `json:"document_type_id"`
	Classification DocumentClassification `json:"classification"`
	CreatedAt      time.Time              `json:"created_at"`
}

// Check is one requested verification against evidence. ProviderID is the
// provider-assigned check identifier and the sole correlation key for webhook
// reconciliation. Processed is terminal: outcome and breakdown are set
// together exactly once and never mutated again.
type Check struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"provider_id"`
	SessionID   string          `json:"session_id"`
	ClientID    string          `json:"client_id"`
	DocumentID  string          `json:"document_id"`
	Kind        CheckKind       `json:"kind"`
	Processed   bool            `json:"processed"`
	Outcome     Outcome         `json:"outcome,omitempty"`
	Breakdown   json.RawMessage `json:"breakdown,omitempty"`
	LivePhotoID string          `json:"live_photo_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// CheckEvent is what the notification hub delivers to live subscribers when a
// check reaches its terminal state.
type CheckEvent struct {
	SessionRef string    `json:"session_ref"`
	Check      Check     `json:"check"`
	Timestamp  time.Time `json:"timestamp"`
}

// IdentityView is the read-model projection returned to API clients: the
// merged client + kind detail keyed by the session ref.
type IdentityView struct {
	SessionRef string     `json:"session_ref"`
	Kind       ClientKind `json:"kind"`
	Email      string     `json:"email,omitempty"`
	Mobile     string     `json:"mobile,omitempty"`
	Telephone  string     `json:"telephone,omitempty"`
	Person     *Person    `json:"person,omitempty"`
	Company    *Company   `json:"company,omitempty"`
}

// ClientPayload carries identity data for create or update. Pointer fields
// distinguish "absent" from "set to empty": absent fields are left unchanged
// on update. Exactly one of Person/Company must be present; it fixes the
// client kind on create and must match it on update.
type ClientPayload struct {
	Email     *string         `json:"email,omitempty"`
	Mobile    *string         `json:"mobile,omitempty"`
	Telephone *string         `json:"telephone,omitempty"`
	Person    *PersonPayload  `json:"person,omitempty"`
	Company   *CompanyPayload `json:"company,omitempty"`
}

// PersonPayload mirrors Person with optional-field semantics.
type PersonPayload struct {
	FirstName               *string `json:"first_name,omitempty"`
	MiddleName              *string `json:"middle_name,omitempty"`
	LastName                *string `json:"last_name,omitempty"`
	Gender                  *string `json:"gender,omitempty"`
	DateOfBirth             *string `json:"date_of_birth,omitempty"`
	Nationality             *string `json:"nationality,omitempty"`
	BirthCountry            *string `json:"birth_country,omitempty"`
	SocialSecurityNumber    *string `json:"social_security_number,omitempty"`
	SocialInsuranceNumber   *string `json:"social_insurance_number,omitempty"`
	NationalIdentityNumber  *string `json:"national_identity_number,omitempty"`
	TaxIdentificationNumber *string `json:"tax_identification_number,omitempty"`
}

// CompanyPayload mirrors Company with optional-field semantics.
type CompanyPayload struct {
	LegalName          *string `json:"legal_name,omitempty"`
	RegistrationNumber *string `json:"registration_number,omitempty"`
	IncorporationDate  *string `json:"incorporation_date,omitempty"`
	IncorporationType  *string `json:"incorporation_type,omitempty"`
	Country            *string `json:"country,omitempty"`
}

// CapturePayload references evidence already uploaded to the provider.
type CapturePayload struct {
	DocumentID   string `json:"document_id"`
	LivePhotoID  string `json:"live_photo_id"`
	DocumentType string `json:"document_type"`
}

var (
	ErrNotFound            = errors.New("not found")
	ErrIdentityRequired    = errors.New("identity data needs to be provided before capture verification")
	ErrUnknownDocumentType = errors.New("unknown document type")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrKindMismatch        = errors.New("payload kind does not match existing identity")
)

// ProviderError wraps any failure from the external verification provider so
// callers can map it to a "provider unavailable" response without inspecting
// transport details.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("verification provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err originated from a provider call.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
