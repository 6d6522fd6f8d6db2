package verification

import (
	"context"
	"errors"
	"time"

	"veriflow.org/internal/audit"
	"veriflow.org/internal/ids"
	"veriflow.org/internal/obs"
	"veriflow.org/internal/provider"
)

// Service defines the verification orchestration operations exposed to
// transport layers.
type Service interface {
	GetIdentity(ctx context.Context, sessionRef string) (IdentityView, error)
	UpsertIdentity(ctx context.Context, sessionRef string, payload ClientPayload) (IdentityView, error)
	SessionToken(ctx context.Context, sessionRef string) (string, error)
	InitiateCapture(ctx context.Context, sessionRef string, payload CapturePayload) ([]Check, error)
	ListChecks(ctx context.Context, sessionRef string) ([]Check, error)
	GetCheck(ctx context.Context, sessionRef, checkID string) (Check, error)
	CheckStatus(ctx context.Context, sessionRef, checkID string) (Check, error)
	HandleCheckCompleted(ctx context.Context, providerCheckID string) error
}

// Publisher is the engine's view of the notification hub.
type Publisher interface {
	Publish(evt CheckEvent)
}

// Engine keeps the local identity record consistent with the provider's,
// requests checks against submitted evidence, and reconciles check state when
// the provider reports completion.
type Engine struct {
	store    Store
	provider provider.Client
	hub      Publisher
	referrer string
	now      func() time.Time
}

// EngineOption configures Engine.
type EngineOption func(*Engine)

// WithReferrer sets the web origin embedded into provider SDK tokens.
func WithReferrer(referrer string) EngineOption {
	return func(e *Engine) { e.referrer = referrer }
}

// WithClock overrides the time source. Test use.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the orchestration engine.
func NewEngine(store Store, client provider.Client, hub Publisher, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		provider: client,
		hub:      hub,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// GetIdentity returns the identity projection for a session, or ErrNotFound
// when no identity data has been submitted yet.
func (e *Engine) GetIdentity(ctx context.Context, sessionRef string) (IdentityView, error) {
	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	if err != nil {
		return IdentityView{}, err
	}
	return mapSession(sess), nil
}

// UpsertIdentity creates or updates the session's identity record and mirrors
// it to the provider.
//
// Create and mirror-create run in one transaction: a provider failure leaves
// no local rows behind. The update path commits locally first and mirrors
// second; a provider failure then surfaces as an error while the local change
// stands, recorded as a divergence audit event.
func (e *Engine) UpsertIdentity(ctx context.Context, sessionRef string, payload ClientPayload) (IdentityView, error) {
	if err := payload.validate(); err != nil {
		return IdentityView{}, err
	}

	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	switch {
	case errors.Is(err, ErrNotFound):
		if err := e.createIdentity(ctx, sessionRef, payload); err != nil {
			return IdentityView{}, err
		}
	case err != nil:
		return IdentityView{}, err
	default:
		if err := e.updateIdentity(ctx, sess, payload); err != nil {
			return IdentityView{}, err
		}
	}

	return e.GetIdentity(ctx, sessionRef)
}

func (e *Engine) createIdentity(ctx context.Context, sessionRef string, payload ClientPayload) error {
	now := e.now()
	client := Client{
		ID:        ids.NewPrefixed("cli"),
		Kind:      payload.kind(),
		CreatedAt: now,
	}
	payload.applyContact(&client)

	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.CreateClient(ctx, client); err != nil {
			return err
		}
		switch client.Kind {
		case KindPerson:
			person := Person{ClientID: client.ID}
			payload.Person.apply(&person)
			if err := e.store.CreatePerson(ctx, person); err != nil {
				return err
			}
			client.Person = &person
		case KindCompany:
			company := Company{ClientID: client.ID}
			payload.Company.apply(&company)
			if err := e.store.CreateCompany(ctx, company); err != nil {
				return err
			}
			client.Company = &company
		}
		if err := e.store.CreateSession(ctx, Session{
			ID:        ids.NewPrefixed("ses"),
			Ref:       sessionRef,
			ClientID:  client.ID,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		// The mirror-create runs inside the transaction on purpose: when it
		// fails, the rollback guarantees no committed local identity
		// references a failed mirror.
		externalID, err := e.provider.CreateClient(ctx, mapClientRequest(client, true, now))
		obs.ProviderRequest("client.create", err)
		if err != nil {
			return &ProviderError{Op: "create client", Err: err}
		}
		return e.store.SetClientExternalID(ctx, client.ID, externalID)
	})
	if err != nil {
		return err
	}

	_ = audit.LogEvent(ctx, "identity.create", map[string]any{
		"client_id": client.ID,
		"kind":      string(client.Kind),
	})
	return nil
}

func (e *Engine) updateIdentity(ctx context.Context, sess Session, payload ClientPayload) error {
	client := sess.Client
	if client == nil {
		return ErrNotFound
	}
	if payload.kind() != client.Kind {
		return ErrKindMismatch
	}

	payload.applyContact(client)
	err := e.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := e.store.UpdateClient(ctx, *client); err != nil {
			return err
		}
		switch client.Kind {
		case KindPerson:
			payload.Person.apply(client.Person)
			return e.store.UpdatePerson(ctx, *client.Person)
		case KindCompany:
			payload.Company.apply(client.Company)
			return e.store.UpdateCompany(ctx, *client.Company)
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Local change is committed at this point. A mirror failure is surfaced
	// but deliberately not rolled back; the divergence is flagged for
	// operator reconciliation instead.
	mirrorErr := e.provider.UpdateClient(ctx, client.ExternalID, mapClientRequest(*client, false, e.now()))
	obs.ProviderRequest("client.update", mirrorErr)
	if mirrorErr != nil {
		_ = audit.LogEvent(ctx, "identity.update.provider_divergence", map[string]any{
			"client_id":   client.ID,
			"external_id": client.ExternalID,
			"error":       mirrorErr.Error(),
		})
		return &ProviderError{Op: "update client", Err: mirrorErr}
	}

	_ = audit.LogEvent(ctx, "identity.update", map[string]any{"client_id": client.ID})
	return nil
}

// SessionToken issues a provider SDK token bound to the session's mirrored
// client, for use by the capture widget.
func (e *Engine) SessionToken(ctx context.Context, sessionRef string) (string, error) {
	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	if err != nil {
		return "", err
	}
	if sess.Client == nil || sess.Client.ExternalID == "" {
		return "", ErrNotFound
	}
	token, err := e.provider.GenerateToken(ctx, sess.Client.ExternalID, e.referrer)
	obs.ProviderRequest("token.generate", err)
	if err != nil {
		return "", &ProviderError{Op: "generate token", Err: err}
	}
	return token, nil
}

// InitiateCapture records the submitted evidence and requests a document
// check plus an identity check from the provider.
//
// The two provider calls are not atomic: when the identity-check call fails
// after the document check succeeded, the first Check row stays persisted and
// the error is returned. Callers observe the partial state on the next list.
func (e *Engine) InitiateCapture(ctx context.Context, sessionRef string, payload CapturePayload) ([]Check, error) {
	if payload.DocumentID == "" || payload.LivePhotoID == "" || payload.DocumentType == "" {
		return nil, ErrInvalidPayload
	}

	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrIdentityRequired
	}
	if err != nil {
		return nil, err
	}
	client := sess.Client
	if client == nil || client.ExternalID == "" {
		return nil, ErrIdentityRequired
	}

	docType, err := e.store.FindDocumentTypeByName(ctx, payload.DocumentType)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnknownDocumentType
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	doc := Document{
		ID:             ids.NewPrefixed("doc"),
		ExternalID:     payload.DocumentID,
		DocumentTypeID: docType.ID,
		Classification: ClassificationProofOfIdentity,
		CreatedAt:      now,
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	var checks []Check

	docCheckID, err := e.provider.CreateCheck(ctx, client.ExternalID, provider.CheckRequest{
		Kind:       string(CheckDocument),
		DocumentID: payload.DocumentID,
	})
	obs.ProviderRequest("check.create", err)
	if err != nil {
		return nil, &ProviderError{Op: "create document check", Err: err}
	}
	documentCheck := Check{
		ID:         ids.NewPrefixed("chk"),
		ProviderID: docCheckID,
		SessionID:  sess.ID,
		ClientID:   client.ID,
		DocumentID: doc.ID,
		Kind:       CheckDocument,
		CreatedAt:  now,
	}
	if err := e.store.CreateCheck(ctx, documentCheck); err != nil {
		return nil, err
	}
	obs.CheckCreated(string(CheckDocument))
	checks = append(checks, documentCheck)

	identityCheckID, err := e.provider.CreateCheck(ctx, client.ExternalID, provider.CheckRequest{
		Kind:        string(CheckIdentity),
		DocumentID:  payload.DocumentID,
		LivePhotoID: payload.LivePhotoID,
	})
	obs.ProviderRequest("check.create", err)
	if err != nil {
		// The document check above stays persisted.
		return checks, &ProviderError{Op: "create identity check", Err: err}
	}
	identityCheck := Check{
		ID:          ids.NewPrefixed("chk"),
		ProviderID:  identityCheckID,
		SessionID:   sess.ID,
		ClientID:    client.ID,
		DocumentID:  doc.ID,
		Kind:        CheckIdentity,
		LivePhotoID: payload.LivePhotoID,
		CreatedAt:   now,
	}
	if err := e.store.CreateCheck(ctx, identityCheck); err != nil {
		return checks, err
	}
	obs.CheckCreated(string(CheckIdentity))
	checks = append(checks, identityCheck)

	_ = audit.LogEvent(ctx, "capture.initiate", map[string]any{
		"document_id": doc.ID,
		"check_ids":   []string{documentCheck.ID, identityCheck.ID},
	})
	return checks, nil
}

// ListChecks returns all checks of a session, oldest first. A session without
// identity data yields an empty list, not an error.
func (e *Engine) ListChecks(ctx context.Context, sessionRef string) ([]Check, error) {
	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	if errors.Is(err, ErrNotFound) {
		return []Check{}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.store.ListChecksBySession(ctx, sess.ID)
}

// GetCheck returns one check scoped to the session; a check owned by another
// session is ErrNotFound.
func (e *Engine) GetCheck(ctx context.Context, sessionRef, checkID string) (Check, error) {
	sess, err := e.store.FindSessionByRef(ctx, sessionRef)
	if err != nil {
		return Check{}, err
	}
	return e.store.FindCheck(ctx, sess.ID, checkID)
}

// CheckStatus polls the provider for the check's current state and applies
// the terminal transition when the provider reports completion. A check that
// is already processed is returned as stored without another provider call.
func (e *Engine) CheckStatus(ctx context.Context, sessionRef, checkID string) (Check, error) {
	check, err := e.GetCheck(ctx, sessionRef, checkID)
	if err != nil {
		return Check{}, err
	}
	if check.Processed {
		return check, nil
	}

	updated, transitioned, err := e.reconcile(ctx, check)
	if err != nil {
		return Check{}, err
	}
	if transitioned {
		obs.CheckProcessed(string(updated.Kind), "poll")
		_ = audit.LogEvent(ctx, "check.reconcile", map[string]any{
			"check_id": updated.ID,
			"outcome":  string(updated.Outcome),
			"trigger":  "poll",
		})
	}
	return updated, nil
}

// HandleCheckCompleted ingests a provider completion event. Events for
// unknown provider check ids are dropped: the provider may notify about
// checks this deployment does not track.
func (e *Engine) HandleCheckCompleted(ctx context.Context, providerCheckID string) error {
	check, err := e.store.FindCheckByProviderID(ctx, providerCheckID)
	if errors.Is(err, ErrNotFound) {
		obs.WebhookEvent("dropped")
		_ = audit.LogEvent(ctx, "webhook.drop", map[string]any{"provider_check_id": providerCheckID})
		return nil
	}
	if err != nil {
		return err
	}
	if check.Processed {
		// Re-delivery for a terminal check: nothing to reconcile and no
		// second notification for subscribers.
		obs.WebhookEvent("duplicate")
		return nil
	}

	updated, transitioned, err := e.reconcile(ctx, check)
	if err != nil {
		return err
	}
	if !transitioned {
		obs.WebhookEvent("duplicate")
		return nil
	}
	obs.CheckProcessed(string(updated.Kind), "webhook")
	obs.WebhookEvent("reconciled")
	_ = audit.LogEvent(ctx, "check.reconcile", map[string]any{
		"check_id": updated.ID,
		"outcome":  string(updated.Outcome),
		"trigger":  "webhook",
	})

	sess, err := e.store.FindSessionByID(ctx, updated.SessionID)
	if err != nil {
		return err
	}
	if e.hub != nil {
		e.hub.Publish(CheckEvent{
			SessionRef: sess.Ref,
			Check:      updated,
			Timestamp:  e.now(),
		})
	}
	return nil
}

// reconcile fetches the provider's view of the check and applies the terminal
// transition when it is complete. Both the polling and the webhook path go
// through here so they converge on the same stored state.
func (e *Engine) reconcile(ctx context.Context, check Check) (Check, bool, error) {
	result, err := e.provider.GetCheck(ctx, check.ProviderID)
	obs.ProviderRequest("check.get", err)
	if err != nil {
		return Check{}, false, &ProviderError{Op: "get check", Err: err}
	}
	if !result.Complete {
		return check, false, nil
	}
	return e.store.SetCheckResult(ctx, check.ID, Outcome(result.Outcome), result.Breakdown)
}

var _ Service = (*Engine)(nil)

// --- payload helpers ---

func (p ClientPayload) validate() error {
	if (p.Person == nil) == (p.Company == nil) {
		return ErrInvalidPayload
	}
	return nil
}

func (p ClientPayload) kind() ClientKind {
	if p.Company != nil {
		return KindCompany
	}
	return KindPerson
}

func (p ClientPayload) applyContact(c *Client) {
	setString(&c.Email, p.Email)
	setString(&c.Mobile, p.Mobile)
	setString(&c.Telephone, p.Telephone)
}

func (p *PersonPayload) apply(dst *Person) {
	if p == nil || dst == nil {
		return
	}
	setString(&dst.FirstName, p.FirstName)
	setString(&dst.MiddleName, p.MiddleName)
	setString(&dst.LastName, p.LastName)
	setString(&dst.Gender, p.Gender)
	setString(&dst.DateOfBirth, p.DateOfBirth)
	setString(&dst.Nationality, p.Nationality)
	setString(&dst.BirthCountry, p.BirthCountry)
	setString(&dst.SocialSecurityNumber, p.SocialSecurityNumber)
	setString(&dst.SocialInsuranceNumber, p.SocialInsuranceNumber)
	setString(&dst.NationalIdentityNumber, p.NationalIdentityNumber)
	setString(&dst.TaxIdentificationNumber, p.TaxIdentificationNumber)
}

func (p *CompanyPayload) apply(dst *Company) {
	if p == nil || dst == nil {
		return
	}
	setString(&dst.LegalName, p.LegalName)
	setString(&dst.RegistrationNumber, p.RegistrationNumber)
	setString(&dst.IncorporationDate, p.IncorporationDate)
	setString(&dst.IncorporationType, p.IncorporationType)
	setString(&dst.Country, p.Country)
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// --- projections ---

func mapSession(sess Session) IdentityView {
	view := IdentityView{SessionRef: sess.Ref}
	client := sess.Client
	if client == nil {
		return view
	}
	view.Kind = client.Kind
	view.Email = client.Email
	view.Mobile = client.Mobile
	view.Telephone = client.Telephone
	view.Person = client.Person
	view.Company = client.Company
	return view
}

func mapClientRequest(client Client, isNew bool, now time.Time) provider.ClientRequest {
	req := provider.ClientRequest{
		Email:       client.Email,
		Mobile:      client.Mobile,
		Telephone:   client.Telephone,
		ExternalRef: client.ID,
	}
	if isNew {
		req.Kind = string(client.Kind)
		req.JoinedDate = now.Format("2006-01-02")
	}
	if p := client.Person; p != nil {
		req.PersonDetails = &provider.PersonDetails{
			FirstName:               p.FirstName,
			MiddleName:              p.MiddleName,
			LastName:                p.LastName,
			Gender:                  p.Gender,
			DOB:                     p.DateOfBirth,
			Nationality:             p.Nationality,
			BirthCountry:            p.BirthCountry,
			SSN:                     p.SocialSecurityNumber,
			SocialInsuranceNumber:   p.SocialInsuranceNumber,
			NationalIdentityNumber:  p.NationalIdentityNumber,
			TaxIdentificationNumber: p.TaxIdentificationNumber,
		}
	}
	if c := client.Company; c != nil {
		req.CompanyDetails = &provider.CompanyDetails{
			Name:               c.LegalName,
			RegistrationNumber: c.RegistrationNumber,
			IncorporationDate:  c.IncorporationDate,
			IncorporationType:  c.IncorporationType,
			Country:            c.Country,
		}
	}
	return req
}
