package verification

import "context"

// Store is the persistence contract the engine runs on. Implementations must
// honour RunInTx's context-scoped reentrancy: every method routes its writes
// through the transaction carried by ctx when one is active.
type Store interface {
	// RunInTx executes fn atomically. When ctx already carries an active
	// transaction the implementation must not open a second top-level one;
	// it establishes a savepoint instead, so a failing inner fn rolls back
	// only its own writes while the outer transaction stays viable.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// FindSessionByRef loads a session with its client and kind detail in
	// one logical read. Returns ErrNotFound when the ref is unknown.
	FindSessionByRef(ctx context.Context, ref string) (Session, error)
	// FindSessionByID resolves the owning session of a check found through
	// its provider id, where no session ref is available.
	FindSessionByID(ctx context.Context, id string) (Session, error)
	CreateSession(ctx context.Context, s Session) error

	CreateClient(ctx context.Context, c Client) error
	UpdateClient(ctx context.Context, c Client) error
	// SetClientExternalID records the provider-assigned identifier after a
	// successful mirror-create. The value is immutable once set.
	SetClientExternalID(ctx context.Context, clientID, externalID string) error

	CreatePerson(ctx context.Context, p Person) error
	UpdatePerson(ctx context.Context, p Person) error
	CreateCompany(ctx context.Context, c Company) error
	UpdateCompany(ctx context.Context, c Company) error

	FindDocumentTypeByName(ctx context.Context, name string) (DocumentType, error)
	CreateDocument(ctx context.Context, d Document) error

	CreateCheck(ctx context.Context, c Check) error
	ListChecksBySession(ctx context.Context, sessionID string) ([]Check, error)
	// FindCheck is session-scoped: a valid check id owned by another session
	// returns ErrNotFound.
	FindCheck(ctx context.Context, sessionID, checkID string) (Check, error)
	// FindCheckByProviderID ignores session scope on purpose - the provider
	// check identifier is the webhook correlation key.
	FindCheckByProviderID(ctx context.Context, providerID string) (Check, error)
	// SetCheckResult marks the check processed and stores outcome and
	// breakdown in one write. Processed is terminal: when the check already
	// holds a result the stored state is returned untouched and transitioned
	// is false.
	SetCheckResult(ctx context.Context, checkID string, outcome Outcome, breakdown []byte) (check Check, transitioned bool, err error)
}
