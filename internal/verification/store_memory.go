package verification

import (
	"context"
	"sync"
	"time"

	"veriflow.org/internal/ids"
)

// InMemory implements Store with in-process state. It backs unit tests and
// the no-DSN development mode of cmd/api.
//
// Transactions are emulated with state snapshots: a top-level RunInTx takes
// the store mutex for its whole duration and restores the pre-transaction
// snapshot on failure; nested RunInTx calls take an additional snapshot and
// restore only that one, which matches the savepoint semantics of the
// Postgres store.
type InMemory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	sessions     map[string]Session // by id
	sessionByRef map[string]string  // ref -> id
	clients      map[string]Client
	persons      map[string]Person  // by client id
	companies    map[string]Company // by client id
	docTypes     map[string]DocumentType
	documents    map[string]Document
	checks       map[string]Check
	checkByProv  map[string]string // provider id -> check id
	checkOrder   []string
}

// DefaultDocumentTypes are seeded into every fresh in-memory store so the
// capture flow works without running SQL seeds.
var DefaultDocumentTypes = []string{
	"passport",
	"driving_license",
	"national_identity_card",
	"residence_permit",
}

// NewInMemory creates an empty store pre-seeded with the default document
// types.
func NewInMemory() *InMemory {
	s := &InMemory{state: newMemState()}
	for _, name := range DefaultDocumentTypes {
		id := ids.NewPrefixed("dt")
		s.state.docTypes[name] = DocumentType{ID: id, Name: name}
	}
	return s
}

func newMemState() memState {
	return memState{
		sessions:     make(map[string]Session),
		sessionByRef: make(map[string]string),
		clients:      make(map[string]Client),
		persons:      make(map[string]Person),
		companies:    make(map[string]Company),
		docTypes:     make(map[string]DocumentType),
		documents:    make(map[string]Document),
		checks:       make(map[string]Check),
		checkByProv:  make(map[string]string),
	}
}

func (st memState) clone() memState {
	out := newMemState()
	for k, v := range st.sessions {
		out.sessions[k] = v
	}
	for k, v := range st.sessionByRef {
		out.sessionByRef[k] = v
	}
	for k, v := range st.clients {
		out.clients[k] = v
	}
	for k, v := range st.persons {
		out.persons[k] = v
	}
	for k, v := range st.companies {
		out.companies[k] = v
	}
	for k, v := range st.docTypes {
		out.docTypes[k] = v
	}
	for k, v := range st.documents {
		out.documents[k] = v
	}
	for k, v := range st.checks {
		out.checks[k] = v
	}
	for k, v := range st.checkByProv {
		out.checkByProv[k] = v
	}
	out.checkOrder = append(out.checkOrder, st.checkOrder...)
	return out
}

// --- transaction plumbing ---

type memTxKey struct{}

type memTx struct {
	store *InMemory
}

// lock acquires the store mutex unless ctx already runs inside a transaction
// on this store, in which case the transaction holds it for us.
func (s *InMemory) lock(ctx context.Context) func() {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.store == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok && tx.store == s {
		// Nested scope: snapshot acts as the savepoint.
		snap := s.state.clone()
		if err := fn(ctx); err != nil {
			s.state = snap
			return err
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, &memTx{store: s})); err != nil {
		s.state = snap
		return err
	}
	return nil
}

// --- sessions ---

func (s *InMemory) FindSessionByRef(ctx context.Context, ref string) (Session, error) {
	defer s.lock(ctx)()
	id, ok := s.state.sessionByRef[ref]
	if !ok {
		return Session{}, ErrNotFound
	}
	sess := s.state.sessions[id]
	if client, ok := s.state.clients[sess.ClientID]; ok {
		if p, ok := s.state.persons[client.ID]; ok {
			client.Person = &p
		}
		if c, ok := s.state.companies[client.ID]; ok {
			client.Company = &c
		}
		sess.Client = &client
	}
	return sess, nil
}

func (s *InMemory) FindSessionByID(ctx context.Context, id string) (Session, error) {
	defer s.lock(ctx)()
	sess, ok := s.state.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemory) CreateSession(ctx context.Context, sess Session) error {
	defer s.lock(ctx)()
	sess.Client = nil
	s.state.sessions[sess.ID] = sess
	s.state.sessionByRef[sess.Ref] = sess.ID
	return nil
}

// --- clients ---

func (s *InMemory) CreateClient(ctx context.Context, c Client) error {
	defer s.lock(ctx)()
	c.Person, c.Company = nil, nil
	s.state.clients[c.ID] = c
	return nil
}

func (s *InMemory) UpdateClient(ctx context.Context, c Client) error {
	defer s.lock(ctx)()
	existing, ok := s.state.clients[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.Person, c.Company = nil, nil
	c.ExternalID = existing.ExternalID
	c.CreatedAt = existing.CreatedAt
	s.state.clients[c.ID] = c
	return nil
}

func (s *InMemory) SetClientExternalID(ctx context.Context, clientID, externalID string) error {
	defer s.lock(ctx)()
	c, ok := s.state.clients[clientID]
	if !ok {
		return ErrNotFound
	}
	if c.ExternalID == "" {
		c.ExternalID = externalID
		s.state.clients[clientID] = c
	}
	return nil
}

// --- kind details ---

func (s *InMemory) CreatePerson(ctx context.Context, p Person) error {
	defer s.lock(ctx)()
	s.state.persons[p.ClientID] = p
	return nil
}

func (s *InMemory) UpdatePerson(ctx context.Context, p Person) error {
	defer s.lock(ctx)()
	if _, ok := s.state.persons[p.ClientID]; !ok {
		return ErrNotFound
	}
	s.state.persons[p.ClientID] = p
	return nil
}

func (s *InMemory) CreateCompany(ctx context.Context, c Company) error {
	defer s.lock(ctx)()
	s.state.companies[c.ClientID] = c
	return nil
}

func (s *InMemory) UpdateCompany(ctx context.Context, c Company) error {
	defer s.lock(ctx)()
	if _, ok := s.state.companies[c.ClientID]; !ok {
		return ErrNotFound
	}
	s.state.companies[c.ClientID] = c
	return nil
}

// --- documents ---

func (s *InMemory) FindDocumentTypeByName(ctx context.Context, name string) (DocumentType, error) {
	defer s.lock(ctx)()
	dt, ok := s.state.docTypes[name]
	if !ok {
		return DocumentType{}, ErrNotFound
	}
	return dt, nil
}

func (s *InMemory) CreateDocument(ctx context.Context, d Document) error {
	defer s.lock(ctx)()
	s.state.documents[d.ID] = d
	return nil
}

// --- checks ---

func (s *InMemory) CreateCheck(ctx context.Context, c Check) error {
	defer s.lock(ctx)()
	s.state.checks[c.ID] = c
	s.state.checkByProv[c.ProviderID] = c.ID
	s.state.checkOrder = append(s.state.checkOrder, c.ID)
	return nil
}

func (s *InMemory) ListChecksBySession(ctx context.Context, sessionID string) ([]Check, error) {
	defer s.lock(ctx)()
	var res []Check
	for _, id := range s.state.checkOrder {
		if c, ok := s.state.checks[id]; ok && c.SessionID == sessionID {
			res = append(res, c)
		}
	}
	return res, nil
}

func (s *InMemory) FindCheck(ctx context.Context, sessionID, checkID string) (Check, error) {
	defer s.lock(ctx)()
	c, ok := s.state.checks[checkID]
	if !ok || c.SessionID != sessionID {
		return Check{}, ErrNotFound
	}
	return c, nil
}

func (s *InMemory) FindCheckByProviderID(ctx context.Context, providerID string) (Check, error) {
	defer s.lock(ctx)()
	id, ok := s.state.checkByProv[providerID]
	if !ok {
		return Check{}, ErrNotFound
	}
	return s.state.checks[id], nil
}

func (s *InMemory) SetCheckResult(ctx context.Context, checkID string, outcome Outcome, breakdown []byte) (Check, bool, error) {
	defer s.lock(ctx)()
	c, ok := s.state.checks[checkID]
	if !ok {
		return Check{}, false, ErrNotFound
	}
	if c.Processed {
		// Terminal state: re-processing is a no-op.
		return c, false, nil
	}
	now := time.Now().UTC()
	c.Processed = true
	c.Outcome = outcome
	c.Breakdown = append([]byte(nil), breakdown...)
	c.ProcessedAt = &now
	s.state.checks[checkID] = c
	return c, true, nil
}

var _ Store = (*InMemory)(nil)
