// Package pg implements the verification store on Postgres.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"veriflow.org/internal/verification"
)

const pgErrUniqueViolation = "23505"

// Store implements verification.Store. Write methods route through the
// transaction carried by ctx when one is active, so the engine can compose
// multi-row operations atomically without the store knowing their shape.
type Store struct {
	db *sql.DB
}

var _ verification.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Test use.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// --- transaction plumbing ---

type txKey struct{}

type txState struct {
	tx    *sql.Tx
	depth int
}

// querier is the subset of sql.DB / sql.Tx the store queries through.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) q(ctx context.Context) querier {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return st.tx
	}
	return s.db
}

// RunInTx opens a transaction at depth zero; reentrant calls establish a
// savepoint named by depth instead, so a failing inner fn unwinds only its
// own writes.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if st, ok := ctx.Value(txKey{}).(*txState); ok {
		return s.runSavepoint(ctx, st, fn)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	txCtx := context.WithValue(ctx, txKey{}, &txState{tx: tx})
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) runSavepoint(ctx context.Context, st *txState, fn func(ctx context.Context) error) error {
	depth := st.depth + 1
	name := fmt.Sprintf("sp_%d", depth)
	if _, err := st.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	spCtx := context.WithValue(ctx, txKey{}, &txState{tx: st.tx, depth: depth})
	if err := fn(spCtx); err != nil {
		if _, rbErr := st.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	_, err := st.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}

// --- sessions ---

func (s *Store) FindSessionByRef(ctx context.Context, ref string) (verification.Session, error) {
	var sess verification.Session
	err := s.q(ctx).QueryRowContext(ctx, `
		select id, ref, client_id, created_at
		from sessions where ref = $1
	`, ref).Scan(&sess.ID, &sess.Ref, &sess.ClientID, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Session{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.Session{}, err
	}

	client, err := s.loadClient(ctx, sess.ClientID)
	if err != nil && !errors.Is(err, verification.ErrNotFound) {
		return verification.Session{}, err
	}
	if err == nil {
		sess.Client = &client
	}
	return sess, nil
}

func (s *Store) FindSessionByID(ctx context.Context, id string) (verification.Session, error) {
	var sess verification.Session
	err := s.q(ctx).QueryRowContext(ctx, `
		select id, ref, client_id, created_at
		from sessions where id = $1
	`, id).Scan(&sess.ID, &sess.Ref, &sess.ClientID, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Session{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.Session{}, err
	}
	return sess, nil
}

func (s *Store) CreateSession(ctx context.Context, sess verification.Session) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into sessions (id, ref, client_id, created_at)
		values ($1, $2, $3, $4)
	`, sess.ID, sess.Ref, sess.ClientID, sess.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("session ref %q already registered: %w", sess.Ref, err)
	}
	return err
}

// --- clients ---

func (s *Store) loadClient(ctx context.Context, id string) (verification.Client, error) {
	var (
		c          verification.Client
		email      sql.NullString
		mobile     sql.NullString
		telephone  sql.NullString
		externalID sql.NullString
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		select id, kind, email, mobile, telephone, external_id, created_at
		from clients where id = $1
	`, id).Scan(&c.ID, &c.Kind, &email, &mobile, &telephone, &externalID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Client{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.Client{}, err
	}
	c.Email = email.String
	c.Mobile = mobile.String
	c.Telephone = telephone.String
	c.ExternalID = externalID.String

	switch c.Kind {
	case verification.KindPerson:
		person, err := s.findPerson(ctx, c.ID)
		if err != nil && !errors.Is(err, verification.ErrNotFound) {
			return verification.Client{}, err
		}
		if err == nil {
			c.Person = &person
		}
	case verification.KindCompany:
		company, err := s.findCompany(ctx, c.ID)
		if err != nil && !errors.Is(err, verification.ErrNotFound) {
			return verification.Client{}, err
		}
		if err == nil {
			c.Company = &company
		}
	}
	return c, nil
}

func (s *Store) CreateClient(ctx context.Context, c verification.Client) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into clients (id, kind, email, mobile, telephone, created_at)
		values ($1, $2, nullif($3,''), nullif($4,''), nullif($5,''), $6)
	`, c.ID, c.Kind, c.Email, c.Mobile, c.Telephone, c.CreatedAt)
	return err
}

func (s *Store) UpdateClient(ctx context.Context, c verification.Client) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		update clients
		set email = nullif($2,''), mobile = nullif($3,''), telephone = nullif($4,'')
		where id = $1
	`, c.ID, c.Email, c.Mobile, c.Telephone)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return verification.ErrNotFound
	}
	return nil
}

func (s *Store) SetClientExternalID(ctx context.Context, clientID, externalID string) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		update clients set external_id = $2
		where id = $1 and external_id is null
	`, clientID, externalID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		// Either the client is gone or the external id is already set; only
		// the former is an error.
		var exists int
		err := s.q(ctx).QueryRowContext(ctx, `select 1 from clients where id = $1`, clientID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return verification.ErrNotFound
		}
		return err
	}
	return nil
}

// --- kind details ---

func (s *Store) findPerson(ctx context.Context, clientID string) (verification.Person, error) {
	var p verification.Person
	cols := make([]sql.NullString, 11)
	dest := []any{&p.ClientID}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	err := s.q(ctx).QueryRowContext(ctx, `
		select client_id, first_name, middle_name, last_name, gender, date_of_birth,
		       nationality, birth_country, social_security_number, social_insurance_number,
		       national_identity_number, tax_identification_number
		from persons where client_id = $1
	`, clientID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Person{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.Person{}, err
	}
	p.FirstName = cols[0].String
	p.MiddleName = cols[1].String
	p.LastName = cols[2].String
	p.Gender = cols[3].String
	p.DateOfBirth = cols[4].String
	p.Nationality = cols[5].String
	p.BirthCountry = cols[6].String
	p.SocialSecurityNumber = cols[7].String
	p.SocialInsuranceNumber = cols[8].String
	p.NationalIdentityNumber = cols[9].String
	p.TaxIdentificationNumber = cols[10].String
	return p, nil
}

func (s *Store) CreatePerson(ctx context.Context, p verification.Person) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into persons (client_id, first_name, middle_name, last_name, gender,
		                     date_of_birth, nationality, birth_country, social_security_number,
		                     social_insurance_number, national_identity_number, tax_identification_number)
		values ($1, nullif($2,''), nullif($3,''), nullif($4,''), nullif($5,''), nullif($6,''),
		        nullif($7,''), nullif($8,''), nullif($9,''), nullif($10,''), nullif($11,''), nullif($12,''))
	`, p.ClientID, p.FirstName, p.MiddleName, p.LastName, p.Gender, p.DateOfBirth,
		p.Nationality, p.BirthCountry, p.SocialSecurityNumber, p.SocialInsuranceNumber,
		p.NationalIdentityNumber, p.TaxIdentificationNumber)
	return err
}

func (s *Store) UpdatePerson(ctx context.Context, p verification.Person) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		update persons
		set first_name = nullif($2,''), middle_name = nullif($3,''), last_name = nullif($4,''),
		    gender = nullif($5,''), date_of_birth = nullif($6,''), nationality = nullif($7,''),
		    birth_country = nullif($8,''), social_security_number = nullif($9,''),
		    social_insurance_number = nullif($10,''), national_identity_number = nullif($11,''),
		    tax_identification_number = nullif($12,'')
		where client_id = $1
	`, p.ClientID, p.FirstName, p.MiddleName, p.LastName, p.Gender, p.DateOfBirth,
		p.Nationality, p.BirthCountry, p.SocialSecurityNumber, p.SocialInsuranceNumber,
		p.NationalIdentityNumber, p.TaxIdentificationNumber)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return verification.ErrNotFound
	}
	return nil
}

func (s *Store) findCompany(ctx context.Context, clientID string) (verification.Company, error) {
	var (
		c    verification.Company
		cols [5]sql.NullString
	)
	err := s.q(ctx).QueryRowContext(ctx, `
		select client_id, legal_name, registration_number, incorporation_date, incorporation_type, country
		from companies where client_id = $1
	`, clientID).Scan(&c.ClientID, &cols[0], &cols[1], &cols[2], &cols[3], &cols[4])
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Company{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.Company{}, err
	}
	c.LegalName = cols[0].String
	c.RegistrationNumber = cols[1].String
	c.IncorporationDate = cols[2].String
	c.IncorporationType = cols[3].String
	c.Country = cols[4].String
	return c, nil
}

func (s *Store) CreateCompany(ctx context.Context, c verification.Company) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into companies (client_id, legal_name, registration_number, incorporation_date, incorporation_type, country)
		values ($1, nullif($2,''), nullif($3,''), nullif($4,''), nullif($5,''), nullif($6,''))
	`, c.ClientID, c.LegalName, c.RegistrationNumber, c.IncorporationDate, c.IncorporationType, c.Country)
	return err
}

func (s *Store) UpdateCompany(ctx context.Context, c verification.Company) error {
	res, err := s.q(ctx).ExecContext(ctx, `
		update companies
		set legal_name = nullif($2,''), registration_number = nullif($3,''),
		    incorporation_date = nullif($4,''), incorporation_type = nullif($5,''), country = nullif($6,'')
		where client_id = $1
	`, c.ClientID, c.LegalName, c.RegistrationNumber, c.IncorporationDate, c.IncorporationType, c.Country)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return verification.ErrNotFound
	}
	return nil
}

// --- documents ---

func (s *Store) FindDocumentTypeByName(ctx context.Context, name string) (verification.DocumentType, error) {
	var dt verification.DocumentType
	err := s.q(ctx).QueryRowContext(ctx, `
		select id, name from document_types where name = $1
	`, name).Scan(&dt.ID, &dt.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return verification.DocumentType{}, verification.ErrNotFound
	}
	if err != nil {
		return verification.DocumentType{}, err
	}
	return dt, nil
}

func (s *Store) CreateDocument(ctx context.Context, d verification.Document) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into documents (id, external_id, document_type_id, classification, created_at)
		values ($1, $2, $3, $4, $5)
	`, d.ID, d.ExternalID, d.DocumentTypeID, d.Classification, d.CreatedAt)
	return err
}

// --- checks ---

func (s *Store) CreateCheck(ctx context.Context, c verification.Check) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		insert into checks (id, provider_id, session_id, client_id, document_id, kind,
		                    processed, live_photo_id, created_at)
		values ($1, $2, $3, $4, $5, $6, false, nullif($7,''), $8)
	`, c.ID, c.ProviderID, c.SessionID, c.ClientID, c.DocumentID, c.Kind, c.LivePhotoID, c.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("provider check %q already recorded: %w", c.ProviderID, err)
	}
	return err
}

const checkColumns = `
	id, provider_id, session_id, client_id, document_id, kind,
	processed, coalesce(outcome,''), breakdown, coalesce(live_photo_id,''), created_at, processed_at
`

func scanCheck(row interface{ Scan(...any) error }) (verification.Check, error) {
	var (
		c           verification.Check
		breakdown   []byte
		processedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.ProviderID, &c.SessionID, &c.ClientID, &c.DocumentID, &c.Kind,
		&c.Processed, &c.Outcome, &breakdown, &c.LivePhotoID, &c.CreatedAt, &processedAt)
	if err != nil {
		return verification.Check{}, err
	}
	if len(breakdown) > 0 {
		c.Breakdown = breakdown
	}
	if processedAt.Valid {
		t := processedAt.Time
		c.ProcessedAt = &t
	}
	return c, nil
}

func (s *Store) ListChecksBySession(ctx context.Context, sessionID string) ([]verification.Check, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		select `+checkColumns+`
		from checks where session_id = $1
		order by created_at asc, id asc
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []verification.Check
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) FindCheck(ctx context.Context, sessionID, checkID string) (verification.Check, error) {
	c, err := scanCheck(s.q(ctx).QueryRowContext(ctx, `
		select `+checkColumns+`
		from checks where id = $1 and session_id = $2
	`, checkID, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Check{}, verification.ErrNotFound
	}
	return c, err
}

func (s *Store) FindCheckByProviderID(ctx context.Context, providerID string) (verification.Check, error) {
	c, err := scanCheck(s.q(ctx).QueryRowContext(ctx, `
		select `+checkColumns+`
		from checks where provider_id = $1
	`, providerID))
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Check{}, verification.ErrNotFound
	}
	return c, err
}

// SetCheckResult applies the terminal transition. The guard on processed
// makes concurrent poll and webhook reconciliation race-safe: exactly one
// caller observes transitioned.
func (s *Store) SetCheckResult(ctx context.Context, checkID string, outcome verification.Outcome, breakdown []byte) (verification.Check, bool, error) {
	c, err := scanCheck(s.q(ctx).QueryRowContext(ctx, `
		update checks
		set processed = true, outcome = $2, breakdown = $3, processed_at = now()
		where id = $1 and processed = false
		returning `+checkColumns+`
	`, checkID, outcome, nullIfEmptyBytes(breakdown)))
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return verification.Check{}, false, err
	}

	// Already processed or unknown id.
	c, err = scanCheck(s.q(ctx).QueryRowContext(ctx, `
		select `+checkColumns+`
		from checks where id = $1
	`, checkID))
	if errors.Is(err, sql.ErrNoRows) {
		return verification.Check{}, false, verification.ErrNotFound
	}
	if err != nil {
		return verification.Check{}, false, err
	}
	return c, false, nil
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmptyBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
