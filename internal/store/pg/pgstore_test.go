package pg

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"veriflow.org/internal/verification"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTxCommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("insert into sessions")).
		WithArgs("ses-1", "r1", "cli-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		return store.CreateSession(ctx, verification.Session{
			ID: "ses-1", Ref: "r1", ClientID: "cli-1", CreatedAt: time.Now().UTC(),
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	expectationsMet(t, mock)
}

func TestNestedRunInTxReleasesSavepoint(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("insert into clients")).
		WithArgs("cli-1", "person", "", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		return store.RunInTx(ctx, func(ctx context.Context) error {
			return store.CreateClient(ctx, verification.Client{
				ID: "cli-1", Kind: verification.KindPerson, CreatedAt: time.Now().UTC(),
			})
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestNestedRunInTxRollsBackToSavepoint(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("inner boom")
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("ROLLBACK TO SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		inner := store.RunInTx(ctx, func(ctx context.Context) error { return boom })
		if !errors.Is(inner, boom) {
			t.Fatalf("inner err = %v, want boom", inner)
		}
		// Outer transaction stays viable after the inner rollback.
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestDeeperNestingNumbersSavepointsByDepth(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SAVEPOINT sp_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_2")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("RELEASE SAVEPOINT sp_1")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context) error {
		return store.RunInTx(ctx, func(ctx context.Context) error {
			return store.RunInTx(ctx, func(ctx context.Context) error { return nil })
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	expectationsMet(t, mock)
}

func TestFindSessionByRefNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("from sessions where ref = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	_, err := store.FindSessionByRef(context.Background(), "nope")
	if !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestFindSessionByRefLoadsClientAndPerson(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("from sessions where ref = $1")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "ref", "client_id", "created_at"}).
			AddRow("ses-1", "r1", "cli-1", now))
	mock.ExpectQuery(regexp.QuoteMeta("from clients where id = $1")).
		WithArgs("cli-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "email", "mobile", "telephone", "external_id", "created_at"}).
			AddRow("cli-1", "person", "a@example.com", nil, nil, "ext-1", now))
	mock.ExpectQuery(regexp.QuoteMeta("from persons where client_id = $1")).
		WithArgs("cli-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"client_id", "first_name", "middle_name", "last_name", "gender", "date_of_birth",
			"nationality", "birth_country", "social_security_number", "social_insurance_number",
			"national_identity_number", "tax_identification_number",
		}).AddRow("cli-1", "Ada", nil, "Lovelace", nil, "1990-05-01", "GB", nil, nil, nil, nil, nil))

	sess, err := store.FindSessionByRef(context.Background(), "r1")
	if err != nil {
		t.Fatalf("FindSessionByRef: %v", err)
	}
	if sess.Client == nil || sess.Client.ExternalID != "ext-1" {
		t.Fatalf("client = %+v", sess.Client)
	}
	if sess.Client.Person == nil || sess.Client.Person.FirstName != "Ada" {
		t.Fatalf("person = %+v", sess.Client.Person)
	}
	if sess.Client.Email != "a@example.com" {
		t.Fatalf("email = %q", sess.Client.Email)
	}
	if sess.Client.Mobile != "" {
		t.Fatalf("mobile = %q, want empty for NULL column", sess.Client.Mobile)
	}
	expectationsMet(t, mock)
}

func TestSetCheckResultTransitionsOnce(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{
		"id", "provider_id", "session_id", "client_id", "document_id", "kind",
		"processed", "outcome", "breakdown", "live_photo_id", "created_at", "processed_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("update checks")).
		WithArgs("chk-1", "clear", []byte(`{"a":1}`)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("chk-1", "pc-1", "ses-1", "cli-1", "doc-1", "document_check",
				true, "clear", []byte(`{"a":1}`), "", now, now))

	check, transitioned, err := store.SetCheckResult(context.Background(), "chk-1", verification.OutcomeClear, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("SetCheckResult: %v", err)
	}
	if !transitioned {
		t.Fatal("transitioned = false on first write")
	}
	if check.Outcome != verification.OutcomeClear || !check.Processed {
		t.Fatalf("check = %+v", check)
	}
	if check.ProcessedAt == nil {
		t.Fatal("ProcessedAt not set")
	}
	expectationsMet(t, mock)
}

func TestSetCheckResultIsNoOpWhenAlreadyProcessed(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{
		"id", "provider_id", "session_id", "client_id", "document_id", "kind",
		"processed", "outcome", "breakdown", "live_photo_id", "created_at", "processed_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("update checks")).
		WithArgs("chk-1", "attention", nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("from checks where id = $1")).
		WithArgs("chk-1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("chk-1", "pc-1", "ses-1", "cli-1", "doc-1", "document_check",
				true, "clear", []byte(`{"a":1}`), "", now, now))

	check, transitioned, err := store.SetCheckResult(context.Background(), "chk-1", verification.OutcomeAttention, nil)
	if err != nil {
		t.Fatalf("SetCheckResult: %v", err)
	}
	if transitioned {
		t.Fatal("transitioned = true for already processed check")
	}
	if check.Outcome != verification.OutcomeClear {
		t.Fatalf("outcome = %q, want stored clear", check.Outcome)
	}
	expectationsMet(t, mock)
}

func TestSetCheckResultUnknownID(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("update checks")).
		WithArgs("chk-x", "clear", nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("from checks where id = $1")).
		WithArgs("chk-x").
		WillReturnError(sql.ErrNoRows)

	_, _, err := store.SetCheckResult(context.Background(), "chk-x", verification.OutcomeClear, nil)
	if !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestFindCheckByProviderID(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	cols := []string{
		"id", "provider_id", "session_id", "client_id", "document_id", "kind",
		"processed", "outcome", "breakdown", "live_photo_id", "created_at", "processed_at",
	}
	mock.ExpectQuery(regexp.QuoteMeta("from checks where provider_id = $1")).
		WithArgs("pc-7").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("chk-7", "pc-7", "ses-1", "cli-1", "doc-1", "identity_check",
				false, "", nil, "photo-1", now, nil))

	check, err := store.FindCheckByProviderID(context.Background(), "pc-7")
	if err != nil {
		t.Fatalf("FindCheckByProviderID: %v", err)
	}
	if check.ID != "chk-7" || check.Kind != verification.CheckIdentity || check.Processed {
		t.Fatalf("check = %+v", check)
	}
	if check.ProcessedAt != nil {
		t.Fatal("ProcessedAt set for unprocessed check")
	}
	expectationsMet(t, mock)
}

func TestUpdateClientNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("update clients")).
		WithArgs("cli-x", "a@example.com", "", "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateClient(context.Background(), verification.Client{ID: "cli-x", Email: "a@example.com"})
	if !errors.Is(err, verification.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestSetClientExternalIDKeepsFirstValue(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("update clients set external_id = $2")).
		WithArgs("cli-1", "ext-2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select 1 from clients where id = $1")).
		WithArgs("cli-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := store.SetClientExternalID(context.Background(), "cli-1", "ext-2"); err != nil {
		t.Fatalf("SetClientExternalID: %v", err)
	}
	expectationsMet(t, mock)
}
