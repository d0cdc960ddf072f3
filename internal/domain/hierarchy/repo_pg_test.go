package hierarchy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dicomvault/dicomvault/internal/platform/db"
)

// raceTx is a pgx.Tx standing in for a transaction that loses every insert
// race: the first lookup misses, the insert affects no row, and the
// re-lookup returns the row the winning transaction committed. It records
// each statement so tests can assert the lookup/insert/re-lookup sequence
// and that no statement errored in between (an errored statement would
// abort a real transaction and make the re-lookup impossible).
type raceTx struct {
	survivor scanFunc
	inserted int64

	lookups int
	execs   []string
}

type scanFunc func(dest ...any) error

func (f scanFunc) Scan(dest ...any) error { return f(dest...) }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func (t *raceTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	t.lookups++
	if t.lookups == 1 {
		return errRow{pgx.ErrNoRows}
	}
	return t.survivor
}

func (t *raceTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	if t.inserted == 1 {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 0"), nil
}

func (t *raceTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (t *raceTx) Begin(context.Context) (pgx.Tx, error)                   { return t, nil }
func (t *raceTx) Commit(context.Context) error                            { return nil }
func (t *raceTx) Rollback(context.Context) error                          { return nil }
func (t *raceTx) Conn() *pgx.Conn                                         { return nil }
func (t *raceTx) LargeObjects() pgx.LargeObjects                          { return pgx.LargeObjects{} }
func (t *raceTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults  { return nil }

func (t *raceTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (t *raceTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func txContext(tx pgx.Tx) context.Context {
	return context.WithValue(context.Background(), db.DBTxKey, tx)
}

func TestRepoPG_FindOrCreatePatientLostInsertRace(t *testing.T) {
	survivorID := uuid.New()
	survivorAt := time.Date(2024, 1, 15, 9, 30, 0, 0, time.UTC)
	tx := &raceTx{survivor: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = survivorID
		*dest[1].(*string) = "Jane Doe"
		*dest[2].(*time.Time) = survivorAt
		return nil
	}}

	repo := NewRepoPG(nil)
	p, err := repo.FindOrCreatePatient(txContext(tx), "Jane Doe", time.Now().UTC())
	if err != nil {
		t.Fatalf("expected convergence on the surviving row, got %v", err)
	}

	if p.ID != survivorID {
		t.Errorf("expected the winner's row id %s, got %s", survivorID, p.ID)
	}
	if !p.CreatedAt.Equal(survivorAt) {
		t.Errorf("expected the winner's timestamp retained, got %s", p.CreatedAt)
	}
	if tx.lookups != 2 {
		t.Errorf("expected lookup then one bounded re-lookup, got %d lookups", tx.lookups)
	}
	if len(tx.execs) != 1 {
		t.Fatalf("expected exactly one insert, got %d", len(tx.execs))
	}
	// The insert must resolve the conflict in-statement; a unique-violation
	// error would abort the shared transaction before the re-lookup runs.
	if !strings.Contains(tx.execs[0], "ON CONFLICT") || !strings.Contains(tx.execs[0], "DO NOTHING") {
		t.Errorf("expected a conflict-tolerant insert, got %q", tx.execs[0])
	}
}

func TestRepoPG_FindOrCreateFileLostInsertRace(t *testing.T) {
	survivorID := uuid.New()
	seriesID := uuid.New()
	survivorAt := time.Date(2024, 1, 15, 9, 35, 0, 0, time.UTC)
	tx := &raceTx{survivor: func(dest ...any) error {
		*dest[0].(*uuid.UUID) = survivorID
		*dest[1].(*uuid.UUID) = seriesID
		*dest[2].(*string) = "scan001.dcm"
		*dest[3].(*string) = "first/path"
		*dest[4].(*time.Time) = survivorAt
		return nil
	}}

	repo := NewRepoPG(nil)
	f, err := repo.FindOrCreateFile(txContext(tx), seriesID, "scan001.dcm", "second/path", time.Now().UTC())
	if err != nil {
		t.Fatalf("expected convergence on the surviving row, got %v", err)
	}

	if f.ID != survivorID {
		t.Errorf("expected the winner's row id %s, got %s", survivorID, f.ID)
	}
	if f.FilePath != "first/path" {
		t.Errorf("expected the winner's path retained, got %s", f.FilePath)
	}
	if tx.lookups != 2 {
		t.Errorf("expected lookup then one bounded re-lookup, got %d lookups", tx.lookups)
	}
}

func TestRepoPG_FindOrCreateModalityWinsInsert(t *testing.T) {
	tx := &raceTx{inserted: 1}

	repo := NewRepoPG(nil)
	m, err := repo.FindOrCreateModality(txContext(tx), "CT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if m.Name != "CT" || m.ID == uuid.Nil {
		t.Errorf("expected a freshly inserted row, got %+v", m)
	}
	if tx.lookups != 1 {
		t.Errorf("expected no re-lookup after a successful insert, got %d lookups", tx.lookups)
	}
}
