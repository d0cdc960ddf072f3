package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dicomvault/dicomvault/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG returns the Postgres-backed Repository. Natural-key uniqueness is
// enforced by the schema's UNIQUE constraints, so concurrent ingestions racing
// on the same key are resolved by the database, never by in-process locks.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, tx, err := db.WithTx(ctx, r.pool)
	if err != nil {
		return err
	}
	// The transaction must end in commit or rollback even if the client has
	// gone away; an orphaned open transaction holds locks that stall
	// concurrent ingestions on the same natural keys.
	endCtx := context.WithoutCancel(ctx)
	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(endCtx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(endCtx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Find-or-create primitives
// ---------------------------------------------------------------------------
//
// Each primitive is lookup, then INSERT .. ON CONFLICT DO NOTHING on the
// natural key, then one re-lookup when the insert affected no row. A lost
// insert race must not raise a statement error: all five primitives run on
// one transaction, and any errored statement would abort it (SQLSTATE 25P02)
// and make convergence on the surviving row impossible. Only a failure of
// the second lookup propagates.

func (r *repoPG) FindOrCreateModality(ctx context.Context, name string) (*Modality, error) {
	q := r.conn(ctx)

	lookup := func() (*Modality, error) {
		var m Modality
		err := q.QueryRow(ctx, `SELECT id, name FROM modalities WHERE name = $1`, name).
			Scan(&m.ID, &m.Name)
		if err != nil {
			return nil, err
		}
		return &m, nil
	}

	m, err := lookup()
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup modality %q: %w", name, err)
	}

	id := uuid.New()
	tag, err := q.Exec(ctx,
		`INSERT INTO modalities (id, name) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`,
		id, name)
	if err != nil {
		return nil, fmt.Errorf("insert modality %q: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return &Modality{ID: id, Name: name}, nil
	}

	m, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("re-lookup modality %q after conflict: %w", name, err)
	}
	return m, nil
}

func (r *repoPG) FindOrCreatePatient(ctx context.Context, name string, createdAt time.Time) (*Patient, error) {
	q := r.conn(ctx)

	lookup := func() (*Patient, error) {
		var p Patient
		err := q.QueryRow(ctx, `SELECT id, name, created_at FROM patients WHERE name = $1`, name).
			Scan(&p.ID, &p.Name, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &p, nil
	}

	p, err := lookup()
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup patient %q: %w", name, err)
	}

	id := uuid.New()
	tag, err := q.Exec(ctx,
		`INSERT INTO patients (id, name, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		id, name, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert patient %q: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return &Patient{ID: id, Name: name, CreatedAt: createdAt}, nil
	}

	p, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("re-lookup patient %q after conflict: %w", name, err)
	}
	return p, nil
}

func (r *repoPG) FindOrCreateStudy(ctx context.Context, patientID uuid.UUID, name string, createdAt time.Time) (*Study, error) {
	q := r.conn(ctx)

	lookup := func() (*Study, error) {
		var s Study
		err := q.QueryRow(ctx,
			`SELECT id, patient_id, name, created_at FROM studies WHERE name = $1 AND patient_id = $2`,
			name, patientID).
			Scan(&s.ID, &s.PatientID, &s.Name, &s.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &s, nil
	}

	s, err := lookup()
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup study %q: %w", name, err)
	}

	id := uuid.New()
	tag, err := q.Exec(ctx,
		`INSERT INTO studies (id, patient_id, name, created_at) VALUES ($1, $2, $3, $4) ON CONFLICT (name, patient_id) DO NOTHING`,
		id, patientID, name, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert study %q: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return &Study{ID: id, PatientID: patientID, Name: name, CreatedAt: createdAt}, nil
	}

	s, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("re-lookup study %q after conflict: %w", name, err)
	}
	return s, nil
}

func (r *repoPG) FindOrCreateSeries(ctx context.Context, studyID, modalityID uuid.UUID, name string, createdAt time.Time) (*Series, error) {
	q := r.conn(ctx)

	lookup := func() (*Series, error) {
		var s Series
		err := q.QueryRow(ctx,
			`SELECT id, study_id, modality_id, name, created_at FROM series WHERE name = $1 AND study_id = $2`,
			name, studyID).
			Scan(&s.ID, &s.StudyID, &s.ModalityID, &s.Name, &s.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &s, nil
	}

	s, err := lookup()
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup series %q: %w", name, err)
	}

	id := uuid.New()
	tag, err := q.Exec(ctx,
		`INSERT INTO series (id, study_id, modality_id, name, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (name, study_id) DO NOTHING`,
		id, studyID, modalityID, name, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert series %q: %w", name, err)
	}
	if tag.RowsAffected() == 1 {
		return &Series{ID: id, StudyID: studyID, ModalityID: modalityID, Name: name, CreatedAt: createdAt}, nil
	}

	s, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("re-lookup series %q after conflict: %w", name, err)
	}
	return s, nil
}

func (r *repoPG) FindOrCreateFile(ctx context.Context, seriesID uuid.UUID, fileName, filePath string, createdAt time.Time) (*File, error) {
	q := r.conn(ctx)

	lookup := func() (*File, error) {
		var f File
		err := q.QueryRow(ctx,
			`SELECT id, series_id, file_name, file_path, created_at FROM files WHERE file_name = $1 AND series_id = $2`,
			fileName, seriesID).
			Scan(&f.ID, &f.SeriesID, &f.FileName, &f.FilePath, &f.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &f, nil
	}

	f, err := lookup()
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup file %q: %w", fileName, err)
	}

	id := uuid.New()
	tag, err := q.Exec(ctx,
		`INSERT INTO files (id, series_id, file_name, file_path, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (file_name, series_id) DO NOTHING`,
		id, seriesID, fileName, filePath, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert file %q: %w", fileName, err)
	}
	if tag.RowsAffected() == 1 {
		return &File{ID: id, SeriesID: seriesID, FileName: fileName, FilePath: filePath, CreatedAt: createdAt}, nil
	}

	f, err = lookup()
	if err != nil {
		return nil, fmt.Errorf("re-lookup file %q after conflict: %w", fileName, err)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (r *repoPG) ListPatients(ctx context.Context) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM patients ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &p)
	}
	return items, rows.Err()
}

func (r *repoPG) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoPG) GetStudy(ctx context.Context, id uuid.UUID) (*Study, error) {
	var s Study
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, patient_id, name, created_at FROM studies WHERE id = $1`, id).
		Scan(&s.ID, &s.PatientID, &s.Name, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	var s Series
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, study_id, modality_id, name, created_at FROM series WHERE id = $1`, id).
		Scan(&s.ID, &s.StudyID, &s.ModalityID, &s.Name, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repoPG) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	var f File
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, series_id, file_name, file_path, created_at FROM files WHERE id = $1`, id).
		Scan(&f.ID, &f.SeriesID, &f.FileName, &f.FilePath, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *repoPG) GetModality(ctx context.Context, id uuid.UUID) (*Modality, error) {
	var m Modality
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name FROM modalities WHERE id = $1`, id).
		Scan(&m.ID, &m.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) ListModalities(ctx context.Context) ([]*Modality, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name FROM modalities ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Modality
	for rows.Next() {
		var m Modality
		if err := rows.Scan(&m.ID, &m.Name); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}

func (r *repoPG) ListStudiesByPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, patient_id, name, created_at FROM studies WHERE patient_id = $1 ORDER BY created_at`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Study
	for rows.Next() {
		var s Study
		if err := rows.Scan(&s.ID, &s.PatientID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *repoPG) ListSeriesByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, study_id, modality_id, name, created_at FROM series WHERE study_id = $1 ORDER BY created_at`,
		studyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Series
	for rows.Next() {
		var s Series
		if err := rows.Scan(&s.ID, &s.StudyID, &s.ModalityID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *repoPG) ListFilesBySeries(ctx context.Context, seriesID uuid.UUID) ([]*File, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, series_id, file_name, file_path, created_at FROM files WHERE series_id = $1 ORDER BY created_at`,
		seriesID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.SeriesID, &f.FileName, &f.FilePath, &f.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &f)
	}
	return items, rows.Err()
}

// ---------------------------------------------------------------------------
// Deletes
// ---------------------------------------------------------------------------

func (r *repoPG) deleteByID(ctx context.Context, table string, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Child rows go with the parent via the schema's ON DELETE CASCADE rules.
func (r *repoPG) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, "patients", id)
}

func (r *repoPG) DeleteStudy(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, "studies", id)
}

func (r *repoPG) DeleteSeries(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, "series", id)
}

func (r *repoPG) DeleteFile(ctx context.Context, id uuid.UUID) error {
	return r.deleteByID(ctx, "files", id)
}
