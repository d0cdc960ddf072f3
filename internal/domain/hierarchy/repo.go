package hierarchy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("hierarchy entity not found")

// Repository provides idempotent find-or-create primitives over the entity
// tree plus the reads the query side needs. All find-or-create calls for one
// ingestion must run inside a single InTx transaction; a lookup hit ignores
// the supplied createdAt/path arguments (first-write-wins on descriptive
// metadata), a miss creates the row with them.
type Repository interface {
	// InTx runs fn inside one transaction. The context passed to fn carries
	// the transaction; if fn returns an error the transaction is rolled back,
	// otherwise it is committed.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	FindOrCreateModality(ctx context.Context, name string) (*Modality, error)
	FindOrCreatePatient(ctx context.Context, name string, createdAt time.Time) (*Patient, error)
	FindOrCreateStudy(ctx context.Context, patientID uuid.UUID, name string, createdAt time.Time) (*Study, error)
	FindOrCreateSeries(ctx context.Context, studyID, modalityID uuid.UUID, name string, createdAt time.Time) (*Series, error)
	FindOrCreateFile(ctx context.Context, seriesID uuid.UUID, fileName, filePath string, createdAt time.Time) (*File, error)

	ListPatients(ctx context.Context) ([]*Patient, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetStudy(ctx context.Context, id uuid.UUID) (*Study, error)
	GetSeries(ctx context.Context, id uuid.UUID) (*Series, error)
	GetFile(ctx context.Context, id uuid.UUID) (*File, error)
	GetModality(ctx context.Context, id uuid.UUID) (*Modality, error)
	ListModalities(ctx context.Context) ([]*Modality, error)
	ListStudiesByPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error)
	ListSeriesByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error)
	ListFilesBySeries(ctx context.Context, seriesID uuid.UUID) ([]*File, error)

	// Deletes serve the management boundary; child rows are removed by the
	// schema's cascade rules, not by application code re-walking the tree.
	DeletePatient(ctx context.Context, id uuid.UUID) error
	DeleteStudy(ctx context.Context, id uuid.UUID) error
	DeleteSeries(ctx context.Context, id uuid.UUID) error
	DeleteFile(ctx context.Context, id uuid.UUID) error
}
