// Package ingest drives a single upload from raw bytes to a committed
// hierarchy entry. The pipeline is strictly linear:
//
//	Received → Stored → Extracted → Committed
//
// with terminal failure exits StoreFailed, ExtractFailed and CommitFailed.
// No state is re-entered; a retry is a new invocation with the same input.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/dicomvault/dicomvault/internal/domain/hierarchy"
	"github.com/dicomvault/dicomvault/internal/extractor"
	"github.com/dicomvault/dicomvault/internal/platform/contentstore"
)

// FailureKind identifies which pipeline step failed.
type FailureKind string

const (
	StoreFailed   FailureKind = "store_failed"
	ExtractFailed FailureKind = "extract_failed"
	CommitFailed  FailureKind = "commit_failed"
)

var (
	ErrStoreFailed   = errors.New("could not persist uploaded bytes")
	ErrExtractFailed = errors.New("could not extract metadata from uploaded file")
	ErrCommitFailed  = errors.New("could not commit hierarchy entry")
	ErrEmptyFileName = errors.New("file name is required")
)

// Failure is the typed terminal error returned by Ingest. It wraps the step's
// sentinel so callers can branch with errors.Is, and carries the underlying
// cause for the human-readable message.
type Failure struct {
	Kind  FailureKind
	cause error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Kind, f.cause)
}

// Unwrap exposes both the step sentinel and the underlying cause, so
// errors.Is matches either (e.g. ErrStoreFailed and contentstore.ErrFileTooLarge).
func (f *Failure) Unwrap() []error {
	var sentinel error
	switch f.Kind {
	case StoreFailed:
		sentinel = ErrStoreFailed
	case ExtractFailed:
		sentinel = ErrExtractFailed
	default:
		sentinel = ErrCommitFailed
	}
	return []error{sentinel, f.cause}
}

// Cause returns the underlying step error.
func (f *Failure) Cause() error { return f.cause }

func fail(kind FailureKind, cause error) *Failure {
	return &Failure{Kind: kind, cause: cause}
}

// KindOf extracts the FailureKind from an Ingest error, or "" if err is not a
// pipeline failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Result reports the committed entity chain for one successful ingestion.
type Result struct {
	File     *hierarchy.File     `json:"file"`
	Series   *hierarchy.Series   `json:"series"`
	Study    *hierarchy.Study    `json:"study"`
	Patient  *hierarchy.Patient  `json:"patient"`
	Modality *hierarchy.Modality `json:"modality"`
}

// Clock abstracts time for tests; it stamps Patient and File creation times
// (Study and Series timestamps come from the extracted metadata).
type Clock func() time.Time

// Ingestor coordinates content store, extractor and hierarchy repository.
// Each call to Ingest is independent; concurrent ingestions coordinate only
// through the transactional database.
type Ingestor struct {
	store     contentstore.Store
	extractor extractor.Extractor
	repo      hierarchy.Repository
	logger    zerolog.Logger
	now       Clock
}

func NewIngestor(store contentstore.Store, ex extractor.Extractor, repo hierarchy.Repository, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		store:     store,
		extractor: ex,
		repo:      repo,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the timestamp source (tests only).
func (ing *Ingestor) SetClock(c Clock) { ing.now = c }

// Ingest runs the pipeline for one upload. On success exactly one File row
// exists whose ancestors are consistent with the extracted metadata and the
// content store holds the original bytes. On failure the returned error is a
// *Failure; no partial hierarchy state is ever visible to readers.
//
// Cancellation via ctx is honored up to the point the repository transaction
// opens; from there the transaction always runs to commit or rollback.
func (ing *Ingestor) Ingest(ctx context.Context, fileName string, r io.Reader) (*Result, error) {
	if fileName == "" {
		return nil, fail(StoreFailed, ErrEmptyFileName)
	}

	log := ing.logger.With().Str("file_name", fileName).Logger()
	log.Info().Msg("ingest received")

	// Received → Stored. The store guarantees the file is fully and durably
	// written before we hand its path to the extractor.
	path, err := ing.store.Put(ctx, fileName, r)
	if err != nil {
		log.Error().Err(err).Msg("ingest store failed")
		return nil, fail(StoreFailed, err)
	}
	log.Debug().Str("path", path).Msg("ingest stored")

	// Stored → Extracted. On failure the stored file is retained for
	// diagnostics, not rolled back.
	rec, err := ing.extractor.Extract(ctx, ing.store.Abs(path))
	if err != nil {
		log.Error().Err(err).Msg("ingest extract failed")
		return nil, fail(ExtractFailed, err)
	}

	studyAt, err := rec.StudyTimestamp()
	if err != nil {
		log.Error().Err(err).Msg("ingest extract failed")
		return nil, fail(ExtractFailed, err)
	}
	seriesAt, err := rec.SeriesTimestamp()
	if err != nil {
		log.Error().Err(err).Msg("ingest extract failed")
		return nil, fail(ExtractFailed, err)
	}
	log.Debug().
		Str("modality", rec.Modality).
		Str("patient", rec.PatientName).
		Msg("ingest extracted")

	// Extracted → Committed. Last cancellation check before the transaction
	// opens; after this point the transaction is shielded from client
	// disconnects so it can never be abandoned half-open. No commit was
	// attempted yet, so this is not a CommitFailed.
	if err := ctx.Err(); err != nil {
		log.Warn().Err(err).Msg("ingest cancelled before commit")
		return nil, fmt.Errorf("ingestion cancelled before commit: %w", err)
	}
	txCtx := context.WithoutCancel(ctx)

	now := ing.now().UTC()
	var res Result
	err = ing.repo.InTx(txCtx, func(ctx context.Context) error {
		mod, err := ing.repo.FindOrCreateModality(ctx, rec.Modality)
		if err != nil {
			return fmt.Errorf("modality: %w", err)
		}
		pat, err := ing.repo.FindOrCreatePatient(ctx, rec.PatientName, now)
		if err != nil {
			return fmt.Errorf("patient: %w", err)
		}
		study, err := ing.repo.FindOrCreateStudy(ctx, pat.ID, rec.StudyDescription, studyAt)
		if err != nil {
			return fmt.Errorf("study: %w", err)
		}
		series, err := ing.repo.FindOrCreateSeries(ctx, study.ID, mod.ID, rec.SeriesDescription, seriesAt)
		if err != nil {
			return fmt.Errorf("series: %w", err)
		}
		// A lookup hit here means the same (file name, series) was ingested
		// before: the existing row and its first-write path win.
		file, err := ing.repo.FindOrCreateFile(ctx, series.ID, fileName, path, now)
		if err != nil {
			return fmt.Errorf("file: %w", err)
		}

		res = Result{File: file, Series: series, Study: study, Patient: pat, Modality: mod}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("ingest commit failed")
		return nil, fail(CommitFailed, err)
	}

	log.Info().
		Str("file_id", res.File.ID.String()).
		Str("patient_id", res.Patient.ID.String()).
		Msg("ingest committed")
	return &res, nil
}
