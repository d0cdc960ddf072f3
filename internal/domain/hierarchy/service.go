package hierarchy

import (
	"context"

	"github.com/google/uuid"
)

// Service assembles the containment tree for clients. It is strictly
// read-side plus the management deletes; the only write path into the
// hierarchy is the ingestion orchestrator.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// expandSeries fills a Series' modality and files.
func (s *Service) expandSeries(ctx context.Context, se *Series) error {
	mod, err := s.repo.GetModality(ctx, se.ModalityID)
	if err != nil {
		return err
	}
	se.Modality = mod

	files, err := s.repo.ListFilesBySeries(ctx, se.ID)
	if err != nil {
		return err
	}
	se.Files = files
	return nil
}

// expandStudy fills a Study's series subtree.
func (s *Service) expandStudy(ctx context.Context, st *Study) error {
	series, err := s.repo.ListSeriesByStudy(ctx, st.ID)
	if err != nil {
		return err
	}
	for _, se := range series {
		if err := s.expandSeries(ctx, se); err != nil {
			return err
		}
	}
	st.Series = series
	return nil
}

// expandPatient fills a Patient's study subtree.
func (s *Service) expandPatient(ctx context.Context, p *Patient) error {
	studies, err := s.repo.ListStudiesByPatient(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, st := range studies {
		if err := s.expandStudy(ctx, st); err != nil {
			return err
		}
	}
	p.Studies = studies
	return nil
}

// ListPatients returns every patient with its full subtree.
func (s *Service) ListPatients(ctx context.Context) ([]*Patient, error) {
	patients, err := s.repo.ListPatients(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range patients {
		if err := s.expandPatient(ctx, p); err != nil {
			return nil, err
		}
	}
	return patients, nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expandPatient(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) GetStudy(ctx context.Context, id uuid.UUID) (*Study, error) {
	st, err := s.repo.GetStudy(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expandStudy(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	se, err := s.repo.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.expandSeries(ctx, se); err != nil {
		return nil, err
	}
	return se, nil
}

// GetFileChain resolves a File up through Series, Study, Patient and Modality,
// the query-side traversal of the entity graph.
func (s *Service) GetFileChain(ctx context.Context, id uuid.UUID) (*FileChain, error) {
	f, err := s.repo.GetFile(ctx, id)
	if err != nil {
		return nil, err
	}
	se, err := s.repo.GetSeries(ctx, f.SeriesID)
	if err != nil {
		return nil, err
	}
	st, err := s.repo.GetStudy(ctx, se.StudyID)
	if err != nil {
		return nil, err
	}
	p, err := s.repo.GetPatient(ctx, st.PatientID)
	if err != nil {
		return nil, err
	}
	mod, err := s.repo.GetModality(ctx, se.ModalityID)
	if err != nil {
		return nil, err
	}
	return &FileChain{File: f, Series: se, Study: st, Patient: p, Modality: mod}, nil
}

func (s *Service) ListModalities(ctx context.Context) ([]*Modality, error) {
	return s.repo.ListModalities(ctx)
}

func (s *Service) DeletePatient(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeletePatient(ctx, id)
}

func (s *Service) DeleteStudy(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteStudy(ctx, id)
}

func (s *Service) DeleteSeries(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteSeries(ctx, id)
}

func (s *Service) DeleteFile(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteFile(ctx, id)
}
