package hierarchy

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

// Mem is an in-memory Repository with the same semantics as the Postgres
// implementation: natural-key deduplication, first-write-wins on descriptive
// fields, cascading deletes, and all-or-nothing InTx (state is snapshotted at
// transaction start and restored on error). Transactions are serialized on one
// mutex, which also stands in for the database's uniqueness enforcement.
type Mem struct {
	mu sync.Mutex

	modalities map[uuid.UUID]*Modality
	patients   map[uuid.UUID]*Patient
	studies    map[uuid.UUID]*Study
	series     map[uuid.UUID]*Series
	files      map[uuid.UUID]*File

	// Failure injection for orchestrator tests: when set, the matching
	// find-or-create returns the error on a lookup miss.
	ModalityErr error
	PatientErr  error
	StudyErr    error
	SeriesErr   error
	FileErr     error
}

func NewMem() *Mem {
	return &Mem{
		modalities: make(map[uuid.UUID]*Modality),
		patients:   make(map[uuid.UUID]*Patient),
		studies:    make(map[uuid.UUID]*Study),
		series:     make(map[uuid.UUID]*Series),
		files:      make(map[uuid.UUID]*File),
	}
}

// lock acquires the store mutex unless ctx is already inside an InTx call,
// which holds it for the whole transaction.
func (m *Mem) lock(ctx context.Context) func() {
	if ctx.Value(memTxKey{}) != nil {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *Mem) snapshot() (map[uuid.UUID]*Modality, map[uuid.UUID]*Patient, map[uuid.UUID]*Study, map[uuid.UUID]*Series, map[uuid.UUID]*File) {
	mod := make(map[uuid.UUID]*Modality, len(m.modalities))
	for k, v := range m.modalities {
		cp := *v
		mod[k] = &cp
	}
	pat := make(map[uuid.UUID]*Patient, len(m.patients))
	for k, v := range m.patients {
		cp := *v
		pat[k] = &cp
	}
	st := make(map[uuid.UUID]*Study, len(m.studies))
	for k, v := range m.studies {
		cp := *v
		st[k] = &cp
	}
	se := make(map[uuid.UUID]*Series, len(m.series))
	for k, v := range m.series {
		cp := *v
		se[k] = &cp
	}
	fi := make(map[uuid.UUID]*File, len(m.files))
	for k, v := range m.files {
		cp := *v
		fi[k] = &cp
	}
	return mod, pat, st, se, fi
}

func (m *Mem) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mod, pat, st, se, fi := m.snapshot()

	if err := fn(context.WithValue(ctx, memTxKey{}, struct{}{})); err != nil {
		m.modalities, m.patients, m.studies, m.series, m.files = mod, pat, st, se, fi
		return err
	}
	return nil
}

func (m *Mem) FindOrCreateModality(ctx context.Context, name string) (*Modality, error) {
	defer m.lock(ctx)()
	for _, v := range m.modalities {
		if v.Name == name {
			out := *v
			return &out, nil
		}
	}
	if m.ModalityErr != nil {
		return nil, m.ModalityErr
	}
	v := &Modality{ID: uuid.New(), Name: name}
	m.modalities[v.ID] = v
	out := *v
	return &out, nil
}

func (m *Mem) FindOrCreatePatient(ctx context.Context, name string, createdAt time.Time) (*Patient, error) {
	defer m.lock(ctx)()
	for _, v := range m.patients {
		if v.Name == name {
			out := *v
			return &out, nil
		}
	}
	if m.PatientErr != nil {
		return nil, m.PatientErr
	}
	v := &Patient{ID: uuid.New(), Name: name, CreatedAt: createdAt}
	m.patients[v.ID] = v
	out := *v
	return &out, nil
}

func (m *Mem) FindOrCreateStudy(ctx context.Context, patientID uuid.UUID, name string, createdAt time.Time) (*Study, error) {
	defer m.lock(ctx)()
	for _, v := range m.studies {
		if v.Name == name && v.PatientID == patientID {
			out := *v
			return &out, nil
		}
	}
	if m.StudyErr != nil {
		return nil, m.StudyErr
	}
	v := &Study{ID: uuid.New(), PatientID: patientID, Name: name, CreatedAt: createdAt}
	m.studies[v.ID] = v
	out := *v
	return &out, nil
}

func (m *Mem) FindOrCreateSeries(ctx context.Context, studyID, modalityID uuid.UUID, name string, createdAt time.Time) (*Series, error) {
	defer m.lock(ctx)()
	for _, v := range m.series {
		if v.Name == name && v.StudyID == studyID {
			out := *v
			return &out, nil
		}
	}
	if m.SeriesErr != nil {
		return nil, m.SeriesErr
	}
	v := &Series{ID: uuid.New(), StudyID: studyID, ModalityID: modalityID, Name: name, CreatedAt: createdAt}
	m.series[v.ID] = v
	out := *v
	return &out, nil
}

func (m *Mem) FindOrCreateFile(ctx context.Context, seriesID uuid.UUID, fileName, filePath string, createdAt time.Time) (*File, error) {
	defer m.lock(ctx)()
	for _, v := range m.files {
		if v.FileName == fileName && v.SeriesID == seriesID {
			out := *v
			return &out, nil
		}
	}
	if m.FileErr != nil {
		return nil, m.FileErr
	}
	v := &File{ID: uuid.New(), SeriesID: seriesID, FileName: fileName, FilePath: filePath, CreatedAt: createdAt}
	m.files[v.ID] = v
	out := *v
	return &out, nil
}

func (m *Mem) ListPatients(ctx context.Context) ([]*Patient, error) {
	defer m.lock(ctx)()
	var items []*Patient
	for _, v := range m.patients {
		out := *v
		items = append(items, &out)
	}
	return items, nil
}

func (m *Mem) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	defer m.lock(ctx)()
	v, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *Mem) GetStudy(ctx context.Context, id uuid.UUID) (*Study, error) {
	defer m.lock(ctx)()
	v, ok := m.studies[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *Mem) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	defer m.lock(ctx)()
	v, ok := m.series[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *Mem) GetFile(ctx context.Context, id uuid.UUID) (*File, error) {
	defer m.lock(ctx)()
	v, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *Mem) GetModality(ctx context.Context, id uuid.UUID) (*Modality, error) {
	defer m.lock(ctx)()
	v, ok := m.modalities[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

func (m *Mem) ListModalities(ctx context.Context) ([]*Modality, error) {
	defer m.lock(ctx)()
	var items []*Modality
	for _, v := range m.modalities {
		out := *v
		items = append(items, &out)
	}
	return items, nil
}

func (m *Mem) ListStudiesByPatient(ctx context.Context, patientID uuid.UUID) ([]*Study, error) {
	defer m.lock(ctx)()
	var items []*Study
	for _, v := range m.studies {
		if v.PatientID == patientID {
			out := *v
			items = append(items, &out)
		}
	}
	return items, nil
}

func (m *Mem) ListSeriesByStudy(ctx context.Context, studyID uuid.UUID) ([]*Series, error) {
	defer m.lock(ctx)()
	var items []*Series
	for _, v := range m.series {
		if v.StudyID == studyID {
			out := *v
			items = append(items, &out)
		}
	}
	return items, nil
}

func (m *Mem) ListFilesBySeries(ctx context.Context, seriesID uuid.UUID) ([]*File, error) {
	defer m.lock(ctx)()
	var items []*File
	for _, v := range m.files {
		if v.SeriesID == seriesID {
			out := *v
			items = append(items, &out)
		}
	}
	return items, nil
}

func (m *Mem) DeletePatient(ctx context.Context, id uuid.UUID) error {
	defer m.lock(ctx)()
	if _, ok := m.patients[id]; !ok {
		return ErrNotFound
	}
	delete(m.patients, id)
	for sid, s := range m.studies {
		if s.PatientID == id {
			m.deleteStudyLocked(sid)
		}
	}
	return nil
}

func (m *Mem) DeleteStudy(ctx context.Context, id uuid.UUID) error {
	defer m.lock(ctx)()
	if _, ok := m.studies[id]; !ok {
		return ErrNotFound
	}
	m.deleteStudyLocked(id)
	return nil
}

func (m *Mem) deleteStudyLocked(id uuid.UUID) {
	delete(m.studies, id)
	for sid, s := range m.series {
		if s.StudyID == id {
			m.deleteSeriesLocked(sid)
		}
	}
}

func (m *Mem) DeleteSeries(ctx context.Context, id uuid.UUID) error {
	defer m.lock(ctx)()
	if _, ok := m.series[id]; !ok {
		return ErrNotFound
	}
	m.deleteSeriesLocked(id)
	return nil
}

func (m *Mem) deleteSeriesLocked(id uuid.UUID) {
	delete(m.series, id)
	for fid, f := range m.files {
		if f.SeriesID == id {
			delete(m.files, fid)
		}
	}
}

func (m *Mem) DeleteFile(ctx context.Context, id uuid.UUID) error {
	defer m.lock(ctx)()
	if _, ok := m.files[id]; !ok {
		return ErrNotFound
	}
	delete(m.files, id)
	return nil
}
