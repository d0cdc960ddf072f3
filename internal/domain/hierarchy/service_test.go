package hierarchy

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestService_GetPatientExpandsTree(t *testing.T) {
	m := NewMem()
	p, st, se, f, mod := seedChain(t, m)
	svc := NewService(m)

	got, err := svc.GetPatient(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(got.Studies) != 1 || got.Studies[0].ID != st.ID {
		t.Fatalf("expected one study %s, got %+v", st.ID, got.Studies)
	}
	series := got.Studies[0].Series
	if len(series) != 1 || series[0].ID != se.ID {
		t.Fatalf("expected one series %s, got %+v", se.ID, series)
	}
	if series[0].Modality == nil || series[0].Modality.ID != mod.ID {
		t.Error("expected series expanded with its modality")
	}
	files := series[0].Files
	if len(files) != 1 || files[0].ID != f.ID {
		t.Fatalf("expected one file %s, got %+v", f.ID, files)
	}
}

func TestService_ListPatientsExpandsEachTree(t *testing.T) {
	m := NewMem()
	seedChain(t, m)
	ctx := context.Background()

	// A second patient with no studies still lists, with an empty subtree.
	if _, err := m.FindOrCreatePatient(ctx, "John Roe", t0); err != nil {
		t.Fatalf("patient: %v", err)
	}

	svc := NewService(m)
	patients, err := svc.ListPatients(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(patients))
	}
	for _, p := range patients {
		switch p.Name {
		case "Jane Doe":
			if len(p.Studies) != 1 {
				t.Errorf("expected Jane Doe with one study, got %d", len(p.Studies))
			}
		case "John Roe":
			if len(p.Studies) != 0 {
				t.Errorf("expected John Roe with no studies, got %d", len(p.Studies))
			}
		default:
			t.Errorf("unexpected patient %s", p.Name)
		}
	}
}

func TestService_GetFileChain(t *testing.T) {
	m := NewMem()
	p, st, se, f, mod := seedChain(t, m)
	svc := NewService(m)

	chain, err := svc.GetFileChain(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chain.File.ID != f.ID || chain.Series.ID != se.ID ||
		chain.Study.ID != st.ID || chain.Patient.ID != p.ID ||
		chain.Modality.ID != mod.ID {
		t.Error("expected the chain to resolve every ancestor of the file")
	}
}

func TestService_GetFileChainNotFound(t *testing.T) {
	svc := NewService(NewMem())
	if _, err := svc.GetFileChain(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
