// Package hierarchy holds the Patient → Study → Series → File containment tree
// plus the Modality lookup referenced by Series, and the idempotent
// find-or-create repository the ingestion pipeline commits through. Ownership
// is one-directional: a child row carries its parent's identifier and nothing
// holds live object references up or down the tree.
package hierarchy

import (
	"time"

	"github.com/google/uuid"
)

// Modality is an imaging modality ("CT", "MR", ...), deduplicated by name.
type Modality struct {
	ID   uuid.UUID `db:"id" json:"id"`
	Name string    `db:"name" json:"name"`
}

// Patient is the root of the tree, deduplicated by name.
type Patient struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Studies []*Study `db:"-" json:"studies,omitempty"`
}

// Study belongs to exactly one Patient; (name, patient_id) is its natural key.
// CreatedAt carries the study timestamp reconstructed from the extracted
// StudyDate/StudyTime and is set once, on first creation.
type Study struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PatientID uuid.UUID `db:"patient_id" json:"patient_id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Series []*Series `db:"-" json:"series,omitempty"`
}

// Series belongs to exactly one Study and references exactly one Modality;
// (name, study_id) is its natural key.
type Series struct {
	ID         uuid.UUID `db:"id" json:"id"`
	StudyID    uuid.UUID `db:"study_id" json:"study_id"`
	ModalityID uuid.UUID `db:"modality_id" json:"modality_id"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`

	Modality *Modality `db:"-" json:"modality,omitempty"`
	Files    []*File   `db:"-" json:"files,omitempty"`
}

// File is a stored upload; (file_name, series_id) is its natural key and
// FilePath is the content-store path of the original bytes.
type File struct {
	ID        uuid.UUID `db:"id" json:"id"`
	SeriesID  uuid.UUID `db:"series_id" json:"series_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FilePath  string    `db:"file_path" json:"file_path"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FileChain is a File with its fully resolved ancestry, served by the read
// model so clients never see a dangling reference.
type FileChain struct {
	File     *File     `json:"file"`
	Series   *Series   `json:"series"`
	Study    *Study    `json:"study"`
	Patient  *Patient  `json:"patient"`
	Modality *Modality `json:"modality"`
}
