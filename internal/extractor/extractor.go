// Package extractor defines the metadata-extraction boundary of the ingestion
// pipeline. An Extractor is handed the absolute path of a fully stored file
// and must produce a complete Record or fail. Two implementations exist:
// Command shells out to an external tool (the deployment default), Builtin
// parses the DICOM header in-process.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBadMetadata marks every failure of the extraction step: a tool that
// would not run, incomplete output, or malformed date/time fields. The
// orchestrator translates it to its ExtractFailed terminal state.
var ErrBadMetadata = errors.New("could not extract complete metadata")

// Record is the structured metadata an extractor must return. All fields are
// required; dates are DICOM DA strings (YYYYMMDD) and times DICOM TM strings
// (HHMMSS, fractional seconds ignored).
type Record struct {
	Modality          string `json:"Modality"`
	PatientName       string `json:"PatientName"`
	StudyDescription  string `json:"StudyDescription"`
	StudyDate         string `json:"StudyDate"`
	StudyTime         string `json:"StudyTime"`
	SeriesDescription string `json:"SeriesDescription"`
	SeriesDate        string `json:"SeriesDate"`
	SeriesTime        string `json:"SeriesTime"`
}

// Extractor produces a validated Record for a stored file.
type Extractor interface {
	Extract(ctx context.Context, absPath string) (*Record, error)
}

// Validate checks that every field is present and that the date/time pairs
// parse. A Record that passes Validate is safe to commit.
func (r *Record) Validate() error {
	fields := map[string]string{
		"Modality":          r.Modality,
		"PatientName":       r.PatientName,
		"StudyDescription":  r.StudyDescription,
		"StudyDate":         r.StudyDate,
		"StudyTime":         r.StudyTime,
		"SeriesDescription": r.SeriesDescription,
		"SeriesDate":        r.SeriesDate,
		"SeriesTime":        r.SeriesTime,
	}
	for name, v := range fields {
		if v == "" {
			return fmt.Errorf("%w: missing field %s", ErrBadMetadata, name)
		}
	}
	if _, err := combineDateTime(r.StudyDate, r.StudyTime); err != nil {
		return fmt.Errorf("%w: study timestamp: %v", ErrBadMetadata, err)
	}
	if _, err := combineDateTime(r.SeriesDate, r.SeriesTime); err != nil {
		return fmt.Errorf("%w: series timestamp: %v", ErrBadMetadata, err)
	}
	return nil
}

// StudyTimestamp combines StudyDate and StudyTime into one timestamp.
func (r *Record) StudyTimestamp() (time.Time, error) {
	return combineDateTime(r.StudyDate, r.StudyTime)
}

// SeriesTimestamp combines SeriesDate and SeriesTime into one timestamp.
func (r *Record) SeriesTimestamp() (time.Time, error) {
	return combineDateTime(r.SeriesDate, r.SeriesTime)
}

// combineDateTime merges a YYYYMMDD date and HHMMSS time into a UTC timestamp.
// DICOM TM values may carry a fractional-seconds suffix ("093000.123456"),
// which is dropped. Anything else past the sixth character is an error,
// never a defaulted value.
func combineDateTime(date, tm string) (time.Time, error) {
	if len(date) != 8 {
		return time.Time{}, fmt.Errorf("date %q is not YYYYMMDD", date)
	}
	if len(tm) > 6 {
		if tm[6] != '.' || !allDigits(tm[7:]) {
			return time.Time{}, fmt.Errorf("time %q is not HHMMSS with optional fraction", tm)
		}
		tm = tm[:6]
	}
	if len(tm) != 6 {
		return time.Time{}, fmt.Errorf("time %q is not HHMMSS", tm)
	}
	ts, err := time.ParseInLocation("20060102150405", date+tm, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q %q: %v", date, tm, err)
	}
	return ts, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
