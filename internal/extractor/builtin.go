package extractor

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Builtin parses the stored DICOM file in-process, skipping pixel data so only
// the header is read. It removes the external-tool dependency for deployments
// that do not need a custom extraction script.
type Builtin struct{}

func NewBuiltin() *Builtin { return &Builtin{} }

func (b *Builtin) Extract(ctx context.Context, absPath string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open stored file: %v", ErrBadMetadata, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat stored file: %v", ErrBadMetadata, err)
	}

	ds, err := dicom.Parse(f, info.Size(), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("%w: parse DICOM header: %v", ErrBadMetadata, err)
	}

	rec := &Record{
		Modality:          stringByTag(&ds, tag.Modality),
		PatientName:       stringByTag(&ds, tag.PatientName),
		StudyDescription:  stringByTag(&ds, tag.StudyDescription),
		StudyDate:         stringByTag(&ds, tag.StudyDate),
		StudyTime:         stringByTag(&ds, tag.StudyTime),
		SeriesDescription: stringByTag(&ds, tag.SeriesDescription),
		SeriesDate:        stringByTag(&ds, tag.SeriesDate),
		SeriesTime:        stringByTag(&ds, tag.SeriesTime),
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// stringByTag extracts the first string value for the given tag, trimmed of
// the padding DICOM string values carry.
func stringByTag(ds *dicom.Dataset, t tag.Tag) string {
	if ds == nil {
		return ""
	}
	el, err := ds.FindElementByTag(t)
	if err != nil || el == nil {
		return ""
	}
	vals := dicom.MustGetStrings(el.Value)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
