package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// Command invokes an external extraction tool with a single argument, the
// absolute path of the stored file, and reads one JSON record from stdout.
// The tool is untrusted: a non-zero exit status or any diagnostic output on
// stderr is a failure regardless of what was written to stdout, and stdout is
// never parsed before the process has exited cleanly.
type Command struct {
	// Path is the executable to run (e.g. "/usr/local/bin/dicom-extract" or
	// a wrapper around a pydicom script).
	Path string
	// Timeout bounds a single invocation; a tool that never returns must not
	// hang the pipeline.
	Timeout time.Duration
}

func NewCommand(path string, timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Command{Path: path, Timeout: timeout}
}

// commandOutput is the wire shape of the tool's stdout. Tools report their own
// failures as {"error": "..."} with a zero exit status, so the error field is
// checked before the metadata fields.
type commandOutput struct {
	Record
	Error string `json:"error"`
}

func (c *Command) Extract(ctx context.Context, absPath string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Path, absPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: extractor timed out after %s", ErrBadMetadata, c.Timeout)
		}
		return nil, fmt.Errorf("%w: extractor exited abnormally: %v", ErrBadMetadata, err)
	}
	if stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: extractor wrote diagnostics: %s", ErrBadMetadata, stderr.String())
	}

	var out commandOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("%w: malformed extractor output: %v", ErrBadMetadata, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: extractor reported: %s", ErrBadMetadata, out.Error)
	}

	rec := out.Record
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}
