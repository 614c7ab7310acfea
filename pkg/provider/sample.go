package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

// SampleProvider serves items from a local JSONL or JSON array file. Runs
// succeed immediately; the file is read when results are fetched.
type SampleProvider struct {
	path string
	runs atomic.Int64
}

// NewSampleProvider creates a provider reading path
func NewSampleProvider(path string) *SampleProvider {
	return &SampleProvider{path: path}
}

// Submit returns an already finished job
func (s *SampleProvider) Submit(ctx context.Context, q Query) (Job, error) {
	id := fmt.Sprintf("sample-%d", s.runs.Add(1))
	return Job{ID: id, Status: Status{State: StateSucceeded, DatasetID: id}}, nil
}

// Poll always reports success
func (s *SampleProvider) Poll(ctx context.Context, jobID string) (Status, error) {
	return Status{State: StateSucceeded, DatasetID: jobID}, nil
}

// FetchResults reads the sample file
func (s *SampleProvider) FetchResults(ctx context.Context, jobID string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeTransient, "read sample file", err)
	}
	return ParseItems(data)
}

// ParseItems accepts a JSON array or one JSON object per line
func ParseItems(data []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, errs.Wrap(errs.ErrorTypeMalformedRecord, "parse sample array", err)
		}
		return items, nil
	}

	var items []json.RawMessage
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		items = append(items, json.RawMessage(append([]byte(nil), line...)))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMalformedRecord, "scan sample lines", err)
	}
	return items, nil
}
