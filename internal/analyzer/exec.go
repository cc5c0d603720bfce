package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

// wireRequest is the JSON form handed to the external process on stdin.
type wireRequest struct {
	Phase           string         `json:"phase"`
	Entities        []wireEntity   `json:"entities"`
	Schema          map[string]any `json:"schema"`
	PendingSubjects []string       `json:"pending_subjects"`
}

type wireEntity struct {
	Type        string         `json:"type"`
	ID          string         `json:"id"`
	Path        string         `json:"path"`
	Title       string         `json:"title"`
	Frontmatter map[string]any `json:"frontmatter"`
	Body        string         `json:"body"`
	Malformed   bool           `json:"malformed,omitempty"`
}

// Exec bridges to an external analyzer process (typically an LLM-backed
// script): one JSON request on stdin, a JSON array of findings on stdout.
type Exec struct {
	// Command is the argv of the process to run.
	Command []string
	// Timeout bounds one invocation; zero means no extra bound beyond the
	// caller's context.
	Timeout time.Duration
}

// Analyze runs the external command once for the request.
func (e *Exec) Analyze(ctx context.Context, req Request) ([]Finding, error) {
	if len(e.Command) == 0 {
		return nil, fmt.Errorf("analyzer command not configured")
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("analyzer timed out: %w", ctx.Err())
		}
		return nil, fmt.Errorf("analyzer command: %w (stderr: %s)", err, stderr.String())
	}

	var findings []Finding
	if err := json.Unmarshal(stdout.Bytes(), &findings); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	return findings, nil
}

func encodeRequest(req Request) wireRequest {
	out := wireRequest{
		Phase:           string(req.Phase),
		Schema:          req.Schema.Describe(),
		PendingSubjects: make([]string, 0, len(req.PendingSubjects)),
	}
	for key := range req.PendingSubjects {
		out.PendingSubjects = append(out.PendingSubjects, key)
	}
	sort.Strings(out.PendingSubjects)

	for _, e := range req.Entities {
		out.Entities = append(out.Entities, wireEntity{
			Type:        e.Type,
			ID:          e.ID,
			Path:        e.Path,
			Title:       e.Title(),
			Frontmatter: e.Frontmatter.Map(),
			Body:        e.Body,
			Malformed:   e.Malformed,
		})
	}
	return out
}
