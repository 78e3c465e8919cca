package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditRecord is one provider call, persisted verbatim so enrichment
// output can always be traced back to what was sent and received.
type AuditRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model,omitempty"`
	Temperature      float64   `json:"temperature,omitempty"`
	PromptHash       string    `json:"prompt_hash"`
	InputEvidenceIDs []string  `json:"input_evidence_ids,omitempty"`
	Request          string    `json:"request"`
	Response         string    `json:"response,omitempty"`
	Error            string    `json:"error,omitempty"`
}

// AuditLog is an append-only JSONL file of provider calls.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog opens (creating directories as needed) an audit log at path.
func NewAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("audit log dir: %w", err)
		}
	}
	return &AuditLog{path: path}, nil
}

// Append writes one record as a JSON line. Records are never rewritten.
func (l *AuditLog) Append(rec AuditRecord) error {
	if l == nil {
		return nil
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.PromptHash == "" {
		rec.PromptHash = PromptHash(rec.Request)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit log write: %w", err)
	}
	return nil
}

// PromptHash fingerprints a prompt for the audit trail.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
