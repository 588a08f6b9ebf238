package filestore

import (
	"bufio"
	"context"
	"encoding/json"
	"os"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/port/store"
)

const auditFile = "audit.log"

// AppendAudit appends one line-delimited JSON record to the audit stream
// (spec.md §4.1: "append-only line-delimited records").
func (s *Store) AppendAudit(_ context.Context, record store.AuditRecord) error {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	data, err := json.Marshal(record)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "marshal audit record", err)
	}

	f, err := os.OpenFile(s.path(auditFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "open audit log", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return apperr.Wrap(apperr.KindStore, "write audit log", err)
	}
	return nil
}

// ListAudit returns the most recent audit records, newest last-write-first.
func (s *Store) ListAudit(_ context.Context, limit int) ([]store.AuditRecord, error) {
	s.auditMu.Lock()
	defer s.auditMu.Unlock()

	f, err := os.Open(s.path(auditFile)) //nolint:gosec // fixed operator-configured path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindStore, "open audit log", err)
	}
	defer f.Close()

	var all []store.AuditRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec store.AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // a partially-written trailing line is tolerated, not fatal
		}
		all = append(all, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "scan audit log", err)
	}

	// newest-first, matching the JSON collections' ordering convention.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	n := clampLimit(limit, len(all))
	return all[:n], nil
}
