package filestore

import (
	"context"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/admin"
)

const adminFile = "admin.json"

func (s *Store) GetPairing(_ context.Context) (admin.Pairing, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	var doc adminDoc
	if err := readJSON(s.path(adminFile), &doc); err != nil {
		return admin.Pairing{}, apperr.Wrap(apperr.KindStore, "load admin pairing", err)
	}
	return doc.Admin, nil
}

func (s *Store) SetPairing(_ context.Context, p admin.Pairing) error {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	doc := adminDoc{Admin: p}
	if err := atomicWriteJSON(s.path(adminFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist admin pairing", err)
	}
	return nil
}

// ImportLegacyApprovals reads a legacy "approvals" collection, if present,
// and folds any pairing information it carries into the current admin
// document on first startup. Per spec.md §9's open question, this module
// treats the legacy file purely as a one-time import source, never as a
// second live collection.
func (s *Store) ImportLegacyApprovals(ctx context.Context, legacyPath string) error {
	type legacyDoc struct {
		AdminChatID string `json:"admin_chat_id"`
	}
	var legacy legacyDoc
	if err := readJSON(legacyPath, &legacy); err != nil {
		return apperr.Wrap(apperr.KindStore, "read legacy approvals", err)
	}
	if legacy.AdminChatID == "" {
		return nil
	}
	current, err := s.GetPairing(ctx)
	if err != nil {
		return err
	}
	if current.Paired() {
		return nil // never overwrite a pairing established under the new scheme
	}
	current.ChatID = legacy.AdminChatID
	return s.SetPairing(ctx, current)
}
