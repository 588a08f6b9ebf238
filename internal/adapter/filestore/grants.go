package filestore

import (
	"context"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/grant"
)

const grantsFile = "grants.json"

func (s *Store) loadGrants() (grantsDoc, error) {
	var doc grantsDoc
	if err := readJSON(s.path(grantsFile), &doc); err != nil {
		return grantsDoc{}, apperr.Wrap(apperr.KindStore, "load grants", err)
	}
	return doc, nil
}

func (s *Store) CreateGrant(_ context.Context, g *grant.Grant) error {
	s.grantMu.Lock()
	defer s.grantMu.Unlock()

	if g.ID == "" {
		g.ID = newID()
	}
	doc, err := s.loadGrants()
	if err != nil {
		return err
	}
	doc.Grants = prepend(doc.Grants, g)
	if err := atomicWriteJSON(s.path(grantsFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist grant", err)
	}
	return nil
}

func (s *Store) GetGrant(_ context.Context, id string) (*grant.Grant, error) {
	s.grantMu.Lock()
	defer s.grantMu.Unlock()

	doc, err := s.loadGrants()
	if err != nil {
		return nil, err
	}
	for _, g := range doc.Grants {
		if g.ID == id {
			return g, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *Store) ListGrants(_ context.Context, limit int) ([]*grant.Grant, error) {
	s.grantMu.Lock()
	defer s.grantMu.Unlock()

	doc, err := s.loadGrants()
	if err != nil {
		return nil, err
	}
	n := clampLimit(limit, len(doc.Grants))
	return doc.Grants[:n], nil
}

func (s *Store) RemoveGrant(_ context.Context, id string) error {
	s.grantMu.Lock()
	defer s.grantMu.Unlock()

	doc, err := s.loadGrants()
	if err != nil {
		return err
	}
	kept := doc.Grants[:0]
	found := false
	for _, g := range doc.Grants {
		if g.ID == id {
			found = true
			continue
		}
		kept = append(kept, g)
	}
	if !found {
		return apperr.ErrNotFound
	}
	doc.Grants = kept
	if err := atomicWriteJSON(s.path(grantsFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist grant removal", err)
	}
	return nil
}
