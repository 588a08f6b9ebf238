package filestore

import (
	"context"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/policy"
)

const rulesFile = "rules.json"

func (s *Store) loadRules() (rulesDoc, error) {
	var doc rulesDoc
	if err := readJSON(s.path(rulesFile), &doc); err != nil {
		return rulesDoc{}, apperr.Wrap(apperr.KindStore, "load rules", err)
	}
	return doc, nil
}

// UpsertRule enforces spec.md §8 invariant 3: exactly one dynamic rule per
// pattern exists at any time, and the most recent upsert wins.
func (s *Store) UpsertRule(_ context.Context, pattern string, action policy.Action) (*policy.DynamicRule, error) {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	doc, err := s.loadRules()
	if err != nil {
		return nil, err
	}

	for _, r := range doc.Rules {
		if r.Pattern == pattern {
			r.Action = action
			r.CreatedAt = nowFunc()
			if err := atomicWriteJSON(s.path(rulesFile), doc); err != nil {
				return nil, apperr.Wrap(apperr.KindStore, "persist rule upsert", err)
			}
			return r, nil
		}
	}

	r := &policy.DynamicRule{ID: newID(), Pattern: pattern, Action: action, CreatedAt: nowFunc()}
	doc.Rules = prepend(doc.Rules, r)
	if err := atomicWriteJSON(s.path(rulesFile), doc); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "persist rule create", err)
	}
	return r, nil
}

func (s *Store) ListRules(_ context.Context, limit int) ([]*policy.DynamicRule, error) {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	doc, err := s.loadRules()
	if err != nil {
		return nil, err
	}
	n := clampLimit(limit, len(doc.Rules))
	return doc.Rules[:n], nil
}

func (s *Store) RemoveRule(_ context.Context, id string) error {
	s.ruleMu.Lock()
	defer s.ruleMu.Unlock()

	doc, err := s.loadRules()
	if err != nil {
		return err
	}
	kept := doc.Rules[:0]
	found := false
	for _, r := range doc.Rules {
		if r.ID == id {
			found = true
			continue
		}
		kept = append(kept, r)
	}
	if !found {
		return apperr.ErrNotFound
	}
	doc.Rules = kept
	if err := atomicWriteJSON(s.path(rulesFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist rule removal", err)
	}
	return nil
}
