package filestore

import (
	"context"

	"github.com/portero-gateway/portero/internal/apperr"
	"github.com/portero-gateway/portero/internal/domain/task"
	"github.com/portero-gateway/portero/internal/port/store"
)

const tasksFile = "tasks.json"

func (s *Store) loadTasks() (tasksDoc, error) {
	var doc tasksDoc
	if err := readJSON(s.path(tasksFile), &doc); err != nil {
		return tasksDoc{}, apperr.Wrap(apperr.KindStore, "load tasks", err)
	}
	return doc, nil
}

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	doc, err := s.loadTasks()
	if err != nil {
		return err
	}
	doc.Tasks = prepend(doc.Tasks, t)
	if err := atomicWriteJSON(s.path(tasksFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist task", err)
	}
	return nil
}

func (s *Store) GetTask(_ context.Context, id string) (*task.Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	doc, err := s.loadTasks()
	if err != nil {
		return nil, err
	}
	for _, t := range doc.Tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (s *Store) UpdateTask(_ context.Context, id string, mutate store.TaskMutator) (*task.Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	doc, err := s.loadTasks()
	if err != nil {
		return nil, err
	}
	for i, t := range doc.Tasks {
		if t.ID != id {
			continue
		}
		if err := mutate(t); err != nil {
			return nil, err
		}
		doc.Tasks[i] = t
		if err := atomicWriteJSON(s.path(tasksFile), doc); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "persist task update", err)
		}
		return t, nil
	}
	return nil, apperr.ErrNotFound
}

func (s *Store) ListTasks(_ context.Context, filter store.TaskFilter) ([]*task.Task, error) {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	doc, err := s.loadTasks()
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	limit := clampLimit(filter.Limit, len(out))
	return out[:limit], nil
}

func (s *Store) RemoveTask(_ context.Context, id string) error {
	s.tasksMu.Lock()
	defer s.tasksMu.Unlock()

	doc, err := s.loadTasks()
	if err != nil {
		return err
	}
	kept := doc.Tasks[:0]
	found := false
	for _, t := range doc.Tasks {
		if t.ID == id {
			found = true
			continue
		}
		kept = append(kept, t)
	}
	if !found {
		return apperr.ErrNotFound
	}
	doc.Tasks = kept
	if err := atomicWriteJSON(s.path(tasksFile), doc); err != nil {
		return apperr.Wrap(apperr.KindStore, "persist task removal", err)
	}
	return nil
}
