package api

import (
	"context"

	"slate/internal/projects"
)

// ProjectReader abstracts library persistence interactions needed for API queries.
type ProjectReader interface {
	ListProjects(ctx context.Context) ([]*projects.Project, error)
	GetProject(ctx context.Context, id string) (*projects.Project, error)
	ListShots(ctx context.Context, projectID string) ([]*projects.Shot, error)
}

// ProjectService exposes read-only library operations returning API DTOs.
type ProjectService struct {
	store ProjectReader
}

// NewProjectService constructs a ProjectService around the provided reader.
func NewProjectService(store ProjectReader) *ProjectService {
	if store == nil {
		return nil
	}
	return &ProjectService{store: store}
}

// List returns all projects.
func (s *ProjectService) List(ctx context.Context) ([]ProjectItem, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	list, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	return FromProjects(list), nil
}

// Describe fetches a single project with its ordered shots. Returns nil when
// the project does not exist.
func (s *ProjectService) Describe(ctx context.Context, id string) (*ProjectDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	project, err := s.store.GetProject(ctx, id)
	if err != nil || project == nil {
		return nil, err
	}
	shots, err := s.store.ListShots(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{
		Project: FromProject(project),
		Shots:   FromShots(shots),
	}, nil
}
