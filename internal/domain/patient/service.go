package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.DNI = strings.TrimSpace(p.DNI)
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)

	if p.DNI == "" {
		return fmt.Errorf("dni is required")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if p.Email == "" {
		return fmt.Errorf("email is required")
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status: %s", p.Status)
	}

	if existing, err := s.repo.GetByDNI(ctx, p.DNI); err == nil && existing != nil {
		return fmt.Errorf("patient with dni %s already exists", p.DNI)
	}

	if p.Token == "" {
		token, err := NewToken()
		if err != nil {
			return err
		}
		p.Token = token
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByToken(ctx context.Context, token string) (*Patient, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return s.repo.GetByToken(ctx, token)
}

func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	if p.Status != "" && !p.Status.Valid() {
		return fmt.Errorf("invalid status: %s", p.Status)
	}
	return s.repo.Update(ctx, p)
}

func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status: %s", status)
	}
	return s.repo.UpdateStatus(ctx, id, status)
}

func (s *Service) ListPatients(ctx context.Context, filter ListFilter, limit, offset int) ([]*Patient, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, fmt.Errorf("invalid status filter: %s", filter.Status)
	}
	return s.repo.List(ctx, filter, limit, offset)
}
