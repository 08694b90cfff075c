package parties

import (
	"context"
	"errors"
)

// RepositoryPort defines data access methods for parties.
type RepositoryPort interface {
	CreateParty(ctx context.Context, input PartyInput) (Party, error)
	GetParty(ctx context.Context, id int64) (Party, error)
	ListParties(ctx context.Context, typ PartyType) ([]Party, error)
}

// Service handles party master data.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// CreateParty registers a customer or supplier.
func (s *Service) CreateParty(ctx context.Context, input PartyInput) (Party, error) {
	if input.Name == "" {
		return Party{}, errors.New("parties: name required")
	}
	if input.Type != TypeCustomer && input.Type != TypeSupplier {
		return Party{}, ErrInvalidPartyType
	}
	return s.repo.CreateParty(ctx, input)
}

// GetParty returns one party.
func (s *Service) GetParty(ctx context.Context, id int64) (Party, error) {
	return s.repo.GetParty(ctx, id)
}

// ListParties returns parties, optionally filtered by type.
func (s *Service) ListParties(ctx context.Context, typ PartyType) ([]Party, error) {
	if typ != "" && typ != TypeCustomer && typ != TypeSupplier {
		return nil, ErrInvalidPartyType
	}
	return s.repo.ListParties(ctx, typ)
}
