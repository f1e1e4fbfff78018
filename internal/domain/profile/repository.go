package profile

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

import "context"

// Repository persists registered profiles.
type Repository interface {
	// Save inserts or replaces the participant's profile.
	Save(ctx context.Context, p *Profile) error
	Get(ctx context.Context, participantID string) (*Profile, error)
	// List returns profiles ordered by participant id.
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Profile, error)
}
