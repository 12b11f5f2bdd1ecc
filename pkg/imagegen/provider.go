package imagegen

import (
	"context"
	"time"
)

// Generator produces images from prompts. Implementations own transport
// details such as request encoding, authentication and timeouts.
type Generator interface {
	// Generate runs one generation and returns the stored record.
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// HistoryService reads and deletes a user's stored generations.
type HistoryService interface {
	// FetchHistory returns the user's generations, newest first.
	FetchHistory(ctx context.Context, userID string) ([]Generation, error)

	// DeleteHistory removes one generation by id.
	DeleteHistory(ctx context.Context, id string) error
}

// Service is the full remote surface the client talks to.
type Service interface {
	Generator
	HistoryService
}

// Config holds common configuration for remote service clients.
type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}
