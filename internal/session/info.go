// internal/session/info.go
package session

import (
	"context"
	"time"
)

// Info describes a session as listed by a backend
type Info struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Directory lists and creates sessions on a backend
type Directory interface {
	ListSessions(ctx context.Context) ([]Info, error)
	CreateSession(ctx context.Context, title string) (Info, error)
	GetSession(ctx context.Context, id string) (Info, error)
}
