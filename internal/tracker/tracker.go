package tracker

import (
	"context"

	"github.com/roach88/treesync/internal/model"
)

// CreateRequest describes a remote object to create.
// ParentRemoteID is empty for top-level objects.
type CreateRequest struct {
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	ContainerID    string `json:"container_id"`
	ParentRemoteID string `json:"parent_remote_id,omitempty"`
}

// Created identifies a newly created remote object.
type Created struct {
	RemoteID     string `json:"remote_id"`
	RemoteNumber string `json:"remote_number"`
}

// Reader is the read half of the tracker contract.
type Reader interface {
	// GetObject returns the object or an error wrapping ErrNotFound.
	GetObject(ctx context.Context, remoteID string) (model.RemoteObject, error)

	// ListObjects returns the objects in a container in creation order.
	// A non-empty titleQuery keeps only titles containing it, ignoring case.
	ListObjects(ctx context.Context, containerID, titleQuery string) ([]model.RemoteObject, error)
}

// Tracker is the full issue tracker contract.
type Tracker interface {
	Reader

	CreateObject(ctx context.Context, req CreateRequest) (Created, error)
	UpdateObjectStatus(ctx context.Context, remoteID string, status model.RemoteStatus) error
	AddComment(ctx context.Context, remoteID, text string) error
}
