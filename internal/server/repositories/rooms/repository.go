package rooms

import (
	"context"

	"github.com/dmitrijs2005/pairchat/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, room *models.PublicRoom) (*models.PublicRoom, error)
	List(ctx context.Context) ([]models.PublicRoom, error)
	Get(ctx context.Context, roomID string) (*models.PublicRoom, error)
	LockCapacity(ctx context.Context, roomID string) (int, error)
	CountOnline(ctx context.Context, roomID string, except string) (int, error)
	SetOnline(ctx context.Context, roomID, username, instanceID string) error
	SetOffline(ctx context.Context, roomID, username string) error
	// ResetOnline marks every online membership held by instanceID offline
	// and returns how many were cleared.
	ResetOnline(ctx context.Context, instanceID string) (int64, error)
	OnlineMembers(ctx context.Context, roomID string) ([]models.RoomMember, error)
}
