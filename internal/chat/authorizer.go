package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
	"github.com/anurag-kawade/projecthub-chat/internal/repository"
)

// Authorizer decides whether a principal may see a room's chat. It is a
// pure read-through over the roster tables and fails closed: an unknown
// kind, a malformed id, a roster error, or a timed-out query all answer
// "not authorized". It never returns an error to the caller — there is
// nothing safe a caller could do with one except deny, so the denial
// happens here.
type Authorizer struct {
	roster  repository.RosterRepository
	timeout time.Duration
	logger  *zap.Logger
}

func NewAuthorizer(roster repository.RosterRepository, timeout time.Duration, logger *zap.Logger) *Authorizer {
	return &Authorizer{roster: roster, timeout: timeout, logger: logger}
}

// IsAuthorized reports whether the principal may access the room.
func (a *Authorizer) IsAuthorized(ctx context.Context, p models.Principal, roomID int64) bool {
	if !p.Kind.Valid() || p.ID <= 0 || roomID <= 0 {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	ok, err := a.roster.IsMember(ctx, p.Kind, p.ID, roomID)
	if err != nil {
		// Includes context.DeadlineExceeded: a slow roster lookup is a
		// denial, never an implicit grant.
		a.logger.Warn("authorization check failed, denying",
			zap.String("kind", string(p.Kind)),
			zap.Int64("principal_id", p.ID),
			zap.Int64("room_id", roomID),
			zap.Error(err),
		)
		return false
	}
	return ok
}
