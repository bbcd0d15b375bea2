package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/anurag-kawade/projecthub-chat/internal/models"
)

// RosterStore answers "may this principal see this group's chat?" against
// the portal's roster tables. This store only reads; group formation and
// allocation are owned by the portal's CRUD side.
type RosterStore struct {
	pool *pgxpool.Pool
}

func NewRosterStore(pool *pgxpool.Pool) *RosterStore {
	return &RosterStore{pool: pool}
}

// IsMember collapses three relations to one boolean:
//   - students must appear in group_members,
//   - faculty must be the group's allocated supervisor,
//   - staff must be the group's assisting staff member.
//
// An unknown kind is a plain false, not an error — the authorizer fails
// closed either way, but there is nothing useful to log a stack for.
func (s *RosterStore) IsMember(ctx context.Context, kind models.PrincipalKind, principalID, roomID int64) (bool, error) {
	// SELECT EXISTS stops at the first match. This runs before every
	// join, send and pin, so the hot path stays a single index probe.
	var query string
	switch kind {
	case models.KindStudent:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM group_members
				WHERE group_id = $1 AND student_id = $2
			)`
	case models.KindFaculty:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM groups
				WHERE group_id = $1 AND allocated_faculty_id = $2
			)`
	case models.KindStaff:
		query = `
			SELECT EXISTS (
				SELECT 1 FROM groups
				WHERE group_id = $1 AND assisting_staff_id = $2
			)`
	default:
		return false, nil
	}

	var exists bool
	err := s.pool.QueryRow(ctx, query, roomID, principalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check roster membership: %w", err)
	}
	return exists, nil
}
