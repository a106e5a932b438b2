package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"kanban/internal/errs"
	"kanban/internal/ledger"
	"kanban/internal/models"
)

const cardColumns = `id, project_id, title, description, link, status, position, created_at, updated_at`

// ListCards returns the cards of a project ordered by column, then position.
func (s *Store) ListCards(ctx context.Context, projectID string) ([]models.Card, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE project_id = ?
        ORDER BY CASE status
            WHEN 'backlog' THEN 0 WHEN 'planned' THEN 1 WHEN 'in_progress' THEN 2
            WHEN 'testing' THEN 3 WHEN 'finished' THEN 4 END, position, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards := []models.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		cards = append(cards, c)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range cards {
		if cards[i].Assignees, err = loadAssignees(ctx, s.db, cards[i].ID); err != nil {
			return nil, err
		}
	}
	return cards, nil
}

// GetCard fetches the card, then its assignees.
func (s *Store) GetCard(ctx context.Context, id string) (models.Card, error) {
	return loadCard(ctx, s.db, id)
}

// CardProject returns the id of the project the card currently belongs to.
func (s *Store) CardProject(ctx context.Context, id string) (string, error) {
	var projectID string
	err := s.db.QueryRowContext(ctx, `SELECT project_id FROM cards WHERE id = ?`, id).Scan(&projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errs.NewNotFound("card")
	}
	if err != nil {
		return "", fmt.Errorf("card project: %w", err)
	}
	return projectID, nil
}

// InsertCard appends a new card to the end of the project's backlog.
func (s *Store) InsertCard(ctx context.Context, projectID string, fields models.CardFields, assigneeIDs []string) (models.Card, error) {
	id := uuid.NewString()
	var card models.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		assignees, err := resolveUsers(ctx, tx, assigneeIDs)
		if err != nil {
			return err
		}
		size, err := bucketSize(ctx, tx, projectID, models.StatusBacklog)
		if err != nil {
			return err
		}
		at, err := ledger.Append(models.StatusBacklog, size)
		if err != nil {
			return err
		}

		now := s.now()
		if _, err := tx.ExecContext(ctx, `INSERT INTO cards(`+cardColumns+`) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, projectID, strings.TrimSpace(fields.Title), strings.TrimSpace(fields.Description), strings.TrimSpace(fields.Link),
			at.Status, at.Position, now, now); err != nil {
			return fmt.Errorf("insert card: %w", err)
		}
		if err := replaceAssignees(ctx, tx, id, assignees); err != nil {
			return err
		}
		card, err = loadCard(ctx, tx, id)
		return err
	})
	return card, err
}

// UpdateCard replaces title, description, link and the assignee set. Status and
// position are left untouched.
func (s *Store) UpdateCard(ctx context.Context, id string, fields models.CardFields, assigneeIDs []string) (models.Card, error) {
	var card models.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		assignees, err := resolveUsers(ctx, tx, assigneeIDs)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE cards SET title = ?, description = ?, link = ?, updated_at = ? WHERE id = ?`,
			strings.TrimSpace(fields.Title), strings.TrimSpace(fields.Description), strings.TrimSpace(fields.Link), s.now(), id)
		if err != nil {
			return fmt.Errorf("update card: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return errs.NewNotFound("card")
		}
		if err := replaceAssignees(ctx, tx, id, assignees); err != nil {
			return err
		}
		card, err = loadCard(ctx, tx, id)
		return err
	})
	return card, err
}

// MoveCard relocates a card to the target placement. Sibling shifts and the
// card's own update commit together or not at all.
func (s *Store) MoveCard(ctx context.Context, id string, to ledger.Placement) (models.Card, error) {
	var card models.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadCard(ctx, tx, id)
		if err != nil {
			return err
		}
		from := ledger.Placement{Status: current.Status, Position: current.Position}

		sourceSize, err := bucketSize(ctx, tx, current.ProjectID, from.Status)
		if err != nil {
			return err
		}
		destSize := sourceSize
		if to.Status != from.Status {
			if destSize, err = bucketSize(ctx, tx, current.ProjectID, to.Status); err != nil {
				return err
			}
		}

		plan, err := ledger.Move(from, to, sourceSize, destSize)
		if err != nil {
			return err
		}
		if plan.Noop() && plan.Target == from {
			card = current
			return nil
		}

		now := s.now()
		if err := s.applyShifts(ctx, tx, current.ProjectID, id, plan); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE cards SET status = ?, position = ?, updated_at = ? WHERE id = ?`,
			plan.Target.Status, plan.Target.Position, now, id); err != nil {
			return fmt.Errorf("move card: %w", err)
		}
		card, err = loadCard(ctx, tx, id)
		return err
	})
	return card, err
}

// DeleteCard removes a card and closes the gap it leaves in its bucket. The
// removed card is returned as it was before deletion.
func (s *Store) DeleteCard(ctx context.Context, id string) (models.Card, error) {
	var card models.Card
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadCard(ctx, tx, id)
		if err != nil {
			return err
		}
		at := ledger.Placement{Status: current.Status, Position: current.Position}
		size, err := bucketSize(ctx, tx, current.ProjectID, at.Status)
		if err != nil {
			return err
		}
		plan, err := ledger.Remove(at, size)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete card: %w", err)
		}
		if err := s.applyShifts(ctx, tx, current.ProjectID, id, plan); err != nil {
			return err
		}
		card = current
		return nil
	})
	return card, err
}

// BucketPositions lists the positions of a bucket in ascending order.
func (s *Store) BucketPositions(ctx context.Context, projectID string, status models.Status) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT position FROM cards WHERE project_id = ? AND status = ? ORDER BY position`, projectID, status)
	if err != nil {
		return nil, fmt.Errorf("bucket positions: %w", err)
	}
	defer rows.Close()

	positions := []int{}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// applyShifts reads the siblings inside each planned range, computes their
// new positions and writes them one by one. Only the ranged rows are touched.
func (s *Store) applyShifts(ctx context.Context, tx *sql.Tx, projectID, cardID string, plan ledger.Plan) error {
	type sibling struct {
		id  string
		pos int
	}
	now := s.now()
	for _, shift := range plan.Shifts {
		rows, err := tx.QueryContext(ctx, `SELECT id, position FROM cards
            WHERE project_id = ? AND status = ? AND position BETWEEN ? AND ? AND id <> ?`,
			projectID, shift.Status, shift.From, shift.To, cardID)
		if err != nil {
			return fmt.Errorf("read bucket range: %w", err)
		}
		var siblings []sibling
		for rows.Next() {
			var sib sibling
			if err := rows.Scan(&sib.id, &sib.pos); err != nil {
				rows.Close()
				return fmt.Errorf("scan sibling: %w", err)
			}
			siblings = append(siblings, sib)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, sib := range siblings {
			next := plan.Relocate(ledger.Placement{Status: shift.Status, Position: sib.pos})
			if _, err := tx.ExecContext(ctx, `UPDATE cards SET position = ?, updated_at = ? WHERE id = ?`, next.Position, now, sib.id); err != nil {
				return fmt.Errorf("shift sibling: %w", err)
			}
		}
	}
	return nil
}

func bucketSize(ctx context.Context, q querier, projectID string, status models.Status) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM cards WHERE project_id = ? AND status = ?`, projectID, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("bucket size: %w", err)
	}
	return n, nil
}

func loadCard(ctx context.Context, q querier, id string) (models.Card, error) {
	c, err := scanCard(q.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, errs.NewNotFound("card")
	}
	if err != nil {
		return models.Card{}, err
	}
	if c.Assignees, err = loadAssignees(ctx, q, id); err != nil {
		return models.Card{}, err
	}
	return c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(row scanner) (models.Card, error) {
	var c models.Card
	err := row.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Description, &c.Link, &c.Status, &c.Position, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, err
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("scan card: %w", err)
	}
	return c, nil
}

func loadAssignees(ctx context.Context, q querier, cardID string) ([]models.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT u.id, u.email, u.name, u.created_at FROM users u
        JOIN card_assignees a ON a.user_id = u.id
        WHERE a.card_id = ? ORDER BY u.name, u.id`, cardID)
	if err != nil {
		return nil, fmt.Errorf("load assignees: %w", err)
	}
	defer rows.Close()

	assignees := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan assignee: %w", err)
		}
		assignees = append(assignees, u)
	}
	return assignees, rows.Err()
}

func replaceAssignees(ctx context.Context, tx *sql.Tx, cardID string, assignees []models.User) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM card_assignees WHERE card_id = ?`, cardID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, u := range assignees {
		if _, err := tx.ExecContext(ctx, `INSERT INTO card_assignees(card_id, user_id) VALUES(?, ?)`, cardID, u.ID); err != nil {
			return fmt.Errorf("assign user: %w", err)
		}
	}
	return nil
}
