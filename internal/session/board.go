// Package session keeps a client-side copy of one project's board in step with
// the realtime event stream.
package session

import (
	"sort"
	"sync"

	"kanban/internal/ledger"
	"kanban/internal/models"
)

// Board is the local projection of a project's cards. Every method is safe
// for concurrent use.
//
// Events carry only the card that changed, so the board replays the same
// ledger plan the server ran to shift that card's siblings. When the local
// buckets cannot support a plan the board is marked stale and must be reset
// from a fresh fetch.
type Board struct {
	mu        sync.RWMutex
	projectID string
	cards     map[string]models.Card
	stale     bool
}

// NewBoard seeds the projection from a full fetch.
func NewBoard(projectID string, initial []models.Card) *Board {
	b := &Board{projectID: projectID}
	b.resetLocked(initial)
	return b
}

// ProjectID is the project this board mirrors.
func (b *Board) ProjectID() string {
	return b.projectID
}

// Reset replaces the board with a fresh fetch and clears the stale flag.
func (b *Board) Reset(cards []models.Card) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked(cards)
}

func (b *Board) resetLocked(cards []models.Card) {
	b.cards = make(map[string]models.Card, len(cards))
	b.stale = false
	for _, c := range cards {
		if c.ProjectID == b.projectID {
			b.cards[c.ID] = c
		}
	}
	for _, status := range models.Statuses {
		b.checkLocked(status)
	}
}

// Stale reports whether local positions have drifted from the server's.
func (b *Board) Stale() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stale
}

// Apply merges one event and reports whether the board changed. Events are
// idempotent: a create for a known card, an update, move or delete for an
// unknown one, or a card version the board already holds is ignored.
func (b *Board) Apply(ev models.Event) bool {
	if ev.ProjectID != b.projectID {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch ev.Type {
	case models.EventCardCreated:
		if ev.Card == nil {
			return false
		}
		if _, ok := b.cards[ev.Card.ID]; ok {
			return false
		}
		if ev.Card.Position != b.sizeLocked(ev.Card.Status) {
			b.stale = true
		}
		b.cards[ev.Card.ID] = *ev.Card
		b.checkLocked(ev.Card.Status)
		return true
	case models.EventCardUpdated, models.EventCardMoved:
		if ev.Card == nil {
			return false
		}
		prev, ok := b.cards[ev.Card.ID]
		if !ok || superseded(prev, *ev.Card) {
			return false
		}
		b.placeLocked(prev, *ev.Card)
		return true
	case models.EventCardDeleted:
		prev, ok := b.cards[ev.CardID]
		if !ok {
			return false
		}
		b.removeLocked(prev)
		return true
	}
	return false
}

// superseded reports whether local already holds incoming's version or a
// later one. Cards without timestamps are always applied.
func superseded(local, incoming models.Card) bool {
	if incoming.UpdatedAt.IsZero() {
		return false
	}
	return !incoming.UpdatedAt.After(local.UpdatedAt)
}

// placeLocked stores next and shifts the siblings around its old and new
// placement the way the server did.
func (b *Board) placeLocked(prev, next models.Card) {
	from := ledger.Placement{Status: prev.Status, Position: prev.Position}
	to := ledger.Placement{Status: next.Status, Position: next.Position}
	if from != to {
		plan, err := ledger.Move(from, to, b.sizeLocked(from.Status), b.sizeLocked(to.Status))
		if err != nil {
			b.stale = true
		} else {
			b.relocateLocked(next.ID, plan)
		}
	}
	b.cards[next.ID] = next
	b.checkLocked(from.Status)
	b.checkLocked(to.Status)
}

func (b *Board) removeLocked(prev models.Card) {
	at := ledger.Placement{Status: prev.Status, Position: prev.Position}
	plan, err := ledger.Remove(at, b.sizeLocked(at.Status))
	if err != nil {
		b.stale = true
	} else {
		b.relocateLocked(prev.ID, plan)
	}
	delete(b.cards, prev.ID)
	b.checkLocked(at.Status)
}

func (b *Board) relocateLocked(targetID string, plan ledger.Plan) {
	if plan.Noop() {
		return
	}
	for id, c := range b.cards {
		if id == targetID {
			continue
		}
		next := plan.Relocate(ledger.Placement{Status: c.Status, Position: c.Position})
		if next.Position != c.Position {
			c.Position = next.Position
			b.cards[id] = c
		}
	}
}

func (b *Board) sizeLocked(status models.Status) int {
	n := 0
	for _, c := range b.cards {
		if c.Status == status {
			n++
		}
	}
	return n
}

// checkLocked marks the board stale when a bucket is no longer 0..n-1.
func (b *Board) checkLocked(status models.Status) {
	var positions []int
	for _, c := range b.cards {
		if c.Status == status {
			positions = append(positions, c.Position)
		}
	}
	if ledger.Verify(positions) != nil {
		b.stale = true
	}
}

// Card looks up one card.
func (b *Board) Card(id string) (models.Card, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cards[id]
	return c, ok
}

// Len is the number of cards on the board.
func (b *Board) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.cards)
}

// Column returns the cards in status ordered by position.
func (b *Board) Column(status models.Status) []models.Card {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.columnLocked(status)
}

// Columns returns every column keyed by status.
func (b *Board) Columns() map[models.Status][]models.Card {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[models.Status][]models.Card, len(models.Statuses))
	for _, status := range models.Statuses {
		out[status] = b.columnLocked(status)
	}
	return out
}

// columnLocked sorts by position. Ids only order cards on a stale board,
// where positions may collide.
func (b *Board) columnLocked(status models.Status) []models.Card {
	col := make([]models.Card, 0)
	for _, c := range b.cards {
		if c.Status == status {
			col = append(col, c)
		}
	}
	sort.Slice(col, func(i, j int) bool {
		if col[i].Position != col[j].Position {
			return col[i].Position < col[j].Position
		}
		return col[i].ID < col[j].ID
	})
	return col
}
