package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"kanban/internal/models"
)

const joinWait = 10 * time.Second

// Follower opens a board session: it subscribes to a project's events, fetches
// the current cards and keeps a Board up to date until the context ends.
//
// The subscription is made before the fetch so no event committed in between
// is lost. Events that arrive while the fetch is in flight are replayed on top
// of the snapshot. A board that drifts from the server is fetched again.
type Follower struct {
	BaseURL   string
	Token     string
	ProjectID string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Logger     *slog.Logger

	// OnChange runs after the initial load and after every event that changed
	// the board.
	OnChange func(*Board)
}

type envelope struct {
	Type      string       `json:"type"`
	ProjectID string       `json:"projectId"`
	Card      *models.Card `json:"card,omitempty"`
	CardID    string       `json:"cardId,omitempty"`
	Error     string       `json:"error,omitempty"`
}

func (e envelope) event() models.Event {
	return models.Event{Type: models.EventType(e.Type), ProjectID: e.ProjectID, Card: e.Card, CardID: e.CardID}
}

type fetchResult struct {
	cards []models.Card
	err   error
}

// Run blocks until ctx is cancelled or the connection fails.
func (f *Follower) Run(ctx context.Context) error {
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("project_id", f.ProjectID))

	conn, err := f.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := f.join(conn); err != nil {
		return err
	}
	logger.Info("subscribed to project")

	incoming := make(chan envelope)
	readErr := make(chan error, 1)
	go func() {
		for {
			var msg envelope
			if err := conn.ReadJSON(&msg); err != nil {
				readErr <- err
				return
			}
			select {
			case incoming <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	fetched := make(chan fetchResult, 1)
	refetch := func() {
		go func() {
			cards, err := f.fetch(ctx)
			fetched <- fetchResult{cards: cards, err: err}
		}()
	}
	refetch()

	var (
		board   *Board
		loading = true
		pending []models.Event
	)
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		case err := <-readErr:
			return fmt.Errorf("realtime connection: %w", err)
		case res := <-fetched:
			if res.err != nil {
				return res.err
			}
			if board == nil {
				board = NewBoard(f.ProjectID, res.cards)
			} else {
				board.Reset(res.cards)
			}
			for _, ev := range pending {
				board.Apply(ev)
			}
			logger.Info("board loaded", slog.Int("cards", board.Len()), slog.Int("replayed", len(pending)))
			pending = nil
			loading = false
			f.changed(board)
			if board.Stale() {
				logger.Warn("board drifted during load, fetching again")
				loading = true
				refetch()
			}
		case msg := <-incoming:
			switch msg.Type {
			case "error":
				logger.Warn("server error", slog.String("error", msg.Error))
				continue
			case "left":
				if msg.ProjectID == f.ProjectID {
					return errors.New("subscription ended by server")
				}
				continue
			case "joined":
				continue
			}
			ev := msg.event()
			if loading {
				pending = append(pending, ev)
				continue
			}
			if board.Apply(ev) {
				f.changed(board)
			}
			if board.Stale() {
				logger.Warn("board drifted, fetching again", slog.String("event", string(ev.Type)))
				loading = true
				refetch()
			}
		}
	}
}

func (f *Follower) changed(b *Board) {
	if f.OnChange != nil {
		f.OnChange(b)
	}
}

func (f *Follower) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(strings.TrimRight(f.BaseURL, "/") + "/api/ws")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), f.header())
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	return conn, nil
}

// join subscribes and waits for the server to acknowledge it.
func (f *Follower) join(conn *websocket.Conn) error {
	if err := conn.WriteJSON(map[string]string{"type": "joinProject", "projectId": f.ProjectID}); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(joinWait))
	defer conn.SetReadDeadline(time.Time{})

	for {
		var msg envelope
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await join: %w", err)
		}
		switch {
		case msg.Type == "joined" && msg.ProjectID == f.ProjectID:
			return nil
		case msg.Type == "error":
			return fmt.Errorf("join rejected: %s", msg.Error)
		}
	}
}

func (f *Follower) fetch(ctx context.Context) ([]models.Card, error) {
	endpoint := strings.TrimRight(f.BaseURL, "/") + "/api/cards/project/" + url.PathEscape(f.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header = f.header()

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cards: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("fetch cards: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Cards []models.Card `json:"cards"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode cards: %w", err)
	}
	return payload.Cards, nil
}

func (f *Follower) header() http.Header {
	h := http.Header{}
	if f.Token != "" {
		h.Set("Authorization", "Bearer "+f.Token)
	}
	return h
}
