// Command kanbanwatch follows one project's board from the terminal and
// reprints the columns whenever a card changes.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kanban/internal/models"
	"kanban/internal/session"
	"kanban/internal/util"
)

func main() {
	_ = godotenv.Load()

	urlFlag := flag.String("url", util.EnvOrDefault("KANBAN_URL", "http://localhost:8080"), "Server base URL")
	tokenFlag := flag.String("token", util.EnvOrDefault("KANBAN_TOKEN", ""), "Session token; when empty -email and -password are used to log in")
	emailFlag := flag.String("email", util.EnvOrDefault("KANBAN_EMAIL", ""), "Account email")
	passwordFlag := flag.String("password", util.EnvOrDefault("KANBAN_PASSWORD", ""), "Account password")
	projectFlag := flag.String("project", "", "Project id to follow")
	levelFlag := flag.String("log-level", util.EnvOrDefault("KANBAN_LOG_LEVEL", "warn"), "debug, info, warn or error")
	flag.Parse()

	logger, closer, err := util.NewLogger(*levelFlag, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer closer.Close()

	if *projectFlag == "" {
		fmt.Fprintln(os.Stderr, "-project is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 15 * time.Second}
	token := *tokenFlag
	if token == "" {
		token, err = login(ctx, client, *urlFlag, *emailFlag, *passwordFlag)
		if err != nil {
			logger.Error("login failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	follower := &session.Follower{
		BaseURL:    *urlFlag,
		Token:      token,
		ProjectID:  *projectFlag,
		HTTPClient: client,
		Logger:     logger,
		OnChange:   func(b *session.Board) { render(os.Stdout, b) },
	}
	if err := follower.Run(ctx); err != nil {
		logger.Error("follow stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func login(ctx context.Context, client *http.Client, baseURL, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", errors.New("either -token or -email and -password are required")
	}
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.AccessToken, nil
}

func render(w io.Writer, b *session.Board) {
	fmt.Fprintf(w, "\n== project %s (%d cards) %s ==\n", b.ProjectID(), b.Len(), time.Now().Format(time.Kitchen))
	columns := b.Columns()
	for _, status := range models.Statuses {
		fmt.Fprintf(w, "[%s]\n", status)
		for _, c := range columns[status] {
			line := "  - " + c.Title
			if len(c.Assignees) > 0 {
				names := make([]string, 0, len(c.Assignees))
				for _, a := range c.Assignees {
					names = append(names, a.Name)
				}
				line += " (" + strings.Join(names, ", ") + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}
