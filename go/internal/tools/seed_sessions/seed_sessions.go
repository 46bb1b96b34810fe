package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/planningpoker/go/internal/dbconfig"
	"github.com/mcdev12/planningpoker/go/internal/models"
)

// DemoSession mirrors an entry of assets/demo_sessions.json
type DemoSession struct {
	Name               string            `json:"name"`
	Creator            string            `json:"creator"`
	SizingType         string            `json:"sizing_type"`
	AllowMembersManage bool              `json:"allow_members_manage"`
	CardsRevealed      bool              `json:"cards_revealed"`
	Members            []string          `json:"members"`
	Votes              map[string]string `json:"votes"`
}

func main() {
	path := "go/internal/assets/demo_sessions.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var sessions []DemoSession
	if err := json.Unmarshal(data, &sessions); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg, err := dbconfig.NewConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert and count. Sessions are matched on name and creator.
	var (
		total    = len(sessions)
		inserted int
		skipped  int
		errs     int
	)

	for _, s := range sessions {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM sessions WHERE name = $1 AND creator_name = $2)`,
			s.Name, s.Creator,
		).Scan(&exists)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error checking session %q: %v\n", s.Name, err)
			errs++
			continue
		}
		if exists {
			skipped++
			continue
		}

		if err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return seedSession(ctx, tx, s)
		}); err != nil {
			fmt.Fprintf(os.Stderr, "error inserting session %q: %v\n", s.Name, err)
			errs++
			continue
		}
		inserted++
	}

	// 4) Print summary
	fmt.Printf(
		"Sessions seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}

func seedSession(ctx context.Context, tx pgx.Tx, s DemoSession) error {
	sizing, err := models.ParseSizingType(s.SizingType)
	if err != nil {
		return err
	}

	var sessionID string
	err = tx.QueryRow(ctx, `
        INSERT INTO sessions (name, creator_name, sizing_type, allow_members_manage, cards_revealed)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `,
		s.Name, s.Creator, string(sizing), s.AllowMembersManage, s.CardsRevealed,
	).Scan(&sessionID)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO session_users (session_id, name, is_creator) VALUES ($1, $2, TRUE)`,
		sessionID, s.Creator,
	); err != nil {
		return fmt.Errorf("insert creator: %w", err)
	}
	for _, name := range s.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO session_users (session_id, name) VALUES ($1, $2)`,
			sessionID, name,
		); err != nil {
			return fmt.Errorf("insert member %q: %w", name, err)
		}
	}

	for name, card := range s.Votes {
		if !sizing.HasCard(card) {
			return fmt.Errorf("card %q of %q is not in the %s deck", card, name, sizing)
		}
		if _, err := tx.Exec(ctx, `
            INSERT INTO estimates (session_id, user_name, estimate)
            VALUES ($1, $2, $3)
            ON CONFLICT (session_id, user_name) DO UPDATE
            SET estimate = EXCLUDED.estimate, updated_at = clock_timestamp()
        `,
			sessionID, name, card,
		); err != nil {
			return fmt.Errorf("insert vote of %q: %w", name, err)
		}
	}
	return nil
}
