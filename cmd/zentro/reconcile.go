package main

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/zentrochat/zentro/internal/models"
	"github.com/zentrochat/zentro/pkg/config"
)

type reconcileOptions struct {
	DatabasePath string
	DryRun       bool
}

// roomPreview is the denormalized last message summary stored on a room.
type roomPreview struct {
	Message  string
	Time     sql.NullTime
	SenderID string
}

// diff names the fields of p that differ from want.
func (p roomPreview) diff(want roomPreview) []string {
	var fields []string
	if p.Message != want.Message {
		fields = append(fields, "last_message")
	}
	if p.Time.Valid != want.Time.Valid || (p.Time.Valid && !p.Time.Time.Equal(want.Time.Time)) {
		fields = append(fields, "last_message_time")
	}
	if p.SenderID != want.SenderID {
		fields = append(fields, "last_sender_id")
	}
	return fields
}

type roomDrift struct {
	RoomID string
	Stored roomPreview
	Want   roomPreview
}

func parseReconcileArgs(cfg *config.Config, args []string) (reconcileOptions, error) {
	opts := reconcileOptions{DatabasePath: cfg.DatabasePath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown reconcile flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

func runReconcile(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseReconcileArgs(cfg, args)
	if err != nil {
		return err
	}
	return reconcileRooms(out, opts)
}

// reconcileRooms recomputes every room preview from the newest message of
// the room and rewrites the rooms whose stored preview drifted.
func reconcileRooms(out io.Writer, opts reconcileOptions) error {
	dbConn, err := sql.Open("sqlite3", opts.DatabasePath+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()
	// BEGIN and COMMIT are plain statements and must share one connection.
	dbConn.SetMaxOpenConns(1)

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := dbConn.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start reconcile transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = dbConn.Exec("ROLLBACK")
		}
	}()

	drifts, total, err := findDriftedRooms(dbConn)
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		printDrifts(out, drifts)
		fmt.Fprintf(out, "Would repair %d of %d rooms.\n", len(drifts), total)
		if _, err := dbConn.Exec("ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	for _, d := range drifts {
		var at any
		if d.Want.Time.Valid {
			at = d.Want.Time.Time
		}
		if _, err := dbConn.Exec(
			"UPDATE rooms SET last_message = ?, last_message_time = ?, last_sender_id = ? WHERE id = ?",
			d.Want.Message, at, d.Want.SenderID, d.RoomID,
		); err != nil {
			return fmt.Errorf("failed to repair room %s: %w", d.RoomID, err)
		}
	}

	if _, err := dbConn.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit reconcile: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Reconcile completed. Database: %s\n", opts.DatabasePath)
	printDrifts(out, drifts)
	fmt.Fprintf(out, "Repaired %d of %d rooms.\n", len(drifts), total)
	return nil
}

func findDriftedRooms(dbConn *sql.DB) ([]roomDrift, int, error) {
	rows, err := dbConn.Query(`
		SELECT r.id, COALESCE(r.last_message, ''), r.last_message_time, COALESCE(r.last_sender_id, ''),
			m.id, m.kind, m.body, m.created_at, m.sender_id
		FROM rooms r
		LEFT JOIN messages m ON m.seq = (SELECT MAX(seq) FROM messages WHERE room_id = r.id)
		ORDER BY r.id
	`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read rooms: %w", err)
	}
	defer rows.Close()

	var drifts []roomDrift
	total := 0
	for rows.Next() {
		var (
			roomID                    string
			stored                    roomPreview
			msgID, kind, body, sender sql.NullString
			createdAt                 sql.NullTime
		)
		if err := rows.Scan(&roomID, &stored.Message, &stored.Time, &stored.SenderID,
			&msgID, &kind, &body, &createdAt, &sender); err != nil {
			return nil, 0, fmt.Errorf("failed to scan room: %w", err)
		}
		total++

		var want roomPreview
		if msgID.Valid {
			decoded, err := models.DecodeBody(models.Kind(kind.String), []byte(body.String))
			if err != nil {
				return nil, 0, fmt.Errorf("failed to decode message %s in room %s: %w", msgID.String, roomID, err)
			}
			want = roomPreview{Message: decoded.Preview(), Time: createdAt, SenderID: sender.String}
		}

		if len(stored.diff(want)) > 0 {
			drifts = append(drifts, roomDrift{RoomID: roomID, Stored: stored, Want: want})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read rooms: %w", err)
	}
	return drifts, total, nil
}

func printDrifts(out io.Writer, drifts []roomDrift) {
	for _, d := range drifts {
		fmt.Fprintf(out, "  room %s: %s (stored %q at %s, want %q at %s)\n",
			d.RoomID,
			strings.Join(d.Stored.diff(d.Want), ", "),
			d.Stored.Message, formatPreviewTime(d.Stored.Time),
			d.Want.Message, formatPreviewTime(d.Want.Time),
		)
	}
}

func formatPreviewTime(t sql.NullTime) string {
	if !t.Valid {
		return "n/a"
	}
	return t.Time.UTC().Format(time.RFC3339)
}
