// Package games is the relational side of the engine: game summaries,
// PGN retrieval, and the embedding job queue, all backed by Postgres
// through sqlx.
package games

import (
	"database/sql"
)

// Summary is the metadata projection of one game. Identity is ID.
type Summary struct {
	ID          int64          `db:"id"`
	White       string         `db:"white"`
	Black       string         `db:"black"`
	WhiteElo    sql.NullInt64  `db:"white_elo"`
	BlackElo    sql.NullInt64  `db:"black_elo"`
	Event       sql.NullString `db:"event"`
	PlayedOn    sql.NullTime   `db:"played_on"`
	Result      sql.NullString `db:"result"`
	ECOCode     sql.NullString `db:"eco_code"`
	OpeningSlug sql.NullString `db:"opening_slug"`
	OpeningName sql.NullString `db:"opening_name"`
	Synopsis    sql.NullString `db:"synopsis"`
}

// Year returns the year the game was played, or 0 when unknown.
func (s Summary) Year() int {
	if !s.PlayedOn.Valid {
		return 0
	}
	return s.PlayedOn.Time.Year()
}

// Page is one page of summaries plus the unpaginated total.
type Page struct {
	Summaries []Summary
	Total     int
}

// Embedding job lifecycle states.
const (
	JobPending    = "pending"
	JobInProgress = "in_progress"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is one claimed embedding job together with the position and game
// metadata the worker needs to build the vector payload.
type Job struct {
	ID          int64          `db:"id"`
	PositionID  int64          `db:"position_id"`
	Attempts    int            `db:"attempts"`
	FEN         string         `db:"fen"`
	GameID      int64          `db:"game_id"`
	White       string         `db:"white"`
	Black       string         `db:"black"`
	OpeningSlug sql.NullString `db:"opening_slug"`
}

// JobCounts maps job status to queue depth.
type JobCounts map[string]int

// Annotation is one kind/value label attached to a game, e.g. phase or
// theme.
type Annotation struct {
	GameID int64  `db:"game_id"`
	Kind   string `db:"kind"`
	Value  string `db:"value"`
}
