package team

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/daap14/teamsync/internal/invite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS teams (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL CHECK (name <> ''),
		owner_uuid    TEXT NOT NULL,
		friendly_fire INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS team_members (
		team_id     TEXT NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
		member_uuid TEXT NOT NULL,
		PRIMARY KEY (team_id, member_uuid)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_team_members_member ON team_members (member_uuid)`,
	`CREATE TABLE IF NOT EXISTS team_homes (
		team_id       TEXT NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
		name          TEXT NOT NULL,
		display_name  TEXT NOT NULL,
		world         TEXT NOT NULL,
		x             REAL NOT NULL,
		y             REAL NOT NULL,
		z             REAL NOT NULL,
		yaw           REAL NOT NULL,
		pitch         REAL NOT NULL,
		created_at_ms INTEGER NOT NULL,
		created_by    TEXT NOT NULL,
		server_name   TEXT NOT NULL,
		PRIMARY KEY (team_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS invites (
		invitee_uuid  TEXT NOT NULL,
		team_id       TEXT NOT NULL,
		team_name     TEXT NOT NULL,
		inviter_uuid  TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		expires_at_ms INTEGER NOT NULL,
		PRIMARY KEY (invitee_uuid, team_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_invitee_expiry ON invites (invitee_uuid, expires_at_ms)`,
	`CREATE INDEX IF NOT EXISTS idx_invites_team_expiry ON invites (team_id, expires_at_ms)`,
}

// SQLiteRepository implements Repository on a single SQLite file. It suits
// single-node deployments and tests.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errors.New("empty sqlite path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return &SQLiteRepository{db: db}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (r *SQLiteRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *SQLiteRepository) Close() {
	_ = r.db.Close()
}

// LoadSnapshot reads the full table-set inside one transaction.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{}

	snap.Teams, err = liteQueryTeams(ctx, tx, `
		SELECT id, name, owner_uuid, friendly_fire, created_at_ms
		FROM teams
		ORDER BY created_at_ms ASC, id ASC`)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Team, len(snap.Teams))
	for _, t := range snap.Teams {
		byID[t.ID] = t
	}
	if err := liteQueryMembers(ctx, tx, byID, `SELECT team_id, member_uuid FROM team_members`); err != nil {
		return nil, err
	}

	snap.Homes, err = liteQueryHomes(ctx, tx, `
		SELECT team_id, name, display_name, world, x, y, z, yaw, pitch, created_at_ms, created_by, server_name
		FROM team_homes
		ORDER BY team_id, name`)
	if err != nil {
		return nil, err
	}

	snap.Invites, err = liteQueryInvites(ctx, tx, `
		SELECT invitee_uuid, team_id, team_name, inviter_uuid, created_at_ms, expires_at_ms
		FROM invites
		ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// SaveSnapshot deletes every row of the table-set and writes snap. Any
// failure rolls the whole transaction back.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning snapshot save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"invites", "team_homes", "team_members", "teams"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := liteInsertSnapshot(ctx, tx, snap); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot save: %w", err)
	}
	return nil
}

// SaveScoped deletes and rewrites the teams and invitees named by scope.
func (r *SQLiteRepository) SaveScoped(ctx context.Context, snap *Snapshot, scope Scope) error {
	if scope.Empty() {
		return nil
	}
	part := scoped(snap, scope)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning scoped save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if len(scope.Teams) > 0 {
		in, args := inClause(scope.Teams)
		for _, stmt := range []string{
			"DELETE FROM team_homes WHERE team_id IN " + in,
			"DELETE FROM team_members WHERE team_id IN " + in,
			"DELETE FROM teams WHERE id IN " + in,
		} {
			if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
				return fmt.Errorf("clearing scoped teams: %w", err)
			}
		}

		present := make(map[uuid.UUID]struct{}, len(part.Teams))
		for _, t := range part.Teams {
			present[t.ID] = struct{}{}
		}
		var gone []uuid.UUID
		for _, id := range scope.Teams {
			if _, ok := present[id]; !ok {
				gone = append(gone, id)
			}
		}
		if len(gone) > 0 {
			in, args := inClause(gone)
			if _, err := tx.ExecContext(ctx, "DELETE FROM invites WHERE team_id IN "+in, args...); err != nil {
				return fmt.Errorf("clearing invites of removed teams: %w", err)
			}
		}
	}
	if len(scope.Invitees) > 0 {
		in, args := inClause(scope.Invitees)
		if _, err := tx.ExecContext(ctx, "DELETE FROM invites WHERE invitee_uuid IN "+in, args...); err != nil {
			return fmt.Errorf("clearing scoped invites: %w", err)
		}
	}

	if err := liteInsertSnapshot(ctx, tx, part); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing scoped save: %w", err)
	}
	return nil
}

// FindTeamIDByMember returns the id of the team player belongs to.
func (r *SQLiteRepository) FindTeamIDByMember(ctx context.Context, player uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRowContext(ctx, `SELECT team_id FROM team_members WHERE member_uuid = ? LIMIT 1`, player).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, ErrTeamNotFound
		}
		return uuid.Nil, fmt.Errorf("querying team membership: %w", err)
	}
	return id, nil
}

// LoadTeam returns one team with its members and homes.
func (r *SQLiteRepository) LoadTeam(ctx context.Context, id uuid.UUID) (*Team, []Home, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("beginning team read: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	teams, err := liteQueryTeams(ctx, tx, `
		SELECT id, name, owner_uuid, friendly_fire, created_at_ms
		FROM teams
		WHERE id = ?`, id)
	if err != nil {
		return nil, nil, err
	}
	if len(teams) == 0 {
		return nil, nil, ErrTeamNotFound
	}
	t := teams[0]

	byID := map[uuid.UUID]*Team{t.ID: t}
	if err := liteQueryMembers(ctx, tx, byID, `SELECT team_id, member_uuid FROM team_members WHERE team_id = ?`, id); err != nil {
		return nil, nil, err
	}

	homes, err := liteQueryHomes(ctx, tx, `
		SELECT team_id, name, display_name, world, x, y, z, yaw, pitch, created_at_ms, created_by, server_name
		FROM team_homes
		WHERE team_id = ?
		ORDER BY name`, id)
	if err != nil {
		return nil, nil, err
	}

	return t, homes, nil
}

// LoadInvitesFor returns every stored invite addressed to invitee.
func (r *SQLiteRepository) LoadInvitesFor(ctx context.Context, invitee uuid.UUID) ([]invite.Invite, error) {
	return liteQueryInvites(ctx, r.db, `
		SELECT invitee_uuid, team_id, team_name, inviter_uuid, created_at_ms, expires_at_ms
		FROM invites
		WHERE invitee_uuid = ?
		ORDER BY created_at_ms ASC`, invitee)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func inClause(ids []uuid.UUID) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = "?"
		args[i] = id
	}
	return "(" + strings.Join(marks, ", ") + ")", args
}

func liteInsertSnapshot(ctx context.Context, tx *sql.Tx, snap *Snapshot) error {
	teamStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO teams (id, name, owner_uuid, friendly_fire, created_at_ms)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing team insert: %w", err)
	}
	defer teamStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, `INSERT INTO team_members (team_id, member_uuid) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing member insert: %w", err)
	}
	defer memberStmt.Close()

	for _, t := range snap.Teams {
		if _, err := teamStmt.ExecContext(ctx, t.ID, t.Name, t.Owner, t.FriendlyFire, t.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("inserting team %s: %w", t.ID, err)
		}
		for _, m := range t.MemberIDs() {
			if _, err := memberStmt.ExecContext(ctx, t.ID, m); err != nil {
				return fmt.Errorf("inserting member of team %s: %w", t.ID, err)
			}
		}
	}

	for _, h := range snap.Homes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO team_homes (team_id, name, display_name, world, x, y, z, yaw, pitch, created_at_ms, created_by, server_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			h.TeamID, h.Key, h.DisplayName, h.World, h.X, h.Y, h.Z, h.Yaw, h.Pitch, h.CreatedAt.UnixMilli(), h.CreatedBy, h.ServerID)
		if err != nil {
			return fmt.Errorf("inserting home %q of team %s: %w", h.Key, h.TeamID, err)
		}
	}

	for _, inv := range snap.Invites {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invites (invitee_uuid, team_id, team_name, inviter_uuid, created_at_ms, expires_at_ms)
			VALUES (?, ?, ?, ?, ?, ?)`,
			inv.InviteeID, inv.TeamID, inv.TeamName, inv.InviterID, inv.CreatedAt.UnixMilli(), inv.ExpiresAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("inserting invite: %w", err)
		}
	}
	return nil
}

func liteQueryTeams(ctx context.Context, q querier, query string, args ...any) ([]*Team, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	teams := []*Team{}
	for rows.Next() {
		t := &Team{Members: make(map[uuid.UUID]struct{})}
		var createdMs int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Owner, &t.FriendlyFire, &createdMs); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		t.CreatedAt = fromMillis(createdMs)
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team rows: %w", err)
	}
	return teams, nil
}

func liteQueryMembers(ctx context.Context, q querier, byID map[uuid.UUID]*Team, query string, args ...any) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("querying team members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var teamID, member uuid.UUID
		if err := rows.Scan(&teamID, &member); err != nil {
			return fmt.Errorf("scanning member row: %w", err)
		}
		if t, ok := byID[teamID]; ok {
			t.Members[member] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating member rows: %w", err)
	}
	return nil
}

func liteQueryHomes(ctx context.Context, q querier, query string, args ...any) ([]Home, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying homes: %w", err)
	}
	defer rows.Close()

	homes := []Home{}
	for rows.Next() {
		var h Home
		var createdMs int64
		err := rows.Scan(&h.TeamID, &h.Key, &h.DisplayName, &h.World, &h.X, &h.Y, &h.Z, &h.Yaw, &h.Pitch, &createdMs, &h.CreatedBy, &h.ServerID)
		if err != nil {
			return nil, fmt.Errorf("scanning home row: %w", err)
		}
		h.CreatedAt = fromMillis(createdMs)
		homes = append(homes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating home rows: %w", err)
	}
	return homes, nil
}

func liteQueryInvites(ctx context.Context, q querier, query string, args ...any) ([]invite.Invite, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invites: %w", err)
	}
	defer rows.Close()

	invites := []invite.Invite{}
	for rows.Next() {
		var inv invite.Invite
		var createdMs, expiresMs int64
		if err := rows.Scan(&inv.InviteeID, &inv.TeamID, &inv.TeamName, &inv.InviterID, &createdMs, &expiresMs); err != nil {
			return nil, fmt.Errorf("scanning invite row: %w", err)
		}
		inv.CreatedAt = fromMillis(createdMs)
		inv.ExpiresAt = fromMillis(expiresMs)
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invite rows: %w", err)
	}
	return invites, nil
}
