package team

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daap14/teamsync/internal/invite"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS teams (
	id            UUID PRIMARY KEY,
	name          TEXT NOT NULL CHECK (name <> ''),
	owner_uuid    UUID NOT NULL,
	friendly_fire BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS team_members (
	team_id     UUID NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
	member_uuid UUID NOT NULL,
	PRIMARY KEY (team_id, member_uuid)
);

CREATE INDEX IF NOT EXISTS idx_team_members_member ON team_members (member_uuid);

CREATE TABLE IF NOT EXISTS team_homes (
	team_id      UUID NOT NULL REFERENCES teams (id) ON DELETE CASCADE,
	name         TEXT NOT NULL,
	display_name TEXT NOT NULL,
	world        TEXT NOT NULL,
	x            DOUBLE PRECISION NOT NULL,
	y            DOUBLE PRECISION NOT NULL,
	z            DOUBLE PRECISION NOT NULL,
	yaw          DOUBLE PRECISION NOT NULL,
	pitch        DOUBLE PRECISION NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	created_by   UUID NOT NULL,
	server_name  TEXT NOT NULL,
	PRIMARY KEY (team_id, name)
);

CREATE TABLE IF NOT EXISTS invites (
	invitee_uuid  UUID NOT NULL,
	team_id       UUID NOT NULL,
	team_name     TEXT NOT NULL,
	inviter_uuid  UUID NOT NULL,
	created_at_ms BIGINT NOT NULL,
	expires_at_ms BIGINT NOT NULL,
	PRIMARY KEY (invitee_uuid, team_id)
);

CREATE INDEX IF NOT EXISTS idx_invites_invitee_expiry ON invites (invitee_uuid, expires_at_ms);
CREATE INDEX IF NOT EXISTS idx_invites_team_expiry ON invites (team_id, expires_at_ms);
`

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Repository backed by the given connection pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// LoadSnapshot reads the full table-set inside one read-only transaction.
func (r *PostgresRepository) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("beginning snapshot read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	snap := &Snapshot{}

	snap.Teams, err = pgQueryTeams(ctx, tx, `
		SELECT id, name, owner_uuid, friendly_fire, created_at
		FROM teams
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*Team, len(snap.Teams))
	for _, t := range snap.Teams {
		byID[t.ID] = t
	}
	if err := pgQueryMembers(ctx, tx, byID, `SELECT team_id, member_uuid FROM team_members`); err != nil {
		return nil, err
	}

	snap.Homes, err = pgQueryHomes(ctx, tx, `
		SELECT team_id, name, display_name, world, x, y, z, yaw, pitch, created_at, created_by, server_name
		FROM team_homes
		ORDER BY team_id, name`)
	if err != nil {
		return nil, err
	}

	snap.Invites, err = pgQueryInvites(ctx, tx, `
		SELECT invitee_uuid, team_id, team_name, inviter_uuid, created_at_ms, expires_at_ms
		FROM invites
		ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// SaveSnapshot deletes every row of the table-set and bulk-inserts snap.
// Any failure rolls the whole transaction back.
func (r *PostgresRepository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning snapshot save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, table := range []string{"invites", "team_homes", "team_members", "teams"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}

	if err := pgCopySnapshot(ctx, tx, snap); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing snapshot save: %w", err)
	}
	return nil
}

func pgCopySnapshot(ctx context.Context, tx pgx.Tx, snap *Snapshot) error {
	var teamRows, memberRows, homeRows, inviteRows [][]any
	for _, t := range snap.Teams {
		teamRows = append(teamRows, []any{t.ID, t.Name, t.Owner, t.FriendlyFire, t.CreatedAt})
		for _, m := range t.MemberIDs() {
			memberRows = append(memberRows, []any{t.ID, m})
		}
	}
	for _, h := range snap.Homes {
		homeRows = append(homeRows, []any{h.TeamID, h.Key, h.DisplayName, h.World, h.X, h.Y, h.Z, h.Yaw, h.Pitch, h.CreatedAt, h.CreatedBy, h.ServerID})
	}
	for _, inv := range snap.Invites {
		inviteRows = append(inviteRows, []any{inv.InviteeID, inv.TeamID, inv.TeamName, inv.InviterID, inv.CreatedAt.UnixMilli(), inv.ExpiresAt.UnixMilli()})
	}

	copies := []struct {
		table   string
		columns []string
		rows    [][]any
	}{
		{"teams", []string{"id", "name", "owner_uuid", "friendly_fire", "created_at"}, teamRows},
		{"team_members", []string{"team_id", "member_uuid"}, memberRows},
		{"team_homes", []string{"team_id", "name", "display_name", "world", "x", "y", "z", "yaw", "pitch", "created_at", "created_by", "server_name"}, homeRows},
		{"invites", []string{"invitee_uuid", "team_id", "team_name", "inviter_uuid", "created_at_ms", "expires_at_ms"}, inviteRows},
	}
	for _, c := range copies {
		if len(c.rows) == 0 {
			continue
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{c.table}, c.columns, pgx.CopyFromRows(c.rows)); err != nil {
			return fmt.Errorf("writing %s: %w", c.table, err)
		}
	}
	return nil
}

// SaveScoped deletes and rewrites the teams and invitees named by scope.
func (r *PostgresRepository) SaveScoped(ctx context.Context, snap *Snapshot, scope Scope) error {
	if scope.Empty() {
		return nil
	}
	part := scoped(snap, scope)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning scoped save: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(scope.Teams) > 0 {
		// Cascades to team_members and team_homes.
		if _, err := tx.Exec(ctx, `DELETE FROM teams WHERE id = ANY($1)`, scope.Teams); err != nil {
			return fmt.Errorf("clearing scoped teams: %w", err)
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
			if _, err := tx.Exec(ctx, `DELETE FROM invites WHERE team_id = ANY($1)`, gone); err != nil {
				return fmt.Errorf("clearing invites of removed teams: %w", err)
			}
		}
	}
	if len(scope.Invitees) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM invites WHERE invitee_uuid = ANY($1)`, scope.Invitees); err != nil {
			return fmt.Errorf("clearing scoped invites: %w", err)
		}
	}

	if err := pgCopySnapshot(ctx, tx, part); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing scoped save: %w", err)
	}
	return nil
}

// FindTeamIDByMember returns the id of the team player belongs to.
func (r *PostgresRepository) FindTeamIDByMember(ctx context.Context, player uuid.UUID) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `SELECT team_id FROM team_members WHERE member_uuid = $1 LIMIT 1`, player).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrTeamNotFound
		}
		return uuid.Nil, fmt.Errorf("querying team membership: %w", err)
	}
	return id, nil
}

// LoadTeam returns one team with its members and homes.
func (r *PostgresRepository) LoadTeam(ctx context.Context, id uuid.UUID) (*Team, []Home, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("beginning team read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	teams, err := pgQueryTeams(ctx, tx, `
		SELECT id, name, owner_uuid, friendly_fire, created_at
		FROM teams
		WHERE id = $1`, id)
	if err != nil {
		return nil, nil, err
	}
	if len(teams) == 0 {
		return nil, nil, ErrTeamNotFound
	}
	t := teams[0]

	byID := map[uuid.UUID]*Team{t.ID: t}
	if err := pgQueryMembers(ctx, tx, byID, `SELECT team_id, member_uuid FROM team_members WHERE team_id = $1`, id); err != nil {
		return nil, nil, err
	}

	homes, err := pgQueryHomes(ctx, tx, `
		SELECT team_id, name, display_name, world, x, y, z, yaw, pitch, created_at, created_by, server_name
		FROM team_homes
		WHERE team_id = $1
		ORDER BY name`, id)
	if err != nil {
		return nil, nil, err
	}

	return t, homes, nil
}

// LoadInvitesFor returns every stored invite addressed to invitee.
func (r *PostgresRepository) LoadInvitesFor(ctx context.Context, invitee uuid.UUID) ([]invite.Invite, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("beginning invite read: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	return pgQueryInvites(ctx, tx, `
		SELECT invitee_uuid, team_id, team_name, inviter_uuid, created_at_ms, expires_at_ms
		FROM invites
		WHERE invitee_uuid = $1
		ORDER BY created_at_ms ASC`, invitee)
}

func pgQueryTeams(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]*Team, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying teams: %w", err)
	}
	defer rows.Close()

	teams := []*Team{}
	for rows.Next() {
		t := &Team{Members: make(map[uuid.UUID]struct{})}
		if err := rows.Scan(&t.ID, &t.Name, &t.Owner, &t.FriendlyFire, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning team row: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating team rows: %w", err)
	}
	return teams, nil
}

func pgQueryMembers(ctx context.Context, tx pgx.Tx, byID map[uuid.UUID]*Team, query string, args ...any) error {
	rows, err := tx.Query(ctx, query, args...)
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

func pgQueryHomes(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]Home, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying homes: %w", err)
	}
	defer rows.Close()

	homes := []Home{}
	for rows.Next() {
		var h Home
		err := rows.Scan(&h.TeamID, &h.Key, &h.DisplayName, &h.World, &h.X, &h.Y, &h.Z, &h.Yaw, &h.Pitch, &h.CreatedAt, &h.CreatedBy, &h.ServerID)
		if err != nil {
			return nil, fmt.Errorf("scanning home row: %w", err)
		}
		homes = append(homes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating home rows: %w", err)
	}
	return homes, nil
}

func pgQueryInvites(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]invite.Invite, error) {
	rows, err := tx.Query(ctx, query, args...)
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
