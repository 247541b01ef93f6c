package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/daap14/teamsync/internal/host"
	"github.com/daap14/teamsync/internal/invite"
	"github.com/daap14/teamsync/internal/team"
	"github.com/daap14/teamsync/internal/teamsvc"
)

// mockService implements handler.TeamService and handler.TeamBrowser.
type mockService struct {
	joinedFn       func(ctx context.Context, p team.Player) error
	quitFn         func(ctx context.Context, p team.Player) (bool, error)
	teamOfFn       func(ctx context.Context, player uuid.UUID) (*teamsvc.TeamView, error)
	createFn       func(ctx context.Context, owner team.Player, name string) (*team.Team, error)
	disbandFn      func(ctx context.Context, actor team.Player) error
	leaveFn        func(ctx context.Context, p team.Player) error
	kickFn         func(ctx context.Context, actor team.Player, target uuid.UUID) error
	transferFn     func(ctx context.Context, actor team.Player, target uuid.UUID) error
	renameFn       func(ctx context.Context, actor team.Player, name string) error
	friendlyFireFn func(ctx context.Context, actor team.Player, enabled bool) error
	canDamageFn    func(ctx context.Context, attacker, victim uuid.UUID) (bool, error)
	chatFn         func(ctx context.Context, sender team.Player, message string) error
	inviteFn       func(ctx context.Context, inviter team.Player, target uuid.UUID) (invite.Invite, error)
	acceptFn       func(ctx context.Context, p team.Player, teamID uuid.UUID) (*team.Team, error)
	denyFn         func(ctx context.Context, p team.Player, teamID uuid.UUID) error
	cancelFn       func(ctx context.Context, actor team.Player, target uuid.UUID) error
	invitesForFn   func(ctx context.Context, player uuid.UUID) (teamsvc.InviteSummary, error)
	outgoingFn     func(ctx context.Context, player uuid.UUID) ([]invite.Invite, error)
	setHomeFn      func(ctx context.Context, actor team.Player, name string, loc host.Location) (team.Home, error)
	deleteHomeFn   func(ctx context.Context, actor team.Player, name string) error
	homesFn        func(ctx context.Context, player uuid.UUID) ([]team.Home, error)
	teleportFn     func(ctx context.Context, p team.Player, name string) (teamsvc.TeleportResult, error)
	browseFn       func(ctx context.Context) ([]*team.Team, error)
	teamFn         func(ctx context.Context, id uuid.UUID) (*teamsvc.TeamView, error)
}

func (m *mockService) PlayerJoined(ctx context.Context, p team.Player) error {
	return m.joinedFn(ctx, p)
}

func (m *mockService) PlayerQuit(ctx context.Context, p team.Player) (bool, error) {
	return m.quitFn(ctx, p)
}

func (m *mockService) TeamOf(ctx context.Context, player uuid.UUID) (*teamsvc.TeamView, error) {
	return m.teamOfFn(ctx, player)
}

func (m *mockService) CreateTeam(ctx context.Context, owner team.Player, name string) (*team.Team, error) {
	return m.createFn(ctx, owner, name)
}

func (m *mockService) Disband(ctx context.Context, actor team.Player) error {
	return m.disbandFn(ctx, actor)
}

func (m *mockService) Leave(ctx context.Context, p team.Player) error {
	return m.leaveFn(ctx, p)
}

func (m *mockService) Kick(ctx context.Context, actor team.Player, target uuid.UUID) error {
	return m.kickFn(ctx, actor, target)
}

func (m *mockService) TransferOwnership(ctx context.Context, actor team.Player, target uuid.UUID) error {
	return m.transferFn(ctx, actor, target)
}

func (m *mockService) Rename(ctx context.Context, actor team.Player, name string) error {
	return m.renameFn(ctx, actor, name)
}

func (m *mockService) SetFriendlyFire(ctx context.Context, actor team.Player, enabled bool) error {
	return m.friendlyFireFn(ctx, actor, enabled)
}

func (m *mockService) CanDamage(ctx context.Context, attacker, victim uuid.UUID) (bool, error) {
	return m.canDamageFn(ctx, attacker, victim)
}

func (m *mockService) Chat(ctx context.Context, sender team.Player, message string) error {
	return m.chatFn(ctx, sender, message)
}

func (m *mockService) Invite(ctx context.Context, inviter team.Player, target uuid.UUID) (invite.Invite, error) {
	return m.inviteFn(ctx, inviter, target)
}

func (m *mockService) AcceptInvite(ctx context.Context, p team.Player, teamID uuid.UUID) (*team.Team, error) {
	return m.acceptFn(ctx, p, teamID)
}

func (m *mockService) DenyInvite(ctx context.Context, p team.Player, teamID uuid.UUID) error {
	return m.denyFn(ctx, p, teamID)
}

func (m *mockService) CancelInvite(ctx context.Context, actor team.Player, target uuid.UUID) error {
	return m.cancelFn(ctx, actor, target)
}

func (m *mockService) InvitesFor(ctx context.Context, player uuid.UUID) (teamsvc.InviteSummary, error) {
	return m.invitesForFn(ctx, player)
}

func (m *mockService) OutgoingInvites(ctx context.Context, player uuid.UUID) ([]invite.Invite, error) {
	return m.outgoingFn(ctx, player)
}

func (m *mockService) SetHome(ctx context.Context, actor team.Player, name string, loc host.Location) (team.Home, error) {
	return m.setHomeFn(ctx, actor, name, loc)
}

func (m *mockService) DeleteHome(ctx context.Context, actor team.Player, name string) error {
	return m.deleteHomeFn(ctx, actor, name)
}

func (m *mockService) Homes(ctx context.Context, player uuid.UUID) ([]team.Home, error) {
	return m.homesFn(ctx, player)
}

func (m *mockService) TeleportHome(ctx context.Context, p team.Player, name string) (teamsvc.TeleportResult, error) {
	return m.teleportFn(ctx, p, name)
}

func (m *mockService) BrowseTeams(ctx context.Context) ([]*team.Team, error) {
	return m.browseFn(ctx)
}

func (m *mockService) Team(ctx context.Context, id uuid.UUID) (*teamsvc.TeamView, error) {
	return m.teamFn(ctx, id)
}

type directory struct {
	mu    sync.Mutex
	names map[uuid.UUID]string
}

func newDirectory() *directory {
	return &directory{names: make(map[uuid.UUID]string)}
}

func (d *directory) Remember(player uuid.UUID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names[player] = name
}

func (d *directory) PlayerName(player uuid.UUID) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.names[player]
	return name, ok
}

func makeChiRequest(method, path string, body []byte, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()

	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	return req, w
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &env)
	require.NoError(t, err, "failed to parse response body")
	return env
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	env := parseEnvelope(t, w)
	errObj, ok := env["error"].(map[string]interface{})
	require.True(t, ok, "expected error object in envelope")
	return errObj["code"].(string)
}

func sampleTeam(owner uuid.UUID, members ...uuid.UUID) *team.Team {
	t := team.New(uuid.New(), "Red Wolves", owner, testEpoch)
	for _, m := range members {
		t.Members[m] = struct{}{}
	}
	return t
}
