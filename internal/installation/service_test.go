// ABOUTME: Tests for the installation service engine
// ABOUTME: Covers merge resolution, latest-wins ordering, asymmetric deletion, and partition isolation

package installation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/installstore/internal/store"
)

func newTestService(t *testing.T, partitionID string) *Service {
	t.Helper()
	return New(store.NewMockStore(true), partitionID, nil)
}

func teamInstallation(userID string) *Installation {
	expiresAt := time.Now().UTC().Truncate(time.Second)
	return &Installation{
		AppID:        "A001",
		EnterpriseID: "E001",
		TeamID:       "T001",
		UserID:       userID,
		Bot: &Grant{
			Token:        "xoxb-" + userID,
			RefreshToken: "xoxe-bot-" + userID,
			ExpiresAt:    expiresAt,
			Scopes:       []string{"chat:write"},
		},
		User: &Grant{
			Token:        "xoxp-" + userID,
			RefreshToken: "xoxe-user-" + userID,
			ExpiresAt:    expiresAt,
			Scopes:       []string{"search:read"},
		},
	}
}

func TestStoreAndFetch_RoundTrip(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	in := teamInstallation("U001")
	require.NoError(t, svc.StoreInstallation(ctx, in))

	got, err := svc.FetchInstallation(ctx, &Query{
		EnterpriseID: "E001",
		TeamID:       "T001",
		UserID:       "U001",
	})
	require.NoError(t, err)

	assert.Equal(t, "A001", got.AppID)
	assert.Equal(t, "E001", got.EnterpriseID)
	assert.Equal(t, "T001", got.TeamID)
	assert.Equal(t, "U001", got.UserID)

	require.NotNil(t, got.Bot)
	assert.Equal(t, in.Bot.Token, got.Bot.Token)
	assert.Equal(t, in.Bot.RefreshToken, got.Bot.RefreshToken)
	assert.True(t, got.Bot.ExpiresAt.Equal(in.Bot.ExpiresAt))
	assert.Equal(t, in.Bot.Scopes, got.Bot.Scopes)

	require.NotNil(t, got.User)
	assert.Equal(t, in.User.Token, got.User.Token)
	assert.Equal(t, in.User.RefreshToken, got.User.RefreshToken)
	assert.True(t, got.User.ExpiresAt.Equal(in.User.ExpiresAt))
	assert.Equal(t, in.User.Scopes, got.User.Scopes)
}

func TestFetch_BotOnlyQuery(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U001")))

	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001"})
	require.NoError(t, err)
	require.NotNil(t, got.Bot)
	assert.Nil(t, got.User, "bot-only query must not resolve a user grant")
}

func TestFetch_LastWriteWinsAcrossUsers(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U001")))
	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U002")))

	// Bot-only fetch sees user 2's bot token regardless of who asks
	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001"})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-U002", got.Bot.Token)

	// User 1's fetch merges their own user token with the latest bot token
	got, err = svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001", UserID: "U001"})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-U002", got.Bot.Token)
	assert.Equal(t, "xoxp-U001", got.User.Token)
}

func TestFetch_UserGrantOnlyVisibleToMatchingUser(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U001")))

	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001", UserID: "U002"})
	require.NoError(t, err)
	require.NotNil(t, got.Bot)
	assert.Nil(t, got.User, "another user's grant must not leak")
}

func TestFetch_UserRecordWithoutBotRecord(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	in := teamInstallation("U001")
	in.Bot = nil
	require.NoError(t, svc.StoreInstallation(ctx, in))

	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001", UserID: "U001"})
	require.NoError(t, err)
	assert.Nil(t, got.Bot)
	require.NotNil(t, got.User)
	assert.Equal(t, "xoxp-U001", got.User.Token)
	// Shared metadata falls back to the user record
	assert.Equal(t, "A001", got.AppID)
}

func TestFetch_NotFound(t *testing.T) {
	svc := newTestService(t, "")

	_, err := svc.FetchInstallation(context.Background(), &Query{
		EnterpriseID: "test-enterprise-id",
	})
	require.Error(t, err)

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t,
		"No installation data found (enterprise_id: test-enterprise-id, team_id: undefined, user_id: undefined)",
		err.Error())
}

func TestFetch_NotFoundMessageIncludesUser(t *testing.T) {
	svc := newTestService(t, "")

	_, err := svc.FetchInstallation(context.Background(), &Query{
		EnterpriseID: "test-enterprise-id",
		UserID:       "test-user-id-1",
	})
	require.Error(t, err)
	assert.Equal(t,
		"No installation data found (enterprise_id: test-enterprise-id, team_id: undefined, user_id: test-user-id-1)",
		err.Error())
}

func TestEnterpriseInstall_IgnoresTeamID(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	in := teamInstallation("U001")
	in.TeamID = "T-should-be-ignored"
	in.IsEnterpriseInstall = true
	require.NoError(t, svc.StoreInstallation(ctx, in))

	// An org-wide query with no team id resolves the install
	got, err := svc.FetchInstallation(ctx, &Query{
		EnterpriseID:        "E001",
		IsEnterpriseInstall: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-U001", got.Bot.Token)

	// A workspace query for the ignored team must not see the org-wide grant
	_, err = svc.FetchInstallation(ctx, &Query{
		EnterpriseID: "E001",
		TeamID:       "T-should-be-ignored",
	})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestDeleteInstallation_UserGrantOnly(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U001")))

	require.NoError(t, svc.DeleteInstallation(ctx, &Query{
		EnterpriseID: "E001",
		TeamID:       "T001",
		UserID:       "U001",
	}))

	// User token gone, bot grant untouched
	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001", UserID: "U001"})
	require.NoError(t, err)
	assert.Nil(t, got.User)
	require.NotNil(t, got.Bot)
	assert.Equal(t, "xoxb-U001", got.Bot.Token)
}

func TestDeleteInstallation_BotGrantOnly(t *testing.T) {
	svc := newTestService(t, "")
	ctx := context.Background()

	require.NoError(t, svc.StoreInstallation(ctx, teamInstallation("U001")))

	require.NoError(t, svc.DeleteInstallation(ctx, &Query{
		EnterpriseID: "E001",
		TeamID:       "T001",
	}))

	// Bot-only lookups now fail
	_, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)

	// The user's personal grant survives
	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001", UserID: "U001"})
	require.NoError(t, err)
	assert.Nil(t, got.Bot)
	require.NotNil(t, got.User)
	assert.Equal(t, "xoxp-U001", got.User.Token)
}

func TestDeleteInstallation_NothingToDelete(t *testing.T) {
	svc := newTestService(t, "")
	require.NoError(t, svc.DeleteInstallation(context.Background(), &Query{EnterpriseID: "E404"}))
}

func TestPartitionIsolation(t *testing.T) {
	// Two application instances share one backend
	m := store.NewMockStore(true)
	appA := New(m, "AAA", nil)
	appB := New(m, "BBB", nil)
	unpartitioned := New(m, "", nil)
	ctx := context.Background()

	require.NoError(t, appA.StoreInstallation(ctx, teamInstallation("U001")))

	q := &Query{EnterpriseID: "E001", TeamID: "T001"}

	_, err := appA.FetchInstallation(ctx, q)
	require.NoError(t, err)

	_, err = appB.FetchInstallation(ctx, q)
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf, "partition BBB must not see AAA's records")

	_, err = unpartitioned.FetchInstallation(ctx, q)
	require.ErrorAs(t, err, &nf, "the default partition must not see AAA's records")

	// Deletes are partition-scoped too
	require.NoError(t, appB.DeleteInstallation(ctx, q))
	_, err = appA.FetchInstallation(ctx, q)
	require.NoError(t, err, "BBB's delete must not touch AAA's records")
}

// failingStore wraps a MockStore and fails selected operations.
type failingStore struct {
	*store.MockStore
	failUserAppend bool
	findErr        error
	deleteErr      error
}

var errStorageDown = errors.New("storage unavailable")

func (f *failingStore) Append(ctx context.Context, rec *store.GrantRecord) (int64, error) {
	if f.failUserAppend && rec.Kind == store.GrantKindUser {
		return 0, errStorageDown
	}
	return f.MockStore.Append(ctx, rec)
}

func (f *failingStore) FindLatest(ctx context.Context, scope store.ScopeKey) (*store.GrantRecord, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.MockStore.FindLatest(ctx, scope)
}

func (f *failingStore) DeleteAll(ctx context.Context, scope store.ScopeKey) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.MockStore.DeleteAll(ctx, scope)
}

func TestStoreInstallation_PartialFailureKeepsBotHalf(t *testing.T) {
	fs := &failingStore{MockStore: store.NewMockStore(true), failUserAppend: true}
	svc := New(fs, "", nil)
	ctx := context.Background()

	err := svc.StoreInstallation(ctx, teamInstallation("U001"))
	require.ErrorIs(t, err, errStorageDown)

	// The bot half that succeeded stays durable
	got, err := svc.FetchInstallation(ctx, &Query{EnterpriseID: "E001", TeamID: "T001"})
	require.NoError(t, err)
	assert.Equal(t, "xoxb-U001", got.Bot.Token)
}

func TestFetchInstallation_StorageErrorPassesThrough(t *testing.T) {
	fs := &failingStore{MockStore: store.NewMockStore(true), findErr: errStorageDown}
	svc := New(fs, "", nil)

	_, err := svc.FetchInstallation(context.Background(), &Query{EnterpriseID: "E001"})
	require.ErrorIs(t, err, errStorageDown, "storage errors must not be reinterpreted")

	var nf *NotFoundError
	assert.False(t, errors.As(err, &nf), "storage failure must be distinguishable from no data")
}

func TestDeleteInstallation_StorageErrorPassesThrough(t *testing.T) {
	fs := &failingStore{MockStore: store.NewMockStore(true), deleteErr: errStorageDown}
	svc := New(fs, "", nil)

	err := svc.DeleteInstallation(context.Background(), &Query{EnterpriseID: "E001"})
	require.ErrorIs(t, err, errStorageDown)
}
