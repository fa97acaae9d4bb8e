package profile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/authcore/pkg/errors"
	"github.com/tendant/authcore/pkg/token"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func sampleRecord() Record {
	return Record{
		ID:         7,
		Active:     true,
		PrivStatus: 1,
		Roles: []RoleRecord{
			{RoleID: 3},
			{RoleID: 4, Expiry: at(-time.Hour)},
			{RoleID: 5, Expiry: at(time.Hour)},
		},
		Perms: []PermRecord{
			{AppCode: 2, Codename: "view_product"},
			{AppCode: 1, Codename: "view_profile"},
			{AppCode: 2, Codename: "view_product"},
		},
		Quota: []QuotaRecord{
			{AppCode: 1, MatCode: 1, MaxNum: 3},
			{AppCode: 1, MatCode: 1, MaxNum: 8},
			{AppCode: 1, MatCode: 2, MaxNum: 9, Expiry: at(-time.Minute)},
			{AppCode: 2, MatCode: 1, MaxNum: 4, Expiry: at(time.Minute)},
		},
	}
}

func TestToGrant(t *testing.T) {
	grant, err := ToGrant(sampleRecord(), now)
	require.NoError(t, err)

	assert.Equal(t, 7, grant.Profile)
	assert.Equal(t, token.PrivStaff, grant.PrivStatus)
	assert.Equal(t, []token.Perm{
		{AppCode: 1, Codename: "view_profile"},
		{AppCode: 2, Codename: "view_product"},
	}, grant.Perms)
	assert.Equal(t, []token.Quota{
		{AppCode: 1, MatCode: 1, MaxNum: 8},
		{AppCode: 2, MatCode: 1, MaxNum: 4},
	}, grant.Quota)
	assert.Equal(t, []int{3, 5}, grant.Roles)

	t.Run("EmptyRecordHasEmptyLists", func(t *testing.T) {
		grant, err := ToGrant(Record{ID: 1, Active: true}, now)
		require.NoError(t, err)
		assert.NotNil(t, grant.Perms)
		assert.NotNil(t, grant.Quota)
		assert.Empty(t, grant.Perms)
		assert.Empty(t, grant.Quota)
	})
}

func TestService(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "profiles.json"))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, sampleRecord()))
	inactive := sampleRecord()
	inactive.ID, inactive.Active = 8, false
	require.NoError(t, store.Put(ctx, inactive))

	svc := NewService(store, WithClock(testclock.NewClock(now)))

	t.Run("Grant", func(t *testing.T) {
		grant, err := svc.Grant(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, 7, grant.Profile)
		assert.Len(t, grant.Perms, 2)
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		_, err := svc.Grant(ctx, 99)
		require.Error(t, err)
		assert.True(t, errors.IsKind(err, errors.KindPermissionDenied))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("InactiveProfile", func(t *testing.T) {
		_, err := svc.Grant(ctx, 8)
		assert.True(t, errors.IsKind(err, errors.KindPermissionDenied))
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("MissingFile", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "none.json"))
		require.NoError(t, err)
		_, err = store.Get(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("PutAndReload", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "data", "profiles.json")
		store, err := NewFileStore(path)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, sampleRecord()))

		reloaded, err := NewFileStore(path)
		require.NoError(t, err)
		rec, err := reloaded.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, sampleRecord().Perms, rec.Perms)
		assert.True(t, rec.Quota[3].Expiry.Equal(*sampleRecord().Quota[3].Expiry))

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("InvalidID", func(t *testing.T) {
		store, err := NewFileStore(filepath.Join(t.TempDir(), "profiles.json"))
		require.NoError(t, err)
		assert.Error(t, store.Put(ctx, Record{ID: 0}))
	})

	t.Run("DuplicateIDs", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"profiles":[{"id":1},{"id":1}]}`), 0o600))
		_, err := NewFileStore(path)
		assert.Error(t, err)
	})

	t.Run("Corrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "profiles.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"profiles":`), 0o600))
		_, err := NewFileStore(path)
		assert.Error(t, err)
	})
}

func TestNewStore(t *testing.T) {
	_, err := NewStore("postgres", StoreConfig{})
	assert.Error(t, err)
	_, err = NewStore("file", StoreConfig{})
	assert.Error(t, err)
	_, err = NewStore("ldap", StoreConfig{})
	assert.Error(t, err)

	store, err := NewStore("file", StoreConfig{Path: filepath.Join(t.TempDir(), "p.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)
}
