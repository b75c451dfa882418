package memberships

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/pkg/db/dbtest"
	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/types"
)

func newRepo(t *testing.T) (*Repository, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.Membership{}, &models.MembershipDevice{})
	return NewRepository(conn), conn
}

func createMembership(t *testing.T, repo *Repository, conn *gorm.DB, userID string, seq int) *models.Membership {
	t.Helper()
	alloc := &models.Allocation{ID: uuid.New(), Tier: "gold", Year: 2025, SequenceNum: seq, SortOrder: seq}
	var m *models.Membership
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		m, err = repo.Create(context.Background(), tx, userID, alloc)
		return err
	}))
	return m
}

func TestCreateAndGet(t *testing.T) {
	repo, conn := newRepo(t)
	m := createMembership(t, repo, conn, "user-1", 7)

	assert.Equal(t, PassSerial("gold", 2025, m.ID), m.PassSerial)
	assert.True(t, strings.HasPrefix(m.PassSerial, "vyris-gold-2025-"))

	got, err := repo.Get(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 7, got.SequenceNum)
	assert.False(t, got.Revoked)

	dto := FromModel(got)
	assert.Equal(t, m.PassSerial, dto.PassSerial)
	assert.Nil(t, FromModel(nil))
}

func TestCreateRejectsDuplicateAllocation(t *testing.T) {
	repo, conn := newRepo(t)
	alloc := &models.Allocation{ID: uuid.New(), Tier: "gold", Year: 2025, SequenceNum: 1}
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Create(ctx, tx, "a", alloc)
		return err
	}))
	err := conn.Transaction(func(tx *gorm.DB) error {
		_, err := repo.Create(ctx, tx, "b", alloc)
		return err
	})
	assert.Error(t, err)
}

func TestCreateValidates(t *testing.T) {
	repo, conn := newRepo(t)
	ctx := context.Background()
	_, err := repo.Create(ctx, nil, "user", &models.Allocation{})
	assert.Error(t, err)
	_, err = repo.Create(ctx, conn, "user", nil)
	assert.Error(t, err)
	_, err = repo.Create(ctx, conn, " ", &models.Allocation{})
	assert.Error(t, err)
}

func TestGetMissing(t *testing.T) {
	repo, conn := newRepo(t)
	_, err := repo.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	err = conn.Transaction(func(tx *gorm.DB) error {
		_, err := repo.GetForUpdate(context.Background(), tx, uuid.New())
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAndCount(t *testing.T) {
	repo, conn := newRepo(t)
	ctx := context.Background()
	m := createMembership(t, repo, conn, "user-1", 1)
	createMembership(t, repo, conn, "user-2", 2)

	changed, err := repo.Revoke(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.Revoke(ctx, m.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	got, err := repo.Get(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Revoked)
	assert.NotNil(t, got.RevokedAt)

	n, err := repo.CountByDrop(ctx, types.Drop{Tier: "gold", Year: 2025})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestDeviceLifecycle(t *testing.T) {
	repo, conn := newRepo(t)
	ctx := context.Background()
	m := createMembership(t, repo, conn, "user-1", 1)

	_, err := repo.ActiveDevice(ctx, nil, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	first, err := repo.RegisterDevice(ctx, nil, m.ID, "phone-a", "key-a")
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	again, err := repo.RegisterDevice(ctx, nil, m.ID, "phone-a", "key-a")
	require.NoError(t, err)
	assert.Equal(t, "phone-a", again.DeviceID)

	_, err = repo.RegisterDevice(ctx, nil, m.ID, "phone-b", "key-b")
	assert.ErrorIs(t, err, ErrDeviceConflict)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		ok, err := repo.DeactivateDevice(ctx, tx, m.ID, "phone-a")
		assert.True(t, ok)
		if err != nil {
			return err
		}
		return repo.UpsertActiveDevice(ctx, tx, &models.MembershipDevice{MembershipID: m.ID, DeviceID: "phone-b", PublicKey: "key-b"})
	}))

	active, err := repo.ActiveDevice(ctx, nil, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "phone-b", active.DeviceID)

	// moving back to a previously used device reactivates the same row
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if _, err := repo.DeactivateDevice(ctx, tx, m.ID, "phone-b"); err != nil {
			return err
		}
		return repo.UpsertActiveDevice(ctx, tx, &models.MembershipDevice{MembershipID: m.ID, DeviceID: "phone-a", PublicKey: "key-a2"})
	}))

	var devices []models.MembershipDevice
	require.NoError(t, conn.Where("membership_id = ?", m.ID).Order("device_id").Find(&devices).Error)
	require.Len(t, devices, 2)
	assert.True(t, devices[0].IsActive)
	assert.Equal(t, "key-a2", devices[0].PublicKey)
	assert.Nil(t, devices[0].RevokedAt)
	assert.False(t, devices[1].IsActive)
	assert.NotNil(t, devices[1].RevokedAt)
}

func TestUpsertActiveDeviceValidates(t *testing.T) {
	repo, _ := newRepo(t)
	err := repo.UpsertActiveDevice(context.Background(), nil, &models.MembershipDevice{DeviceID: "x"})
	assert.Error(t, err)
}
