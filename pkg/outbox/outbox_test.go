package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/pkg/db/dbtest"
	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/outbox/payloads"
)

func newTestStore(t *testing.T) (*gorm.DB, *Repository, *Service) {
	t.Helper()
	conn := dbtest.Open(t, &models.OutboxEvent{}, &models.OutboxDLQ{})
	repo := NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return conn, repo, NewService(repo, logg)
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn, _, svc := newTestStore(t)
	membershipID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventMembershipMinted,
			AggregateType: enums.AggregateMembership,
			AggregateID:   membershipID,
			Actor:         &ActorRef{UserID: "user-1"},
			Data:          payloads.MembershipMintedEvent{MembershipID: membershipID, Tier: "gold", Year: 2025},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, membershipID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.Equal(t, "user-1", envelope.Actor.UserID)

	var data payloads.MembershipMintedEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "gold", data.Tier)
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	conn, _, svc := newTestStore(t)
	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventEncounterVerified,
			AggregateType: enums.AggregateEncounter,
			AggregateID:   uuid.New(),
			Data:          payloads.EncounterVerifiedEvent{},
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitValidatesEvent(t *testing.T) {
	conn, _, svc := newTestStore(t)
	ctx := context.Background()

	assert.Error(t, svc.Emit(ctx, nil, DomainEvent{}))
	assert.Error(t, svc.Emit(ctx, conn, DomainEvent{EventType: "nope", AggregateType: enums.AggregateMembership, AggregateID: uuid.New()}))
	assert.Error(t, svc.Emit(ctx, conn, DomainEvent{EventType: enums.EventMembershipMinted, AggregateType: "nope", AggregateID: uuid.New()}))
	assert.Error(t, svc.Emit(ctx, conn, DomainEvent{EventType: enums.EventMembershipMinted, AggregateType: enums.AggregateMembership}))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn, repo, _ := newTestStore(t)
	first := seedEvent(t, conn, 0)
	second := seedEvent(t, conn, 0)
	exhausted := seedEvent(t, conn, 3)

	var fetched []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		fetched, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, fetched, 2)
	ids := []uuid.UUID{fetched[0].ID, fetched[1].ID}
	assert.ElementsMatch(t, []uuid.UUID{first.ID, second.ID}, ids)
	assert.NotContains(t, ids, exhausted.ID)

	require.NoError(t, repo.MarkPublishedTx(conn, first.ID))
	require.NoError(t, repo.MarkFailedTx(conn, second.ID, errors.New("pubsub unavailable")))

	var reloaded models.OutboxEvent
	require.NoError(t, conn.First(&reloaded, "id = ?", second.ID).Error)
	assert.Equal(t, 1, reloaded.AttemptCount)
	require.NotNil(t, reloaded.LastError)
	assert.Equal(t, "pubsub unavailable", *reloaded.LastError)

	require.NoError(t, repo.MarkTerminalTx(conn, second.ID, errors.New("gave up"), 3))
	fetched, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	assert.Empty(t, fetched)
}

func TestDeletePublishedBefore(t *testing.T) {
	conn, repo, _ := newTestStore(t)
	old := seedEvent(t, conn, 0)
	fresh := seedEvent(t, conn, 0)
	pending := seedEvent(t, conn, 0)

	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("id = ?", old.ID).Update("published_at", time.Now().UTC().Add(-40*24*time.Hour)).Error)
	require.NoError(t, repo.MarkPublishedTx(conn, fresh.ID))

	n, err := repo.DeletePublishedBefore(context.Background(), time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	assert.Len(t, remaining, 2)
	for _, row := range remaining {
		assert.NotEqual(t, old.ID, row.ID)
	}
	_ = pending
}

func TestDLQInsertIsIdempotent(t *testing.T) {
	conn, _, _ := newTestStore(t)
	dlq := NewDLQRepository(conn)
	event := seedEvent(t, conn, 0)
	long := string(make([]byte, 2000))

	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &long,
	}
	require.NoError(t, dlq.InsertTx(conn, entry))
	entry.ID = uuid.Nil
	require.NoError(t, dlq.InsertTx(conn, entry))

	var count int64
	require.NoError(t, conn.Model(&models.OutboxDLQ{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	found, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func seedEvent(t *testing.T, conn *gorm.DB, attempts int) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventMembershipMinted,
		AggregateType: enums.AggregateMembership,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"data":{}}`),
		AttemptCount:  attempts,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row
}
