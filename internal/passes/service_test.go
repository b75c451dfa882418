package passes

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/internal/memberships"
	"github.com/vyris/vyris-backend/pkg/db"
	"github.com/vyris/vyris-backend/pkg/db/dbtest"
	"github.com/vyris/vyris-backend/pkg/db/models"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/pkpass"
)

type failingEncoder struct{}

func (failingEncoder) Encode(models.Membership) (*pkpass.Bundle, error) {
	return nil, errors.New("template missing")
}

type harness struct {
	svc  Service
	conn *gorm.DB
	repo *memberships.Repository
}

func newHarness(t *testing.T, encoder PassEncoder) *harness {
	t.Helper()
	conn := dbtest.Open(t, &models.Membership{}, &models.MembershipDevice{})
	repo := memberships.NewRepository(conn)
	if encoder == nil {
		encoder = pkpass.NewEncoder(pkpass.Options{})
	}
	svc, err := NewService(ServiceParams{
		Tx:          db.FromGorm(conn),
		Memberships: repo,
		Encoder:     encoder,
		Logger:      logger.New(logger.Options{ServiceName: "passes-test", Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &harness{svc: svc, conn: conn, repo: repo}
}

func (h *harness) seed(t *testing.T, userID string, revoked bool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	m := &models.Membership{
		ID:           id,
		UserID:       userID,
		AllocationID: uuid.New(),
		Tier:         "gold",
		Year:         2025,
		SequenceNum:  7,
		PassSerial:   memberships.PassSerial("gold", 2025, id),
	}
	if err := h.conn.Create(m).Error; err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	if revoked {
		if _, err := h.repo.Revoke(context.Background(), id); err != nil {
			t.Fatalf("revoke: %v", err)
		}
	}
	return id
}

func publicKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func expectCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if got := pkgerrors.CodeOf(err); got != code {
		t.Fatalf("expected %s, got %s (%v)", code, got, err)
	}
}

func TestIssueReturnsPassBundle(t *testing.T) {
	h := newHarness(t, nil)
	id := h.seed(t, "user-1", false)

	bundle, err := h.svc.Issue(context.Background(), id, "user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if bundle.ContentType != pkpass.ContentType {
		t.Fatalf("unexpected content type %s", bundle.ContentType)
	}
	if bundle.Filename != "vyris-gold-7.pkpass" {
		t.Fatalf("unexpected filename %s", bundle.Filename)
	}
	if _, err := zip.NewReader(bytes.NewReader(bundle.Data), int64(len(bundle.Data))); err != nil {
		t.Fatalf("bundle is not a zip archive: %v", err)
	}
}

func TestIssueRejectsUnavailableMemberships(t *testing.T) {
	h := newHarness(t, nil)
	owned := h.seed(t, "user-1", false)
	revoked := h.seed(t, "user-1", true)
	ctx := context.Background()

	_, err := h.svc.Issue(ctx, uuid.New(), "user-1")
	expectCode(t, err, pkgerrors.CodeNotFound)

	_, err = h.svc.Issue(ctx, owned, "user-2")
	expectCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = h.svc.Issue(ctx, revoked, "user-1")
	expectCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = h.svc.Issue(ctx, uuid.Nil, "user-1")
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestIssueEncoderFailureIsInternal(t *testing.T) {
	h := newHarness(t, failingEncoder{})
	id := h.seed(t, "user-1", false)

	_, err := h.svc.Issue(context.Background(), id, "user-1")
	expectCode(t, err, pkgerrors.CodeInternal)
}

func TestRegisterDevice(t *testing.T) {
	h := newHarness(t, nil)
	id := h.seed(t, "user-1", false)
	ctx := context.Background()
	key := publicKeyPEM(t)

	device, err := h.svc.RegisterDevice(ctx, DeviceInput{MembershipID: id, UserID: "user-1", DeviceID: "phone-a", PublicKey: key})
	if err != nil {
		t.Fatalf("RegisterDevice: %v", err)
	}
	if !device.IsActive || device.DeviceID != "phone-a" {
		t.Fatalf("unexpected device %+v", device)
	}

	// same device and key again is a no-op
	if _, err := h.svc.RegisterDevice(ctx, DeviceInput{MembershipID: id, UserID: "user-1", DeviceID: "phone-a", PublicKey: key}); err != nil {
		t.Fatalf("repeat RegisterDevice: %v", err)
	}

	_, err = h.svc.RegisterDevice(ctx, DeviceInput{MembershipID: id, UserID: "user-1", DeviceID: "phone-b", PublicKey: publicKeyPEM(t)})
	expectCode(t, err, pkgerrors.CodeConflict)

	_, err = h.svc.RegisterDevice(ctx, DeviceInput{MembershipID: id, UserID: "user-2", DeviceID: "phone-c", PublicKey: key})
	expectCode(t, err, pkgerrors.CodeUnauthorized)

	_, err = h.svc.RegisterDevice(ctx, DeviceInput{MembershipID: id, UserID: "user-1", DeviceID: "phone-c", PublicKey: "not a key"})
	expectCode(t, err, pkgerrors.CodeValidation)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceParams{}); err == nil {
		t.Fatal("expected missing dependency error")
	}
}
