package mint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/vyris/vyris-backend/internal/allocations"
	"github.com/vyris/vyris-backend/pkg/db/models"
	"github.com/vyris/vyris-backend/pkg/enums"
	pkgerrors "github.com/vyris/vyris-backend/pkg/errors"
	"github.com/vyris/vyris-backend/pkg/logger"
	"github.com/vyris/vyris-backend/pkg/metrics"
	"github.com/vyris/vyris-backend/pkg/types"
)

const (
	defaultCommitTimeout   = 15 * time.Second
	defaultMaxReceiptBytes = 64 << 10
	defaultStaleAfter      = 5 * time.Minute

	reasonSoldOut         = "SOLD_OUT"
	reasonGateUnavailable = "GATE_UNAVAILABLE"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gate interface {
	TryReserve(ctx context.Context, drop types.Drop) (bool, error)
	Release(ctx context.Context, drop types.Drop) error
}

type ledger interface {
	UpsertPending(ctx context.Context, receipt []byte, userID string, originalTxID *string) (*models.ReceiptLedgerEntry, bool, error)
	Reopen(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	MarkFulfilled(ctx context.Context, tx *gorm.DB, id, membershipID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type pool interface {
	ClaimNext(ctx context.Context, tx *gorm.DB, drop types.Drop, claimant string) (*models.Allocation, error)
}

type membershipStore interface {
	Create(ctx context.Context, tx *gorm.DB, userID string, alloc *models.Allocation) (*models.Membership, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Membership, error)
}

// Notifier is told about every minted membership inside the mint transaction.
type Notifier interface {
	MembershipMinted(ctx context.Context, tx *gorm.DB, m *models.Membership, receiptHash string) error
}

// Service mints memberships from purchase receipts.
type Service interface {
	Mint(ctx context.Context, input Input) (*Result, error)
}

// Input is one mint request. ReceiptData is treated as opaque bytes.
type Input struct {
	ReceiptData  []byte
	UserID       string
	OriginalTxID *string
}

// Result carries the minted membership. Replayed is set when the receipt had
// already been fulfilled by an earlier call.
type Result struct {
	Membership *models.Membership
	Replayed   bool
}

// ServiceParams wires the orchestrator.
type ServiceParams struct {
	Tx              txRunner
	Gate            gate
	Ledger          ledger
	Pool            pool
	Memberships     membershipStore
	Notifier        Notifier
	Drop            types.Drop
	CommitTimeout   time.Duration
	MaxReceiptBytes int
	StaleAfter      time.Duration
	Metrics         *metrics.MintMetrics
	Logger          *logger.Logger
}

type service struct {
	tx              txRunner
	gate            gate
	ledger          ledger
	pool            pool
	memberships     membershipStore
	notifier        Notifier
	drop            types.Drop
	commitTimeout   time.Duration
	maxReceiptBytes int
	staleAfter      time.Duration
	metrics         *metrics.MintMetrics
	logg            *logger.Logger
	now             func() time.Time
}

// NewService builds the mint orchestrator.
func NewService(p ServiceParams) (Service, error) {
	if p.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if p.Gate == nil {
		return nil, fmt.Errorf("admission gate required")
	}
	if p.Ledger == nil {
		return nil, fmt.Errorf("receipt ledger required")
	}
	if p.Pool == nil {
		return nil, fmt.Errorf("allocation pool required")
	}
	if p.Memberships == nil {
		return nil, fmt.Errorf("membership store required")
	}
	if p.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := p.Drop.Validate(); err != nil {
		return nil, err
	}
	if p.CommitTimeout <= 0 {
		p.CommitTimeout = defaultCommitTimeout
	}
	if p.MaxReceiptBytes <= 0 {
		p.MaxReceiptBytes = defaultMaxReceiptBytes
	}
	if p.StaleAfter <= 0 {
		p.StaleAfter = defaultStaleAfter
	}
	return &service{
		tx:              p.Tx,
		gate:            p.Gate,
		ledger:          p.Ledger,
		pool:            p.Pool,
		memberships:     p.Memberships,
		notifier:        p.Notifier,
		drop:            p.Drop,
		commitTimeout:   p.CommitTimeout,
		maxReceiptBytes: p.MaxReceiptBytes,
		staleAfter:      p.StaleAfter,
		metrics:         p.Metrics,
		logg:            p.Logger,
		now:             time.Now,
	}, nil
}

func (s *service) Mint(ctx context.Context, input Input) (*Result, error) {
	start := time.Now()
	result, err := s.mint(ctx, input)
	s.metrics.ObserveMint(outcome(result, err), time.Since(start))
	return result, err
}

func (s *service) mint(ctx context.Context, input Input) (*Result, error) {
	userID := strings.TrimSpace(input.UserID)
	if err := s.validate(input.ReceiptData, userID); err != nil {
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, userID)

	entry, isNew, err := s.ledger.UpsertPending(ctx, input.ReceiptData, userID, input.OriginalTxID)
	if err != nil {
		return nil, s.retryable(ctx, err, "record receipt")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"ledger_entry_id": entry.ID.String(), "drop": s.drop.String()})

	if !isNew {
		if entry.UserID != userID {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "receipt already used by another account")
		}
		if entry.Status == enums.ReceiptStatusFulfilled {
			return s.replay(ctx, entry)
		}
		reopened, err := s.ledger.Reopen(ctx, entry.ID, s.now().Add(-s.staleAfter))
		if err != nil {
			return nil, s.retryable(ctx, err, "reopen receipt")
		}
		if !reopened {
			return nil, pkgerrors.New(pkgerrors.CodeRetryable, "a mint for this receipt is already in progress")
		}
	}

	// From here on a slot may be held; finish the work even if the caller goes away.
	durable, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	reserved, err := s.gate.TryReserve(durable, s.drop)
	if err != nil {
		s.logg.Error(durable, "mint.gate_unavailable", err)
		s.markFailed(durable, entry.ID, reasonGateUnavailable)
		return nil, pkgerrors.Wrap(pkgerrors.CodeRetryable, err, "admission gate unavailable")
	}
	if !reserved {
		s.markFailed(durable, entry.ID, reasonSoldOut)
		return nil, pkgerrors.New(pkgerrors.CodeSoldOut, "drop is sold out")
	}

	membership, err := s.claim(durable, entry, userID)
	if err != nil {
		return nil, s.compensate(ctx, entry.ID, err)
	}

	s.logg.Info(s.logg.WithMembershipID(durable, membership.ID.String()), "membership minted")
	return &Result{Membership: membership}, nil
}

func (s *service) validate(receipt []byte, userID string) error {
	switch {
	case len(receipt) == 0:
		return pkgerrors.New(pkgerrors.CodeInvalidReceipt, "receipt data is required").
			WithDetails(map[string]string{"field": "receipt_data"})
	case len(receipt) > s.maxReceiptBytes:
		return pkgerrors.New(pkgerrors.CodeInvalidReceipt, "receipt data is too large").
			WithDetails(map[string]any{"field": "receipt_data", "max_bytes": s.maxReceiptBytes})
	case userID == "":
		return pkgerrors.New(pkgerrors.CodeInvalidReceipt, "user id is required").
			WithDetails(map[string]string{"field": "user_id"})
	}
	return nil
}

// claim runs the durable part: allocation claim, membership row, ledger
// transition and outbox event commit together or not at all.
func (s *service) claim(ctx context.Context, entry *models.ReceiptLedgerEntry, userID string) (*models.Membership, error) {
	var membership *models.Membership
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		alloc, err := s.pool.ClaimNext(ctx, tx, s.drop, userID)
		if errors.Is(err, allocations.ErrPoolExhausted) {
			s.logg.Warn(ctx, "mint.pool_exhausted_after_admission")
			return pkgerrors.Wrap(pkgerrors.CodeSoldOut, err, "drop is sold out")
		}
		if err != nil {
			return err
		}

		m, err := s.memberships.Create(ctx, tx, userID, alloc)
		if err != nil {
			return err
		}
		ok, err := s.ledger.MarkFulfilled(ctx, tx, entry.ID, m.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger entry %s is no longer pending", entry.ID)
		}
		if err := s.notifier.MembershipMinted(ctx, tx, m, entry.ReceiptHash); err != nil {
			return err
		}
		membership = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// compensate gives the reserved slot back and fails the ledger entry. Both
// steps always run; their failures are logged and counted but never replace
// the classification of cause.
func (s *service) compensate(ctx context.Context, entryID uuid.UUID, cause error) error {
	classified := classify(cause)
	reason := string(classified.Code())
	if classified.Code() != pkgerrors.CodeSoldOut {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	var compErr error
	if err := s.gate.Release(cctx, s.drop); err != nil {
		compErr = multierr.Append(compErr, err)
		s.metrics.IncCompensationFailure(metrics.StepRelease)
	} else {
		s.metrics.IncCompensation()
	}
	if err := s.ledger.MarkFailed(cctx, entryID, reason); err != nil {
		compErr = multierr.Append(compErr, err)
		s.metrics.IncCompensationFailure(metrics.StepMarkFailed)
	}

	if compErr != nil {
		s.logg.Error(cctx, "mint.compensation_failed", multierr.Combine(cause, compErr))
	} else if classified.Code() != pkgerrors.CodeSoldOut {
		s.logg.Error(cctx, "mint.claim_failed", cause)
	}
	return classified
}

func (s *service) replay(ctx context.Context, entry *models.ReceiptLedgerEntry) (*Result, error) {
	if entry.MembershipID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeRetryable, "fulfilled receipt has no membership")
	}
	m, err := s.memberships.Get(ctx, *entry.MembershipID)
	if err != nil {
		return nil, s.retryable(ctx, err, "load minted membership")
	}
	return &Result{Membership: m, Replayed: true}, nil
}

func (s *service) markFailed(ctx context.Context, entryID uuid.UUID, reason string) {
	if err := s.ledger.MarkFailed(ctx, entryID, reason); err != nil {
		s.logg.Error(ctx, "mint.mark_failed", err)
	}
}

func (s *service) retryable(ctx context.Context, err error, msg string) error {
	s.logg.Error(ctx, "mint."+strings.ReplaceAll(msg, " ", "_"), err)
	return pkgerrors.Wrap(pkgerrors.CodeRetryable, err, msg)
}

// classify maps a durable-claim failure onto the mint taxonomy.
func classify(err error) *pkgerrors.Error {
	if pkgerrors.IsCode(err, pkgerrors.CodeSoldOut) {
		return pkgerrors.As(err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeRetryable, err, "mint could not be completed")
}

func outcome(result *Result, err error) string {
	if err == nil {
		if result != nil && result.Replayed {
			return metrics.OutcomeReplayed
		}
		return metrics.OutcomeFulfilled
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeSoldOut:
		return metrics.OutcomeSoldOut
	case pkgerrors.CodeInvalidReceipt:
		return metrics.OutcomeInvalid
	case pkgerrors.CodeConflict:
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeRetryable
	}
}
