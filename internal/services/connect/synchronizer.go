// Package connect keeps the local mirror of each consultant's connected payout account.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/models"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/locker"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/processor"
	"github.com/Windi-Fikriyansyah/consultant_escrow/internal/services/store"
)

const (
	EventAccountUpdated  = "account.updated"
	EventAppAuthorized   = "account.application.authorized"
	EventAppDeauthorized = "account.application.deauthorized"
	EventCapability      = "capability.updated"
)

var (
	ErrNotOnboarded     = errors.New("connect: consultant has no connected account")
	ErrAlreadyOnboarded = errors.New("connect: consultant already has a different connected account")
	ErrAccountInUse     = errors.New("connect: connected account belongs to another consultant")
	ErrMissingSnapshot  = errors.New("connect: account.updated without account object")
)

// AccountEvent is a verified webhook addressed to a connected account.
type AccountEvent struct {
	ID        string
	Type      string
	Created   time.Time
	AccountID string
	// Snapshot is set for account.updated; other types trigger a poll.
	Snapshot *processor.AccountSnapshot
}

type Synchronizer struct {
	store store.Store
	proc  processor.Client
	locks locker.Locker
	retry processor.RetryPolicy
	nowFn func() time.Time
}

func NewSynchronizer(st store.Store, proc processor.Client, locks locker.Locker, retry processor.RetryPolicy) *Synchronizer {
	return &Synchronizer{
		store: st,
		proc:  proc,
		locks: locks,
		retry: retry,
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// ApplySnapshot recomputes the connect state from snap and saves it. Snapshots older than the
// last applied one are ignored, which makes delivery order irrelevant. Caller holds the
// account lock.
func (s *Synchronizer) ApplySnapshot(ctx context.Context, acct *models.ConsultantAccount, snap processor.AccountSnapshot) (bool, error) {
	if acct.SnapshotAt != nil && snap.At.Before(*acct.SnapshotAt) {
		slog.Default().WarnContext(ctx, "stale account snapshot skipped",
			"module", "connect",
			"operation", "apply_snapshot",
			"outcome", "stale",
			"account_id", snap.ID,
			"snapshot_at", snap.At,
			"last_applied_at", *acct.SnapshotAt,
		)
		return false, nil
	}

	prev := acct.ConnectStatus
	at := snap.At
	acct.SetConnectState(MapStatus(snap), snap.PayoutsEnabled, snap.ChargesEnabled)
	acct.Requirements = slices.Clone(snap.Requirements)
	acct.DisabledReason = snap.DisabledReason
	acct.SnapshotAt = &at
	if err := s.store.SaveConsultant(ctx, acct); err != nil {
		return false, err
	}

	slog.Default().InfoContext(ctx, "connect status synchronized",
		"module", "connect",
		"operation", "apply_snapshot",
		"outcome", "applied",
		"account_id", snap.ID,
		"from", prev,
		"to", acct.ConnectStatus,
		"payouts_enabled", acct.PayoutsEnabled,
	)
	return true, nil
}

// ApplyAccountEvent dispatches one account webhook. Caller holds the account lock.
func (s *Synchronizer) ApplyAccountEvent(ctx context.Context, acct *models.ConsultantAccount, ev AccountEvent) error {
	switch ev.Type {
	case EventAccountUpdated:
		if ev.Snapshot == nil {
			return ErrMissingSnapshot
		}
		snap := *ev.Snapshot
		snap.ID = ev.AccountID
		snap.At = ev.Created
		_, err := s.ApplySnapshot(ctx, acct, snap)
		return err

	case EventCapability, EventAppAuthorized:
		snap, err := s.poll(ctx, ev.AccountID)
		if err != nil {
			return err
		}
		_, err = s.ApplySnapshot(ctx, acct, snap)
		return err

	case EventAppDeauthorized:
		return s.deauthorize(ctx, acct, ev.Created)
	}
	return nil
}

func (s *Synchronizer) deauthorize(ctx context.Context, acct *models.ConsultantAccount, at time.Time) error {
	if acct.SnapshotAt != nil && at.Before(*acct.SnapshotAt) {
		return nil
	}
	acct.SetConnectState(models.ConnectRestricted, false, false)
	acct.DisabledReason = "deauthorized"
	acct.DeauthorizedAt = &at
	acct.SnapshotAt = &at
	if err := s.store.SaveConsultant(ctx, acct); err != nil {
		return err
	}
	slog.Default().WarnContext(ctx, "connected account deauthorized",
		"module", "connect",
		"operation", "deauthorize",
		"outcome", "restricted",
		"consultant_id", acct.ID,
	)
	return nil
}

// poll fetches a full snapshot. The clock stamps it, since a poll reflects the current state.
func (s *Synchronizer) poll(ctx context.Context, accountID string) (processor.AccountSnapshot, error) {
	var snap processor.AccountSnapshot
	err := s.retry.Do(ctx, "get_account", func(ctx context.Context) error {
		var err error
		snap, err = s.proc.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		return processor.AccountSnapshot{}, fmt.Errorf("poll account %s: %w", accountID, err)
	}
	snap.ID = accountID
	snap.At = s.nowFn()
	return snap, nil
}

// StartOnboarding attaches the processor's connected-account id to a consultant. Re-attaching
// the same id is a no-op.
func (s *Synchronizer) StartOnboarding(ctx context.Context, consultantID uuid.UUID, accountID string) (models.ConsultantAccount, error) {
	unlock, err := s.locks.Lock(ctx, locker.AccountKey(accountID))
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	defer unlock()

	acct, err := s.store.GetConsultant(ctx, consultantID)
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	if acct.ConnectedAccountID != nil {
		if *acct.ConnectedAccountID == accountID {
			return acct, nil
		}
		return models.ConsultantAccount{}, ErrAlreadyOnboarded
	}
	acct.ConnectedAccountID = &accountID
	if err := s.store.SaveConsultant(ctx, &acct); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return models.ConsultantAccount{}, ErrAccountInUse
		}
		return models.ConsultantAccount{}, err
	}
	slog.Default().InfoContext(ctx, "connect onboarding started",
		"module", "connect",
		"operation", "start_onboarding",
		"outcome", "attached",
		"consultant_id", consultantID,
		"account_id", accountID,
	)
	return acct, nil
}

// SyncAccount polls the processor on demand, the fallback when webhooks were missed.
func (s *Synchronizer) SyncAccount(ctx context.Context, consultantID uuid.UUID) (models.ConsultantAccount, error) {
	acct, err := s.store.GetConsultant(ctx, consultantID)
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	if acct.ConnectedAccountID == nil {
		return models.ConsultantAccount{}, ErrNotOnboarded
	}
	accountID := *acct.ConnectedAccountID

	unlock, err := s.locks.Lock(ctx, locker.AccountKey(accountID))
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	defer unlock()

	acct, err = s.store.GetConsultant(ctx, consultantID)
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	snap, err := s.poll(ctx, accountID)
	if err != nil {
		return models.ConsultantAccount{}, err
	}
	if _, err := s.ApplySnapshot(ctx, &acct, snap); err != nil {
		return models.ConsultantAccount{}, err
	}
	return acct, nil
}

func (s *Synchronizer) WithClock(now func() time.Time) *Synchronizer {
	s.nowFn = now
	return s
}
