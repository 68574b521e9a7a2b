package ledger

import (
	"context"
	"fmt"

	"github.com/aristath/coffer/internal/domain"
	"github.com/google/uuid"
)

// The migration surface consumed by the rebalancing coordinator. Each
// method is one bounded step of the rebalance state machine and runs
// under the ledger mutex, so a migration step never interleaves with a
// deposit or withdrawal.

// ActiveAdapter returns the currently bound adapter, or nil.
func (l *Ledger) ActiveAdapter() domain.Adapter {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MigrateOut recovers the active adapter's entire balance into the
// ledger's custody (the idle balance) and snapshots its per-depositor
// principals for re-booking in the target. totalAssets is unchanged:
// the funds still back the shares, they just sit with the ledger.
//
// On failure nothing changes - the funds remain in the source adapter.
func (l *Ledger) MigrateOut(ctx context.Context) (uint64, map[string]uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return 0, nil, domain.ErrLedgerHalted
	}
	if l.active == nil {
		return 0, nil, domain.ErrNotInitialized
	}

	snapshot := l.active.PrincipalSnapshot()

	recovered, err := l.active.EmergencyWithdraw(ctx, l.id)
	if err != nil {
		return 0, nil, err
	}

	l.idle += recovered

	if err := l.commitLocked(domain.Event{
		Operation: domain.OpRebalanceIdle,
		Actor:     l.id,
		Amount:    recovered,
		Venue:     l.active.StrategyName(),
		Detail:    "source withdrawn, funds in ledger custody",
	}, ""); err != nil {
		return 0, nil, err
	}

	return recovered, snapshot, nil
}

// MigrateIn deploys amount of idle capital into the target adapter,
// re-booking per-depositor principals proportionally from the source
// snapshot, and switches the active binding. totalAssets is reconciled
// to the amount actually deposited; the difference (venue slippage) is
// recorded, not hidden.
//
// On failure the funds stay idle, still backing totalAssets, and the
// active binding is unchanged - the RebalanceIncomplete condition.
func (l *Ledger) MigrateIn(ctx context.Context, target domain.Adapter, snapshot map[string]uint64, amount uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.halted {
		return 0, domain.ErrLedgerHalted
	}
	if amount > l.idle {
		return 0, fmt.Errorf("%w: migrate-in %d exceeds idle %d", domain.ErrInvalidAmount, amount, l.idle)
	}

	deposited, err := l.depositPortionsLocked(ctx, target, snapshot, amount)
	if err != nil {
		return 0, err
	}

	l.idle -= amount

	// Reconcile to what the venue actually accepted.
	var slippage uint64
	if deposited < amount {
		slippage = amount - deposited
		l.totalAssets -= slippage
	}

	l.active = target

	if err := l.commitLocked(domain.Event{
		Operation: domain.OpRebalance,
		Actor:     l.id,
		Amount:    deposited,
		Venue:     target.StrategyName(),
		Detail:    fmt.Sprintf("slippage=%d", slippage),
	}, ""); err != nil {
		return 0, err
	}

	return deposited, nil
}

// depositPortionsLocked splits amount across the snapshot's depositors
// proportionally to their source principals and deposits each portion.
// The final depositor receives the remainder so the portions sum
// exactly. An empty snapshot books the whole amount under the vault
// itself. Caller must hold l.mu.
func (l *Ledger) depositPortionsLocked(ctx context.Context, target domain.Adapter, snapshot map[string]uint64, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, nil
	}

	var totalPrincipal uint64
	depositors := make([]string, 0, len(snapshot))
	for depositor, principal := range snapshot {
		if principal > 0 {
			depositors = append(depositors, depositor)
			totalPrincipal += principal
		}
	}

	if len(depositors) == 0 || totalPrincipal == 0 {
		if err := target.Deposit(ctx, l.id, l.id, amount); err != nil {
			return 0, err
		}
		return amount, nil
	}

	var deposited, assigned uint64
	for i, depositor := range depositors {
		var portion uint64
		if i == len(depositors)-1 {
			portion = amount - assigned
		} else {
			portion = mulDiv(snapshot[depositor], amount, totalPrincipal, false)
		}
		if portion == 0 {
			continue
		}
		assigned += portion

		if err := target.Deposit(ctx, l.id, depositor, portion); err != nil {
			if deposited > 0 {
				// A partial re-book cannot be left split across two
				// places; pull back what went in so all funds are idle
				// again. If the pull-back fails or returns a different
				// amount than went in, the idle balance no longer
				// matches what the ledger actually holds, so fail
				// closed instead of carrying on with wrong custody.
				recovered, rerr := target.EmergencyWithdraw(ctx, l.id)
				if rerr != nil {
					l.log.Error().Err(rerr).
						Uint64("deposited", deposited).
						Msg("Failed to roll back partial migration deposit")
					return 0, l.haltLocked(fmt.Sprintf(
						"partial migration rollback failed with %d stranded in %s: %v",
						deposited, target.StrategyName(), rerr))
				}
				if recovered != deposited {
					return 0, l.haltLocked(fmt.Sprintf(
						"partial migration rollback recovered %d of %d from %s",
						recovered, deposited, target.StrategyName()))
				}
				l.log.Warn().
					Uint64("recovered", recovered).
					Msg("Rolled back partial migration deposit")
			}
			return 0, err
		}
		deposited += portion
	}

	return deposited, nil
}

// RecoverIdle retries deploying idle funds after an incomplete
// rebalance, into the given target. The snapshot is the per-depositor
// principal breakdown captured when the funds left the source, so
// recovered capital is re-booked to its depositors rather than pooled
// under the vault. Agent- or owner-gated by the coordinator, which is
// the only caller.
func (l *Ledger) RecoverIdle(ctx context.Context, target domain.Adapter, snapshot map[string]uint64) (uint64, error) {
	l.mu.Lock()
	idle := l.idle
	l.mu.Unlock()

	if idle == 0 {
		return 0, nil
	}
	return l.MigrateIn(ctx, target, snapshot, idle)
}

// AppendEvent writes a coordinator-issued record to the append-only
// log.
func (l *Ledger) AppendEvent(ev domain.Event) {
	if l.repo == nil {
		return
	}
	ev.EventID = uuid.NewString()
	ev.CreatedAt = l.clock()
	if err := l.repo.Append(ev); err != nil {
		l.log.Error().Err(err).Str("operation", ev.Operation).Msg("Failed to append event")
	}
}
