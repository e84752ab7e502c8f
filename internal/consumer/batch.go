package consumer

import (
	"context"
	"time"

	"github.com/brianYuDesign/balance-engine/internal/errs"
	"github.com/brianYuDesign/balance-engine/internal/model"
	"github.com/brianYuDesign/balance-engine/internal/record"
	"github.com/brianYuDesign/balance-engine/internal/repo"
	"github.com/brianYuDesign/balance-engine/internal/snapshot"
	"github.com/brianYuDesign/balance-engine/internal/stream"
	"github.com/shopspring/decimal"
)

// deadLetter is a record the batch could not parse, queued for the DLQ.
type deadLetter struct {
	msg   stream.Message
	kind  errs.Kind
	cause string
}

// workState tracks one (account, currency) across a batch. The balance
// copy is mutated as records apply; the working set and store are only
// touched after the commit succeeds.
type workState struct {
	bal            *model.Balance
	initialVersion uint64
	successes      uint64
}

// batchPlan is the computed outcome of one batch, ready to commit.
type batchPlan struct {
	commit      repo.BatchCommit
	snapshots   []snapshot.Snapshot
	applied     []*model.Balance
	deadLetters []deadLetter
}

// buildPlan turns raw log records into a commit: parse, dedup against
// the ledger and within the batch, load balances through the working
// set, compute after-states, and collect ledger rows for every terminal
// outcome. Rejections are terminal failed rows; only infrastructure
// errors surface as errors.
func (w *Worker) buildPlan(ctx context.Context, msgs []stream.Message) (*batchPlan, error) {
	plan := &batchPlan{commit: repo.BatchCommit{
		Group:     w.cfg.Group,
		Topic:     w.cfg.Topic,
		Partition: w.cfg.Partition,
		Offset:    msgs[len(msgs)-1].Offset,
	}}

	type parsed struct {
		msg stream.Message
		mut *record.Mutation
	}
	var muts []parsed
	ids := make([]string, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, msg := range msgs {
		m, err := record.Unmarshal(msg.Value)
		if err != nil {
			plan.deadLetters = append(plan.deadLetters, deadLetter{
				msg: msg, kind: errs.KindOf(err), cause: err.Error(),
			})
			continue
		}
		// two records with the same transaction id collapse to one
		if seen[m.TransactionID] {
			continue
		}
		seen[m.TransactionID] = true
		muts = append(muts, parsed{msg: msg, mut: m})
		ids = append(ids, m.TransactionID)
	}

	terminal, err := w.store.TerminalStatuses(ctx, ids)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransient, "ledger dedup lookup", err)
	}

	states := make(map[string]*workState)
	for _, p := range muts {
		if _, dup := terminal[p.mut.TransactionID]; dup {
			continue
		}
		if err := w.applyMutation(ctx, states, p.mut, plan); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	for _, st := range states {
		if st.successes == 0 {
			continue
		}
		st.bal.UpdatedAt = now
		plan.commit.Upserts = append(plan.commit.Upserts, repo.BalanceUpsert{
			AccountID:       st.bal.AccountID,
			Currency:        st.bal.CurrencyCode,
			Available:       st.bal.Available,
			Frozen:          st.bal.Frozen,
			Version:         st.bal.Version,
			ExpectedVersion: st.initialVersion,
		})
		plan.applied = append(plan.applied, st.bal)
		plan.snapshots = append(plan.snapshots, snapshot.Snapshot{
			AccountID: st.bal.AccountID,
			Currency:  st.bal.CurrencyCode,
			Available: st.bal.Available,
			Frozen:    st.bal.Frozen,
			Version:   st.bal.Version,
			UpdatedAt: now,
		})
	}
	return plan, nil
}

// applyMutation resolves the balance for one record and computes its
// outcome, appending exactly one ledger row to the plan.
func (w *Worker) applyMutation(ctx context.Context, states map[string]*workState, m *record.Mutation, plan *batchPlan) error {
	key := balanceKey(m.AccountID, m.Currency)
	st, ok := states[key]
	if !ok {
		bal := w.ws.Get(m.AccountID, m.Currency)
		if bal == nil {
			loaded, err := w.store.LoadBalance(ctx, m.AccountID, m.Currency)
			if err != nil {
				return errs.Wrap(errs.KindTransient, "load balance", err)
			}
			bal = loaded
		}
		if bal == nil {
			if m.Kind != record.KindDeposit {
				plan.commit.Entries = append(plan.commit.Entries, failedEntry(m, decimal.Zero, decimal.Zero,
					errs.KindUnknownBalance, "no balance for account"))
				return nil
			}
			st = &workState{bal: &model.Balance{
				AccountID:    m.AccountID,
				CurrencyCode: m.Currency,
				Available:    decimal.Zero,
				Frozen:       decimal.Zero,
			}}
		} else {
			cp := *bal
			st = &workState{bal: &cp, initialVersion: bal.Version}
		}
		states[key] = st
	}

	avail, frozen := st.bal.Available, st.bal.Frozen
	newAvail, newFrozen := avail, frozen
	switch m.Kind {
	case record.KindDeposit:
		newAvail = avail.Add(m.Amount)
	case record.KindWithdraw, record.KindTransfer:
		newAvail = avail.Sub(m.Amount)
	case record.KindFreeze:
		newAvail = avail.Sub(m.Amount)
		newFrozen = frozen.Add(m.Amount)
	case record.KindUnfreeze:
		newAvail = avail.Add(m.Amount)
		newFrozen = frozen.Sub(m.Amount)
	}

	if newAvail.IsNegative() {
		plan.commit.Entries = append(plan.commit.Entries,
			failedEntry(m, avail, frozen, errs.KindInsufficientFunds, "insufficient available funds"))
		return nil
	}
	if newFrozen.IsNegative() {
		plan.commit.Entries = append(plan.commit.Entries,
			failedEntry(m, avail, frozen, errs.KindInsufficientFunds, "insufficient frozen funds"))
		return nil
	}

	st.bal.Available = newAvail
	st.bal.Frozen = newFrozen
	st.successes++
	st.bal.Version = st.initialVersion + st.successes

	plan.commit.Entries = append(plan.commit.Entries, &model.LedgerEntry{
		TransactionID:   m.TransactionID,
		AccountID:       m.AccountID,
		CurrencyCode:    m.Currency,
		Kind:            m.Kind,
		Amount:          m.Amount,
		AvailableBefore: avail,
		AvailableAfter:  newAvail,
		FrozenBefore:    frozen,
		FrozenAfter:     newFrozen,
		Status:          model.LedgerSuccess,
	})
	return nil
}

func failedEntry(m *record.Mutation, avail, frozen decimal.Decimal, kind errs.Kind, cause string) *model.LedgerEntry {
	return &model.LedgerEntry{
		TransactionID:   m.TransactionID,
		AccountID:       m.AccountID,
		CurrencyCode:    m.Currency,
		Kind:            m.Kind,
		Amount:          m.Amount,
		AvailableBefore: avail,
		AvailableAfter:  avail,
		FrozenBefore:    frozen,
		FrozenAfter:     frozen,
		Status:          model.LedgerFailed,
		ErrorMessage:    kind.String() + ": " + cause,
	}
}
