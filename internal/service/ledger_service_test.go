package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"walletledger/internal/infrastructure/cache"
	"walletledger/internal/infrastructure/lock"
	"walletledger/internal/model"
	"walletledger/internal/repository"
	"walletledger/internal/testutil"
	"walletledger/pkg/idgen"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestLedger(t *testing.T, opts LedgerOptions) (*LedgerService, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	return newLedgerOn(t, db, opts), db
}

func newLedgerOn(t *testing.T, db *gorm.DB, opts LedgerOptions) *LedgerService {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewLedgerService(db, ids, log, opts)
}

// fundedWallet 开户并入账 balance
func fundedWallet(t *testing.T, s *LedgerService, userID, balance string) {
	t.Helper()
	ctx := context.Background()
	_, err := s.CreateWallet(ctx, userID)
	require.NoError(t, err)
	if b := dec(balance); b.IsPositive() {
		_, err = s.RecordIncome(ctx, userID, b, IncomeMeta{})
		require.NoError(t, err)
	}
}

func mustWallet(t *testing.T, s *LedgerService, userID string) *model.Wallet {
	t.Helper()
	w, err := s.GetWallet(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func assertWallet(t *testing.T, w *model.Wallet, balance, pending, withdrawn string) {
	t.Helper()
	assert.True(t, w.Balance.Equal(dec(balance)), "balance=%s want %s", w.Balance, balance)
	assert.True(t, w.PendingWithdraw.Equal(dec(pending)), "pending=%s want %s", w.PendingWithdraw, pending)
	assert.True(t, w.TotalWithdrawn.Equal(dec(withdrawn)), "withdrawn=%s want %s", w.TotalWithdrawn, withdrawn)
}

func bankTransfer(amount string) WithdrawRequest {
	return WithdrawRequest{
		Amount:         dec(amount),
		PaymentMethod:  model.PaymentMethodBankTransfer,
		PaymentDetails: model.PaymentDetails{"account_number": "1234567890", "bank": "BCA"},
	}
}

func TestRecordIncome(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	fundedWallet(t, s, "u1", "0")

	trans, err := s.RecordIncome(context.Background(), "u1", dec("200000"), IncomeMeta{CampaignID: "c-1"})
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTypeIncome, trans.Type)
	assert.Equal(t, model.TransactionStatusSuccess, trans.Status)
	assert.True(t, trans.Amount.Equal(dec("200000")))
	assert.NotNil(t, trans.ProcessedAt)
	assert.Contains(t, trans.TransactionNo, idgen.PrefixIncome)

	w := mustWallet(t, s, "u1")
	assertWallet(t, w, "200000", "0", "0")
	assert.True(t, w.TotalEarned.Equal(dec("200000")))
}

func TestRecordIncome_Rejections(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()

	_, err := s.RecordIncome(ctx, "ghost", dec("10"), IncomeMeta{})
	assert.ErrorIs(t, err, ErrNotFound)

	fundedWallet(t, s, "u1", "0")
	_, err = s.RecordIncome(ctx, "u1", dec("0"), IncomeMeta{})
	assert.ErrorIs(t, err, ErrPolicyViolation)
	_, err = s.RecordIncome(ctx, "u1", dec("1.005"), IncomeMeta{})
	assert.ErrorIs(t, err, ErrPolicyViolation)

	page, err := s.ListTransactions(ctx, "u1", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestRequestWithdraw_ReservesFunds(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	fundedWallet(t, s, "u1", "200000")

	trans, err := s.RequestWithdraw(context.Background(), "u1", bankTransfer("50000"))
	require.NoError(t, err)

	assert.Equal(t, model.TransactionTypeWithdraw, trans.Type)
	assert.Equal(t, model.TransactionStatusPending, trans.Status)
	assert.Nil(t, trans.ProcessedAt)
	assertWallet(t, mustWallet(t, s, "u1"), "150000", "50000", "0")
}

func TestResolveWithdraw_Success(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "200000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)

	resolved, err := s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusSuccess, resolved.Status)
	assert.NotNil(t, resolved.ProcessedAt)

	assertWallet(t, mustWallet(t, s, "u1"), "150000", "0", "50000")
}

func TestRequestWithdraw_InsufficientFunds(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	fundedWallet(t, s, "u1", "30000")
	before := mustWallet(t, s, "u1")

	_, err := s.RequestWithdraw(context.Background(), "u1", bankTransfer("50000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.False(t, IsRetryable(err))

	after := mustWallet(t, s, "u1")
	assertWallet(t, after, "30000", "0", "0")
	assert.Equal(t, before.Version, after.Version)
}

func TestRequestWithdraw_BelowMinimum(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	fundedWallet(t, s, "u1", "100000")

	_, err := s.RequestWithdraw(context.Background(), "u1", bankTransfer("10000"))
	assert.ErrorIs(t, err, ErrPolicyViolation)
	assertWallet(t, mustWallet(t, s, "u1"), "100000", "0", "0")
}

func TestRequestWithdraw_PolicyChecks(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{MinWithdraw: dec("100")})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "1000")

	// 最低金额本身是允许的
	_, err := s.RequestWithdraw(ctx, "u1", bankTransfer("100"))
	require.NoError(t, err)

	req := bankTransfer("100")
	req.PaymentMethod = "cash"
	_, err = s.RequestWithdraw(ctx, "u1", req)
	assert.ErrorIs(t, err, ErrPolicyViolation)

	_, err = s.RequestWithdraw(ctx, "u1", bankTransfer("100.001"))
	assert.ErrorIs(t, err, ErrPolicyViolation)

	_, err = s.RequestWithdraw(ctx, "nobody", bankTransfer("100"))
	assert.ErrorIs(t, err, ErrNotFound)

	assertWallet(t, mustWallet(t, s, "u1"), "900", "100", "0")
}

func TestResolveWithdraw_FailedReturnsFunds(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	assertWallet(t, mustWallet(t, s, "u1"), "50000", "50000", "0")

	resolved, err := s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusFailed, resolved.Status)

	assertWallet(t, mustWallet(t, s, "u1"), "100000", "0", "0")
}

func TestResolveWithdraw_CancelledReturnsFunds(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "60000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("60000"))
	require.NoError(t, err)

	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusCancelled)
	require.NoError(t, err)
	assertWallet(t, mustWallet(t, s, "u1"), "60000", "0", "0")
}

func TestResolveWithdraw_TerminalIsFinal(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "200000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusSuccess)
	require.NoError(t, err)
	before := mustWallet(t, s, "u1")

	for _, outcome := range []string{model.TransactionStatusSuccess, model.TransactionStatusFailed, model.TransactionStatusCancelled} {
		_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, outcome)
		assert.ErrorIs(t, err, ErrInvalidState, outcome)
	}

	after := mustWallet(t, s, "u1")
	assertWallet(t, after, before.Balance.String(), before.PendingWithdraw.String(), before.TotalWithdrawn.String())
	assert.Equal(t, before.Version, after.Version)
}

func TestResolveWithdraw_Rejections(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "200000")

	_, err := s.ResolveWithdraw(ctx, "WDR-missing", model.TransactionStatusSuccess)
	assert.ErrorIs(t, err, ErrNotFound)

	income, err := s.RecordIncome(ctx, "u1", dec("10"), IncomeMeta{})
	require.NoError(t, err)
	_, err = s.ResolveWithdraw(ctx, income.TransactionNo, model.TransactionStatusFailed)
	assert.ErrorIs(t, err, ErrInvalidState)

	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusPending)
	assert.ErrorIs(t, err, ErrPolicyViolation)

	assertWallet(t, mustWallet(t, s, "u1"), "150010", "50000", "0")
}

func TestLedger_Conservation(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{MinWithdraw: dec("10")})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "0")

	earned := decimal.Zero
	check := func() {
		w := mustWallet(t, s, "u1")
		assert.True(t, w.Holdings().Equal(earned), "holdings=%s earned=%s", w.Holdings(), earned)
		assert.True(t, w.TotalEarned.Equal(earned))
		assert.False(t, w.Balance.IsNegative())
		assert.False(t, w.PendingWithdraw.IsNegative())
	}

	income := func(amount string) {
		_, err := s.RecordIncome(ctx, "u1", dec(amount), IncomeMeta{})
		require.NoError(t, err)
		earned = earned.Add(dec(amount))
		check()
	}
	withdraw := func(amount string) *model.Transaction {
		trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer(amount))
		require.NoError(t, err)
		check()
		return trans
	}
	resolve := func(trans *model.Transaction, outcome string) {
		_, err := s.ResolveWithdraw(ctx, trans.TransactionNo, outcome)
		require.NoError(t, err)
		check()
	}

	income("100")
	a := withdraw("40")
	b := withdraw("30")
	income("5")
	resolve(a, model.TransactionStatusSuccess)
	c := withdraw("35")
	resolve(b, model.TransactionStatusFailed)
	resolve(c, model.TransactionStatusCancelled)

	_, err := s.RequestWithdraw(ctx, "u1", bankTransfer("1000"))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	check()

	assertWallet(t, mustWallet(t, s, "u1"), "65", "0", "40")
}

func TestRequestWithdraw_AtomicOnFailure(t *testing.T) {
	s, db := newTestLedger(t, LedgerOptions{EventTopic: "ledger_events"})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	before := mustWallet(t, s, "u1")

	// 钱包已预留之后写 outbox 失败，整个事务必须回滚
	require.NoError(t, db.Migrator().DropTable(&model.OutboxMessage{}))

	_, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.Error(t, err)

	after := mustWallet(t, s, "u1")
	assert.True(t, after.Balance.Equal(before.Balance))
	assert.True(t, after.PendingWithdraw.Equal(before.PendingWithdraw))
	assert.Equal(t, before.Version, after.Version)

	page, err := s.ListAll(ctx, repository.TransactionFilter{Type: model.TransactionTypeWithdraw})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

// 内存库只有一个连接，两个请求在库内依次执行，这里覆盖的是 balance >= ? 守卫
func TestRequestWithdraw_ConcurrentRace(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{MinWithdraw: dec("1")})
	fundedWallet(t, s, "u1", "100")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.RequestWithdraw(context.Background(), "u1", bankTransfer("100"))
		}(i)
	}
	wg.Wait()

	succeeded, rejected := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assertWallet(t, mustWallet(t, s, "u1"), "0", "100", "0")
}

// 文件库开多个连接，请求并发进入各自的事务
func TestRequestWithdraw_ConcurrentRaceMultiConn(t *testing.T) {
	s := newLedgerOn(t, testutil.NewFileDB(t, 8), LedgerOptions{MinWithdraw: dec("1")})
	fundedWallet(t, s, "u1", "300")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = s.RequestWithdraw(context.Background(), "u1", bankTransfer("100"))
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 3, succeeded)
	assertWallet(t, mustWallet(t, s, "u1"), "0", "300", "0")

	page, err := s.ListAll(context.Background(), repository.TransactionFilter{Type: model.TransactionTypeWithdraw})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
}

func TestLedger_WritesOutboxEvents(t *testing.T) {
	s, db := newTestLedger(t, LedgerOptions{EventTopic: "ledger_events"})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusSuccess)
	require.NoError(t, err)

	msgs, err := repository.NewOutboxRepository(db).GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for _, m := range msgs {
		assert.Equal(t, "ledger_events", m.Topic)
		assert.Equal(t, "u1", m.MessageKey)
	}
	assert.Contains(t, msgs[0].Payload, model.EventIncomeRecorded)
	assert.Contains(t, msgs[1].Payload, model.EventWithdrawRequested)
	assert.Contains(t, msgs[2].Payload, model.EventWithdrawResolved)
	assert.Contains(t, msgs[2].Payload, `"amount":"50000.00"`)
}

func TestAttachPayout(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)

	pending, err := s.UnsubmittedWithdraws(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.AttachPayout(ctx, trans.TransactionNo, "xendit", "po-123"))
	assert.ErrorIs(t, s.AttachPayout(ctx, trans.TransactionNo, "xendit", "po-456"), ErrInvalidState)
	assert.ErrorIs(t, s.AttachPayout(ctx, "WDR-missing", "xendit", "po-1"), ErrNotFound)
	assert.ErrorIs(t, s.AttachPayout(ctx, trans.TransactionNo, "xendit", ""), ErrPolicyViolation)

	income, err := s.RecordIncome(ctx, "u1", dec("10"), IncomeMeta{})
	require.NoError(t, err)
	err = s.AttachPayout(ctx, income.TransactionNo, "xendit", "po-789")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "不是提现")

	pending, err = s.UnsubmittedWithdraws(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assertWallet(t, mustWallet(t, s, "u1"), "50010", "50000", "0")

	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusFailed)
	require.NoError(t, err)
	err = s.AttachPayout(ctx, trans.TransactionNo, "xendit", "po-999")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Contains(t, err.Error(), "已是 failed")
}

func TestCreateWallet_Idempotent(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "500")

	w, err := s.CreateWallet(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(dec("500")))

	_, err = s.CreateWallet(ctx, "")
	assert.ErrorIs(t, err, ErrPolicyViolation)

	_, err = s.GetWallet(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTransactions_Pagination(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "0")
	for i := 0; i < 3; i++ {
		_, err := s.RecordIncome(ctx, "u1", dec("1"), IncomeMeta{})
		require.NoError(t, err)
	}

	page, err := s.ListTransactions(ctx, "u1", 0, 500)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 100, page.Limit)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Items, 3)

	_, err = s.ListAll(ctx, repository.TransactionFilter{Status: "weird"})
	assert.ErrorIs(t, err, ErrPolicyViolation)
}

func TestGetFinancialSummary_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, _ := newTestLedger(t, LedgerOptions{
		SummaryCache: cache.NewJSONCache(client, "ledger:", 30*time.Second),
	})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "200000")
	trans, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)

	summary, err := s.GetFinancialSummary(ctx)
	require.NoError(t, err)
	assert.True(t, summary.TotalIncome.Equal(dec("200000")))
	assert.True(t, summary.PendingWithdraws.Equal(dec("50000")))
	assert.Equal(t, int64(2), summary.TransactionCount)

	_, err = s.ResolveWithdraw(ctx, trans.TransactionNo, model.TransactionStatusSuccess)
	require.NoError(t, err)

	cached, err := s.GetFinancialSummary(ctx)
	require.NoError(t, err)
	assert.True(t, cached.PendingWithdraws.Equal(dec("50000")))

	mr.FastForward(31 * time.Second)

	fresh, err := s.GetFinancialSummary(ctx)
	require.NoError(t, err)
	assert.True(t, fresh.PendingWithdraws.IsZero())
	assert.True(t, fresh.TotalWithdrawn.Equal(dec("50000")))
	assert.True(t, fresh.CurrentBalance.Equal(dec("150000")))
}

func TestGetFinancialSummary_CacheDownFallsBackToStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, _ := newTestLedger(t, LedgerOptions{
		SummaryCache: cache.NewJSONCache(client, "ledger:", time.Minute),
	})
	fundedWallet(t, s, "u1", "10")
	mr.Close()

	summary, err := s.GetFinancialSummary(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.TotalIncome.Equal(dec("10")))
}

type busyLocker struct{}

func (busyLocker) LockUser(context.Context, string) (func(), error) {
	return nil, lock.ErrLockFailed
}

func TestRequestWithdraw_LockUnavailableIsConflict(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{Locker: busyLocker{}})
	fundedWallet(t, s, "u1", "100000")

	_, err := s.RequestWithdraw(context.Background(), "u1", bankTransfer("50000"))
	assert.ErrorIs(t, err, ErrConflict)
	assert.True(t, IsRetryable(err))
	assertWallet(t, mustWallet(t, s, "u1"), "100000", "0", "0")
}

func TestRequestWithdraw_ReleasesUserLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, _ := newTestLedger(t, LedgerOptions{Locker: lock.NewUserLocker(client)})
	fundedWallet(t, s, "u1", "100000")

	_, err := s.RequestWithdraw(context.Background(), "u1", bankTransfer("50000"))
	require.NoError(t, err)
	assert.False(t, mr.Exists(lock.WithdrawLockKey("u1")))
}

func TestStaleWithdraws(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	_, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)

	stale, err := s.StaleWithdraws(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	stale, err = s.StaleWithdraws(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, stale, 1)
}

func TestExpireWithdraw(t *testing.T) {
	s, _ := newTestLedger(t, LedgerOptions{})
	ctx := context.Background()
	fundedWallet(t, s, "u1", "100000")
	submitted, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	unsubmitted, err := s.RequestWithdraw(ctx, "u1", bankTransfer("50000"))
	require.NoError(t, err)
	require.NoError(t, s.AttachPayout(ctx, submitted.TransactionNo, "manual", "po-1"))

	// 已提交网关的提现不能被超时取消
	_, err = s.ExpireWithdraw(ctx, submitted.TransactionNo)
	assert.ErrorIs(t, err, ErrInvalidState)
	assertWallet(t, mustWallet(t, s, "u1"), "0", "100000", "0")

	expired, err := s.ExpireWithdraw(ctx, unsubmitted.TransactionNo)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusCancelled, expired.Status)
	assertWallet(t, mustWallet(t, s, "u1"), "50000", "50000", "0")

	_, err = s.ExpireWithdraw(ctx, unsubmitted.TransactionNo)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = s.ExpireWithdraw(ctx, "WDR-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
