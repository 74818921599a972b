package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curvelabs/launchpad/internal/chain/stub"
	"github.com/curvelabs/launchpad/internal/domain"
	"github.com/curvelabs/launchpad/internal/store/memory"
)

type fakeRunner struct {
	mu     sync.Mutex
	ran    []string
	failFn func(agentID string) error
}

func (f *fakeRunner) Run(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, agentID)
	if f.failFn != nil {
		return f.failFn(agentID)
	}
	return nil
}

type fakeRetrier struct {
	results []domain.RetryResult
	err     error
}

func (f *fakeRetrier) RetryAllPending(_ context.Context) ([]domain.RetryResult, error) {
	return f.results, f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fakeArchiver struct {
	mu           sync.Mutex
	trades       int64
	audit        int64
	err          error
	snapshotsFor []string
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, _ time.Time) (int64, error) {
	return f.trades, f.err
}

func (f *fakeArchiver) ArchiveAuditLog(_ context.Context, _ time.Time) (int64, error) {
	return f.audit, f.err
}

func (f *fakeArchiver) ArchiveSnapshot(_ context.Context, agentID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshotsFor = append(f.snapshotsFor, agentID)
	return 1, f.err
}

type fakeTradeStore struct {
	domain.TradeStore
	deletedBefore *time.Time
}

func (f *fakeTradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deletedBefore = &before
	return 7, nil
}

func seedAgent(t *testing.T, agents *memory.AgentStore, phase domain.CurvePhase, gradPhase domain.GraduationPhase) domain.Agent {
	t.Helper()
	a := domain.Agent{
		ID:         "agent-" + string(phase) + "-" + string(gradPhase),
		Name:       "A",
		Symbol:     "A",
		Creator:    "0x00000000000000000000000000000000000000cc",
		Phase:      phase,
		GradPhase:  gradPhase,
		TokensSold: big.NewInt(0),
		Reserve:    big.NewInt(0),
		Version:    1,
	}
	require.NoError(t, agents.Create(context.Background(), a))
	return a
}

func newScheduler(agents *memory.AgentStore, runner *fakeRunner, retrier *fakeRetrier, notifier *fakeNotifier, archiver domain.Archiver, trades domain.TradeStore, offsets domain.IndexerOffsetStore, chain domain.ChainClient) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(agents, runner, retrier, archiver, trades, offsets, chain, notifier, logger, Config{
		RetentionDays:   30,
		ContractAddress: "0x00000000000000000000000000000000000000ef",
	})
}

func TestSweepGraduationsRunsEachPendingAgentOnce(t *testing.T) {
	agents := memory.NewAgentStore()
	ctx := context.Background()

	airdropping := seedAgent(t, agents, domain.CurveGraduating, domain.GradAirdropping)
	frozen := seedAgent(t, agents, domain.CurveGraduating, domain.GradNone)
	seedAgent(t, agents, domain.CurveActive, domain.GradNone)

	runner := &fakeRunner{}
	offsets := memory.NewIndexerOffsetStore()
	chain := stub.New()

	s := newScheduler(agents, runner, &fakeRetrier{}, &fakeNotifier{}, nil, nil, offsets, chain)
	assert.Equal(t, SweepProgressed, s.SweepGraduations(ctx))

	assert.ElementsMatch(t, []string{airdropping.ID, frozen.ID}, runner.ran)

	// The sweep records the observed chain head.
	head, err := offsets.Get(ctx, s.cfg.ContractAddress, "head")
	require.NoError(t, err)
	assert.Greater(t, head, uint64(0))
}

func TestSweepGraduationsEscalatesHardFailures(t *testing.T) {
	agents := memory.NewAgentStore()
	ctx := context.Background()

	bad := seedAgent(t, agents, domain.CurveGraduating, domain.GradAirdropping)

	runner := &fakeRunner{failFn: func(agentID string) error {
		if agentID == bad.ID {
			return errors.New("chain rejected batch")
		}
		return nil
	}}
	notifier := &fakeNotifier{}

	s := newScheduler(agents, runner, &fakeRetrier{}, notifier, nil, nil, memory.NewIndexerOffsetStore(), stub.New())
	assert.Equal(t, SweepNeedsAttention, s.SweepGraduations(ctx))

	assert.Equal(t, []string{"graduation_failed"}, notifier.events)
}

func TestSweepGraduationsSkipsLockedAgents(t *testing.T) {
	agents := memory.NewAgentStore()
	seedAgent(t, agents, domain.CurveGraduating, domain.GradAirdropping)

	runner := &fakeRunner{failFn: func(string) error { return domain.ErrLockHeld }}
	notifier := &fakeNotifier{}

	s := newScheduler(agents, runner, &fakeRetrier{}, notifier, nil, nil, memory.NewIndexerOffsetStore(), stub.New())
	assert.Equal(t, SweepProgressed, s.SweepGraduations(context.Background()))

	// Lock contention is routine, not an incident.
	assert.Empty(t, notifier.events)
}

func TestSweepsReportIdleWhenNothingPending(t *testing.T) {
	s := newScheduler(memory.NewAgentStore(), &fakeRunner{}, &fakeRetrier{}, &fakeNotifier{},
		nil, nil, memory.NewIndexerOffsetStore(), stub.New())

	assert.Equal(t, SweepIdle, s.SweepGraduations(context.Background()))
	assert.Equal(t, SweepIdle, s.SweepRetries(context.Background()))
}

func TestSweepRetriesReportsListFailure(t *testing.T) {
	retrier := &fakeRetrier{err: errors.New("store unavailable")}
	s := newScheduler(memory.NewAgentStore(), &fakeRunner{}, retrier, &fakeNotifier{},
		nil, nil, memory.NewIndexerOffsetStore(), stub.New())

	assert.Equal(t, SweepNeedsAttention, s.SweepRetries(context.Background()))
}

func TestSweepRetriesEscalatesAbandoned(t *testing.T) {
	retrier := &fakeRetrier{results: []domain.RetryResult{
		{FailureID: "f1", Status: domain.FailureResolved},
		{FailureID: "f2", Status: domain.FailureAbandoned, Err: "recipient reverted"},
	}}
	notifier := &fakeNotifier{}

	s := newScheduler(memory.NewAgentStore(), &fakeRunner{}, retrier, notifier, nil, nil, memory.NewIndexerOffsetStore(), stub.New())
	assert.Equal(t, SweepNeedsAttention, s.SweepRetries(context.Background()))

	assert.Equal(t, []string{"revenue_failure_abandoned"}, notifier.events)
}

func TestRunArchiveDeletesOnlyAfterUpload(t *testing.T) {
	trades := &fakeTradeStore{}
	archiver := &fakeArchiver{trades: 3, audit: 2}
	agents := memory.NewAgentStore()
	graduated := seedAgent(t, agents, domain.CurveGraduated, domain.GradCompleted)

	s := newScheduler(agents, &fakeRunner{}, &fakeRetrier{}, &fakeNotifier{}, archiver, trades, memory.NewIndexerOffsetStore(), stub.New())
	require.NoError(t, s.RunArchive(context.Background()))
	require.NotNil(t, trades.deletedBefore)
	assert.Equal(t, []string{graduated.ID}, archiver.snapshotsFor)

	// A failed upload must leave the primary store untouched.
	trades.deletedBefore = nil
	archiver.err = errors.New("bucket unavailable")
	require.Error(t, s.RunArchive(context.Background()))
	assert.Nil(t, trades.deletedBefore)
}

func TestNextCronTime(t *testing.T) {
	after := time.Date(2026, 3, 14, 2, 30, 0, 0, time.UTC)

	next, err := nextCronTime("0 3 * * *", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC), next)

	// Day-of-week match: 2026-03-15 is a Sunday.
	next, err = nextCronTime("0 3 * * 0", after)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 3, 0, 0, 0, time.UTC), next)

	_, err = nextCronTime("not a cron", after)
	assert.Error(t, err)
}
