package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/ports"
	"github.com/copytrade/engine/internal/solwire"
)

type fakeRPC struct {
	blockhash      [32]byte
	simErr         string
	simLogs        []string
	simulateErr    error
	sendErr        error
	confirmStatus  ports.ConfirmStatus
	confirmErr     error
	sendCalls      int
}

func (f *fakeRPC) GetAccountInfos(ctx context.Context, pubkeys []solwire.Pubkey, commitment chainparams.Commitment) ([]*ports.AccountInfo, error) {
	return nil, nil
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context, commitment chainparams.Commitment) ([32]byte, uint64, error) {
	return f.blockhash, 1000, nil
}

func (f *fakeRPC) SimulateTransaction(ctx context.Context, txBytes []byte) (*ports.SimulationResult, error) {
	if f.simulateErr != nil {
		return nil, f.simulateErr
	}
	return &ports.SimulationResult{UnitsConsumed: 1000, Err: f.simErr, Logs: f.simLogs}, nil
}

func (f *fakeRPC) SendTransaction(ctx context.Context, txBytes []byte, opts ports.SendOptions) (solwire.Signature, error) {
	f.sendCalls++
	if f.sendErr != nil {
		return solwire.Signature{}, f.sendErr
	}
	var sig solwire.Signature
	sig[0] = byte(f.sendCalls)
	return sig, nil
}

func (f *fakeRPC) ConfirmSignature(ctx context.Context, sig solwire.Signature, commitment chainparams.Commitment, timeout time.Duration) (ports.ConfirmStatus, error) {
	return f.confirmStatus, f.confirmErr
}

func (f *fakeRPC) GetTransaction(ctx context.Context, sig solwire.Signature) (*solwire.RawTransaction, error) {
	return nil, nil
}

type fakeSigner struct{}

func (fakeSigner) Sign(ctx context.Context, keyHandle string, messageBytes []byte) (solwire.Signature, error) {
	var sig solwire.Signature
	copy(sig[:], []byte("sig"))
	return sig, nil
}

type fakeSink struct {
	outcomes []*model.TradeOutcome
}

func (s *fakeSink) Publish(ctx context.Context, outcome *model.TradeOutcome) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

type fakePosition struct {
	holding uint64
	known   bool
	err     error
}

func (f fakePosition) HoldingOf(ctx context.Context, wallet, mint solwire.Pubkey) (uint64, bool, error) {
	return f.holding, f.known, f.err
}

func pk(b byte) solwire.Pubkey {
	var p solwire.Pubkey
	p[0] = b
	return p
}

func testPlan() *model.TradePlan {
	return &model.TradePlan{
		PlanID:    "plan-1",
		KeyHandle: "handle-1",
		Deadline:  time.Now().Add(time.Minute),
	}
}

func TestRunLandsOnConfirmedStatus(t *testing.T) {
	rpc := &fakeRPC{confirmStatus: ports.ConfirmConfirmed}
	sink := &fakeSink{}
	e := New(DefaultConfig(), rpc, fakeSigner{}, sink, fakePosition{})

	instrs := []solwire.Instruction{{ProgramID: pk(9)}}
	outcome := e.Run(context.Background(), testPlan(), instrs, PriorityNormal, pk(1))

	require.NotNil(t, outcome)
	assert.Equal(t, model.Landed, outcome.Status)
	assert.NotEmpty(t, outcome.SubmittedSignature)
	require.Len(t, sink.outcomes, 1)
	assert.Equal(t, "plan-1", sink.outcomes[0].PlanID)
}

func TestRunEmitsSimulatedRejectOnSimulationError(t *testing.T) {
	rpc := &fakeRPC{simErr: "InsufficientFunds", simLogs: []string{"log line"}}
	sink := &fakeSink{}
	e := New(DefaultConfig(), rpc, fakeSigner{}, sink, fakePosition{})

	outcome := e.Run(context.Background(), testPlan(), []solwire.Instruction{{ProgramID: pk(9)}}, PriorityNormal, pk(1))
	assert.Equal(t, model.SimulatedReject, outcome.Status)
	assert.Equal(t, "InsufficientFunds", outcome.ErrorKind)
}

func TestRunEmitsTimedOutOnUnresolvedConfirmation(t *testing.T) {
	rpc := &fakeRPC{confirmStatus: ports.ConfirmNotFound}
	sink := &fakeSink{}
	e := New(DefaultConfig(), rpc, fakeSigner{}, sink, fakePosition{})

	outcome := e.Run(context.Background(), testPlan(), []solwire.Instruction{{ProgramID: pk(9)}}, PriorityNormal, pk(1))
	assert.Equal(t, model.TimedOut, outcome.Status)
}

func TestRunEmitsSkippedOnExpiredDeadline(t *testing.T) {
	rpc := &fakeRPC{confirmStatus: ports.ConfirmConfirmed}
	sink := &fakeSink{}
	e := New(DefaultConfig(), rpc, fakeSigner{}, sink, fakePosition{})

	plan := testPlan()
	plan.Deadline = time.Now().Add(-time.Second)
	outcome := e.Run(context.Background(), plan, []solwire.Instruction{{ProgramID: pk(9)}}, PriorityNormal, pk(1))
	assert.Equal(t, model.Skipped, outcome.Status)
	assert.Equal(t, model.SkipDeadlineExpired, outcome.SkipReason)
	assert.Zero(t, rpc.sendCalls)
}

func TestRunRetriesSubmitOnTransientError(t *testing.T) {
	rpc := &fakeRPC{confirmStatus: ports.ConfirmConfirmed, sendErr: nil}
	callCount := 0
	// wrap SendTransaction to fail once then succeed, via a thin decorator
	rpc2 := &retryingRPC{fakeRPC: rpc, failFirstN: 1, calls: &callCount}
	sink := &fakeSink{}
	e := New(DefaultConfig(), rpc2, fakeSigner{}, sink, fakePosition{})

	outcome := e.Run(context.Background(), testPlan(), []solwire.Instruction{{ProgramID: pk(9)}}, PriorityNormal, pk(1))
	assert.Equal(t, model.Landed, outcome.Status)
	assert.Equal(t, 2, callCount)
}

// retryingRPC wraps fakeRPC to fail SendTransaction a fixed number of times
// before succeeding, exercising the executor's retry-with-fresh-blockhash
// path.
type retryingRPC struct {
	*fakeRPC
	failFirstN int
	calls      *int
}

func (r *retryingRPC) SendTransaction(ctx context.Context, txBytes []byte, opts ports.SendOptions) (solwire.Signature, error) {
	*r.calls++
	if *r.calls <= r.failFirstN {
		return solwire.Signature{}, assertErr
	}
	return r.fakeRPC.SendTransaction(ctx, txBytes, opts)
}

var assertErr = &transientErr{"BlockhashNotFound"}

type transientErr struct{ msg string }

func (e *transientErr) Error() string { return e.msg }

func TestScaleBuyAmountCapsAtMaxPerTrade(t *testing.T) {
	assert.Equal(t, uint64(500), ScaleBuyAmount(1000, 500))
	assert.Equal(t, uint64(1000), ScaleBuyAmount(1000, 0))
	assert.Equal(t, uint64(1000), ScaleBuyAmount(1000, 5000))
}

func TestScaleSellAmountReturnsFractionOfHolding(t *testing.T) {
	e := New(DefaultConfig(), &fakeRPC{}, fakeSigner{}, &fakeSink{}, fakePosition{holding: 1000, known: true})
	amount, ok, err := e.ScaleSellAmount(context.Background(), pk(1), pk(2), 2500)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(250), amount)
}

func TestScaleSellAmountUnknownHoldingReturnsNotOK(t *testing.T) {
	e := New(DefaultConfig(), &fakeRPC{}, fakeSigner{}, &fakeSink{}, fakePosition{known: false})
	_, ok, err := e.ScaleSellAmount(context.Background(), pk(1), pk(2), 2500)
	require.NoError(t, err)
	assert.False(t, ok)
}
