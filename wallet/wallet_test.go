package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegabu/go-mimblewimble/chain"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/nodeclient"
)

const (
	senderMnemonic   = "legal winner thank year wave sausage worth useful legal winner thank yellow"
	receiverMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
)

type fakeNode struct {
	mu      sync.Mutex
	height  uint64
	outputs map[string]nodeclient.OutputInfo
	queries int
	// commitments of the last output query
	lastQuery []string
	fail      error
}

func newFakeNode() *fakeNode {
	return &fakeNode{outputs: make(map[string]nodeclient.OutputInfo)}
}

func (t *fakeNode) GetChainTip(ctx context.Context) (nodeclient.ChainTip, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return nodeclient.ChainTip{Height: t.height, Hash: "00"}, nil
}

func (t *fakeNode) GetOutputsFromNode(ctx context.Context, commits []string) (map[string]nodeclient.OutputInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queries++
	t.lastQuery = append([]string{}, commits...)
	if t.fail != nil {
		return nil, errors.Wrap(t.fail, "output query failed")
	}
	found := make(map[string]nodeclient.OutputInfo)
	for _, c := range commits {
		if info, ok := t.outputs[c]; ok {
			found[c] = info
		}
	}
	return found, nil
}

func (t *fakeNode) confirm(commit string, height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.outputs[commit] = nodeclient.OutputInfo{Commit: commit, Height: height, MMRIndex: uint64(len(t.outputs) + 1)}
	if height > t.height {
		t.height = height
	}
}

func (t *fakeNode) spend(commit string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.outputs, commit)
}

func (t *fakeNode) setHeight(height uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.height = height
}

func (t *fakeNode) setFailure(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = err
}

func (t *fakeNode) queried() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastQuery
}

func newTestWallet(t *testing.T, mnemonic string) (*Wallet, *fakeNode) {
	store, err := NewMemStore()
	require.NoError(t, err)

	keys, err := keychain.FromMnemonic(mnemonic)
	require.NoError(t, err)

	params := chain.Usernet
	node := newFakeNode()
	w := New(store, keys, node, &params)
	t.Cleanup(func() { _ = w.Close() })
	return w, node
}

func refresh(t *testing.T, w *Wallet) {
	ok, err := w.RefreshOutputs(context.Background(), keychain.DefaultAccount, true)
	require.NoError(t, err)
	require.True(t, ok)
}

// fund mines a coinbase at height and confirms it with the node at tip.
func fund(t *testing.T, w *Wallet, node *fakeNode, height, tip uint64) *CbData {
	cb, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: height})
	require.NoError(t, err)
	node.confirm(cb.Output.Commit, height)
	node.setHeight(tip)
	refresh(t, w)
	return cb
}

func TestCommitmentIsDeterministic(t *testing.T) {
	w1, _ := newTestWallet(t, senderMnemonic)
	w2, _ := newTestWallet(t, senderMnemonic)

	cb1, err := w1.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 7})
	require.NoError(t, err)
	cb2, err := w2.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 7})
	require.NoError(t, err)

	assert.Equal(t, cb1.KeyID, cb2.KeyID)
	assert.Equal(t, cb1.Output.Commit, cb2.Output.Commit)

	out, err := w1.Store().GetOutput(keychain.DefaultAccount, cb1.KeyID)
	require.NoError(t, err)
	out.Commit = nil
	commit, err := w1.ResolveCommitment(out)
	require.NoError(t, err)
	assert.Equal(t, cb1.Output.Commit, commit)
}

func TestResolveCommitmentDerivationError(t *testing.T) {
	w, _ := newTestWallet(t, senderMnemonic)

	stranger, err := keychain.AccountID(5).Extend(1)
	require.NoError(t, err)
	out := newOutput(keychain.DefaultAccount, stranger, 10, "")
	out.Commit = nil

	_, err = w.ResolveCommitment(out)
	assert.ErrorIs(t, err, ErrDerivation)
}

func TestRefreshIsIdempotent(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	cb := fund(t, w, node, 5, 6)

	outputs, err := w.RetrieveOutputs(keychain.DefaultAccount, true, nil)
	require.NoError(t, err)
	txs, err := w.RetrieveTxs(keychain.DefaultAccount, nil, nil, false)
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.Equal(t, OutputUnspent, outputs[0].Status)
	assert.Equal(t, uint64(5), outputs[0].Height)
	require.NotNil(t, outputs[0].MMRIndex)

	require.Len(t, txs, 1)
	assert.Equal(t, ConfirmedCoinbase, txs[0].TxType)
	assert.True(t, txs[0].Confirmed)
	require.NotNil(t, txs[0].KernelExcess)
	assert.Equal(t, cb.Kernel.Excess, *txs[0].KernelExcess)

	refresh(t, w)

	again, err := w.RetrieveOutputs(keychain.DefaultAccount, true, nil)
	require.NoError(t, err)
	txsAgain, err := w.RetrieveTxs(keychain.DefaultAccount, nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, outputs, again)
	assert.Equal(t, txs, txsAgain)
}

func TestRefreshSkipsStaleChain(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	cb := fund(t, w, node, 5, 100)

	node.spend(cb.Output.Commit)
	node.setHeight(90)

	ok, err := w.RefreshOutputs(context.Background(), keychain.DefaultAccount, true)
	require.NoError(t, err)
	assert.False(t, ok)

	out, err := w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputUnspent, out.Status)

	height, err := w.Store().LastConfirmedHeight(keychain.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), height)
}

func TestRefreshAbortsOnTransportError(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	cb := fund(t, w, node, 5, 10)

	node.spend(cb.Output.Commit)
	node.setHeight(12)
	node.setFailure(errors.Wrap(nodeclient.ErrTransport, "connection refused"))

	ok, err := w.RefreshOutputs(context.Background(), keychain.DefaultAccount, true)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransport)

	out, err := w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputUnspent, out.Status)

	height, err := w.Store().LastConfirmedHeight(keychain.DefaultAccount)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), height)

	node.setFailure(nil)
	refresh(t, w)

	out, err = w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputSpent, out.Status)
}

func TestRefreshOutstandingOnly(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	fund(t, w, node, 1, 10)
	fund(t, w, node, 2, 10)

	slate, err := w.InitSend(keychain.DefaultAccount, InitTxArgs{Amount: chain.Base, MinimumConfirmations: 1})
	require.NoError(t, err)

	outputs, err := w.RetrieveOutputs(keychain.DefaultAccount, false, nil)
	require.NoError(t, err)
	var idle, input, change OutputData
	for _, out := range outputs {
		switch out.Status {
		case OutputUnspent:
			idle = out
		case OutputLocked:
			input = out
		case OutputUnconfirmed:
			change = out
		}
	}
	require.NotNil(t, idle.Commit)
	require.NotNil(t, input.Commit)
	require.NotNil(t, change.Commit)

	node.spend(*idle.Commit)
	node.spend(*input.Commit)
	node.confirm(*change.Commit, 11)
	node.setHeight(12)

	ok, err := w.RefreshOutputs(context.Background(), keychain.DefaultAccount, false)
	require.NoError(t, err)
	require.True(t, ok)

	assert.NotContains(t, node.queried(), *idle.Commit)
	assert.ElementsMatch(t, []string{*input.Commit, *change.Commit}, node.queried())

	got, err := w.Store().GetOutput(keychain.DefaultAccount, change.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputUnspent, got.Status)
	got, err = w.Store().GetOutput(keychain.DefaultAccount, input.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputSpent, got.Status)
	got, err = w.Store().GetOutput(keychain.DefaultAccount, idle.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputUnspent, got.Status)

	txs, err := w.RetrieveTxs(keychain.DefaultAccount, nil, &slate.ID, false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Confirmed)

	refresh(t, w)

	got, err = w.Store().GetOutput(keychain.DefaultAccount, idle.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputSpent, got.Status)
}

func TestCoinbaseMaturity(t *testing.T) {
	params := chain.Usernet
	out := OutputData{
		Value:      10,
		Status:     OutputUnspent,
		IsCoinbase: true,
		Height:     5,
		LockHeight: 5 + params.CoinbaseMaturity,
	}

	assert.True(t, out.IsImmature(&params, 7))
	assert.False(t, out.EligibleToSpend(&params, 7, 1))
	assert.False(t, out.IsImmature(&params, 8))
	assert.True(t, out.EligibleToSpend(&params, 8, 1))
	assert.False(t, out.EligibleToSpend(&params, 8, 10))

	// a lock height below the network maturity does not shorten it
	out.LockHeight = 6
	assert.True(t, out.IsImmature(&params, 7))

	out.IsCoinbase = false
	assert.False(t, out.IsImmature(&params, 5))
}

func TestRefreshMarksSpent(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	cb := fund(t, w, node, 5, 10)

	node.spend(cb.Output.Commit)
	node.setHeight(11)
	refresh(t, w)

	out, err := w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputSpent, out.Status)
}

func TestRefreshConfirmsFoundation(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)

	cb, err := w.BuildFoundation(keychain.DefaultAccount, BlockFees{Height: 20})
	require.NoError(t, err)
	node.confirm(cb.Output.Commit, 20)
	refresh(t, w)

	txs, err := w.RetrieveTxs(keychain.DefaultAccount, nil, nil, false)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ConfirmedFoundation, txs[0].TxType)
	assert.Equal(t, chain.Usernet.CumulativeFoundationReward(20), txs[0].AmountCredited)
}

func TestCleanOldUnconfirmedCoinbase(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)

	cb, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 5})
	require.NoError(t, err)

	node.setHeight(54)
	refresh(t, w)
	_, err = w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)

	node.setHeight(55)
	refresh(t, w)
	_, err = w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRetrieveSummaryInfo(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	reward := chain.Usernet.Reward(0, 5)

	fund(t, w, node, 5, 6)

	// an unconfirmed coinbase is not counted
	_, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 6})
	require.NoError(t, err)

	info, err := w.RetrieveSummaryInfo(keychain.DefaultAccount, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.LastConfirmedHeight)
	assert.Equal(t, reward, info.AmountImmature)
	assert.Equal(t, reward, info.Total)
	assert.Zero(t, info.AmountCurrentlySpendable)

	node.setHeight(8)
	refresh(t, w)

	info, err = w.RetrieveSummaryInfo(keychain.DefaultAccount, 1)
	require.NoError(t, err)
	assert.Equal(t, reward, info.AmountCurrentlySpendable)
	assert.Zero(t, info.AmountImmature)

	info, err = w.RetrieveSummaryInfo(keychain.DefaultAccount, 10)
	require.NoError(t, err)
	assert.Equal(t, reward, info.AmountAwaitingConfirmation)
	assert.Zero(t, info.AmountCurrentlySpendable)
	assert.Equal(t, reward, info.Total)
}

func TestBuildCoinbaseIsIdempotent(t *testing.T) {
	w, _ := newTestWallet(t, senderMnemonic)

	cb1, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 3})
	require.NoError(t, err)
	cb2, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 3, KeyID: &cb1.KeyID})
	require.NoError(t, err)
	assert.Equal(t, cb1, cb2)

	outputs, err := w.RetrieveOutputs(keychain.DefaultAccount, true, nil)
	require.NoError(t, err)
	assert.Len(t, outputs, 1)

	// a different amount cannot reuse the key
	cb3, err := w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 3, Fees: 7, KeyID: &cb1.KeyID})
	require.NoError(t, err)
	assert.NotEqual(t, cb1.KeyID, cb3.KeyID)
}

func TestBatchLocksAccount(t *testing.T) {
	w, _ := newTestWallet(t, senderMnemonic)

	batch, err := w.Store().Batch(keychain.DefaultAccount)
	require.NoError(t, err)

	_, err = w.Store().Batch(keychain.DefaultAccount)
	assert.ErrorIs(t, err, ErrLedgerLocked)

	_, err = w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 1})
	assert.ErrorIs(t, err, ErrLedgerLocked)

	batch.Discard()

	_, err = w.BuildCoinbase(keychain.DefaultAccount, BlockFees{Height: 1})
	assert.NoError(t, err)
}

func TestReadersSeeCommittedStateOnly(t *testing.T) {
	w, node := newTestWallet(t, senderMnemonic)
	cb := fund(t, w, node, 5, 10)

	batch, err := w.Store().Batch(keychain.DefaultAccount)
	require.NoError(t, err)
	defer batch.Discard()

	out, err := batch.Get(cb.KeyID)
	require.NoError(t, err)
	out.Lock()
	require.NoError(t, batch.Save(out))

	inBatch, err := batch.Get(cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputLocked, inBatch.Status)

	outside, err := w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputUnspent, outside.Status)

	require.NoError(t, batch.Commit())

	outside, err = w.Store().GetOutput(keychain.DefaultAccount, cb.KeyID)
	require.NoError(t, err)
	assert.Equal(t, OutputLocked, outside.Status)
}

func TestAccounts(t *testing.T) {
	w, _ := newTestWallet(t, senderMnemonic)

	def, err := w.Account("")
	require.NoError(t, err)
	assert.Equal(t, keychain.DefaultAccount, def)

	savings, err := w.CreateAccount("savings")
	require.NoError(t, err)
	assert.Equal(t, keychain.AccountID(1), savings)

	_, err = w.CreateAccount("savings")
	assert.Error(t, err)

	_, err = w.Account("checking")
	assert.ErrorIs(t, err, ErrNotFound)

	accounts, err := w.Accounts()
	require.NoError(t, err)
	assert.Equal(t, []AcctPathMapping{
		{Label: "default", Path: keychain.DefaultAccount},
		{Label: "savings", Path: savings},
	}, accounts)

	// accounts keep separate ledgers
	cb, err := w.BuildCoinbase(savings, BlockFees{Height: 2})
	require.NoError(t, err)
	assert.Equal(t, savings, cb.KeyID.Parent())

	outputs, err := w.RetrieveOutputs(keychain.DefaultAccount, true, nil)
	require.NoError(t, err)
	assert.Empty(t, outputs)
}
