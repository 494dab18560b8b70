package wallet

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
)

const defaultAccountLabel = "default"

type LeveldbStore struct {
	db *leveldb.DB

	mu         sync.Mutex
	locks      map[keychain.Identifier]*sync.Mutex
	accountsMu sync.Mutex
}

var _ Store = (*LeveldbStore)(nil)

func NewLeveldbStore(dbDir string) (*LeveldbStore, error) {
	dbFilename := filepath.Join(dbDir, "wallet")

	ldb, err := leveldb.OpenFile(dbFilename, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open leveldb at %v", dbFilename)
	}

	return newLeveldbStore(ldb)
}

// NewMemStore keeps everything in memory.
func NewMemStore() (*LeveldbStore, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open in-memory leveldb")
	}
	return newLeveldbStore(ldb)
}

func newLeveldbStore(ldb *leveldb.DB) (*LeveldbStore, error) {
	t := &LeveldbStore{db: ldb, locks: make(map[keychain.Identifier]*sync.Mutex)}

	exists, err := ldb.Has(accountKey(defaultAccountLabel), nil)
	if err != nil {
		return nil, errors.Wrap(err, "cannot check default account")
	}
	if !exists {
		err = putJSON(ldb, accountKey(defaultAccountLabel), AcctPathMapping{Label: defaultAccountLabel, Path: keychain.DefaultAccount})
		if err != nil {
			return nil, errors.Wrap(err, "cannot create default account")
		}
	}

	return t, nil
}

func (t *LeveldbStore) Close() error {
	return t.db.Close()
}

func outputKey(account string, keyID keychain.Identifier) []byte {
	return []byte("output." + account + "." + keyID.String())
}

func outputSeqKey(account string, seq uint64) []byte {
	return []byte(fmt.Sprintf("outseq.%s.%020d", account, seq))
}

func outputSeqRange(account string) *util.Range {
	return util.BytesPrefix([]byte("outseq." + account + "."))
}

func historyKey(account string, keyID keychain.Identifier, txLogID uint32) []byte {
	return []byte(fmt.Sprintf("history.%s.%s.%010d", account, keyID, txLogID))
}

func historyRange(account string) *util.Range {
	return util.BytesPrefix([]byte("history." + account + "."))
}

func txLogKey(account string, id uint32) []byte {
	return []byte(fmt.Sprintf("txlog.%s.%010d", account, id))
}

func txLogRange(account string) *util.Range {
	return util.BytesPrefix([]byte("txlog." + account + "."))
}

func txSlateKey(account string, slateID uuid.UUID) []byte {
	return []byte("txslate." + account + "." + slateID.String())
}

func heightKey(account string) []byte {
	return []byte("height." + account)
}

func counterKey(name string, account string) []byte {
	return []byte("counter." + name + "." + account)
}

func contextKey(account string, slateID uuid.UUID) []byte {
	return []byte("context." + account + "." + slateID.String())
}

func accountKey(label string) []byte {
	return []byte("account." + label)
}

func accountRange() *util.Range {
	return util.BytesPrefix([]byte("account."))
}

func storedTxKey(name string) []byte {
	return []byte("storedtx." + name)
}

// reader is what a DB, a snapshot and a transaction have in common.
type reader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type writer interface {
	Put(key, value []byte, wo *opt.WriteOptions) error
}

func getJSON(r reader, key []byte, v interface{}) error {
	data, err := r.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return errors.Wrapf(ErrNotFound, "no value at %s", key)
	}
	if err != nil {
		return errors.Wrapf(err, "cannot Get %s", key)
	}
	err = json.Unmarshal(data, v)
	if err != nil {
		return errors.Wrapf(err, "cannot unmarshal value at %s", key)
	}
	return nil
}

func putJSON(w writer, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "cannot marshal value for %s", key)
	}
	err = w.Put(key, data, nil)
	if err != nil {
		return errors.Wrapf(err, "cannot Put %s", key)
	}
	return nil
}

func matchesOutput(out OutputData, filter OutputFilter) bool {
	if filter.TxLogID != nil && (out.TxLogEntry == nil || *out.TxLogEntry != *filter.TxLogID) {
		return false
	}
	if len(filter.Statuses) == 0 {
		return true
	}
	for _, status := range filter.Statuses {
		if out.Status == status {
			return true
		}
	}
	return false
}

func collectOutputs(it OutputIterator, filter OutputFilter) ([]OutputData, error) {
	defer it.Release()

	outputs := make([]OutputData, 0)
	for ok := it.First(); ok; ok = it.Next() {
		outputs = append(outputs, it.Output())
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	if filter.DisplayOrder {
		sort.SliceStable(outputs, func(i, j int) bool {
			if outputs[i].NChild != outputs[j].NChild {
				return outputs[i].NChild < outputs[j].NChild
			}
			return txLogOrder(outputs[i].TxLogEntry) < txLogOrder(outputs[j].TxLogEntry)
		})
	}
	return outputs, nil
}

func txLogOrder(id *uint32) int64 {
	if id == nil {
		return -1
	}
	return int64(*id)
}

func readTxLog(r reader, account string, filter TxLogFilter) ([]TxLogEntry, error) {
	entries := make([]TxLogEntry, 0)

	switch {
	case filter.ID != nil:
		entry := TxLogEntry{}
		err := getJSON(r, txLogKey(account, *filter.ID), &entry)
		if errors.Is(err, ErrNotFound) {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		if filter.SlateID == nil || (entry.TxSlateID != nil && *entry.TxSlateID == *filter.SlateID) {
			entries = append(entries, entry)
		}

	case filter.SlateID != nil:
		idBytes, err := r.Get(txSlateKey(account, *filter.SlateID), nil)
		if err == leveldb.ErrNotFound {
			return entries, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "cannot Get tx log id by slate")
		}
		entry := TxLogEntry{}
		err = getJSON(r, txLogKey(account, binary.BigEndian.Uint32(idBytes)), &entry)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)

	default:
		iter := r.NewIterator(txLogRange(account), nil)
		for iter.Next() {
			entry := TxLogEntry{}
			err := json.Unmarshal(iter.Value(), &entry)
			if err != nil {
				iter.Release()
				return nil, errors.Wrap(err, "cannot unmarshal tx log entry in iterator")
			}
			entries = append(entries, entry)
		}
		iter.Release()
		if err := iter.Error(); err != nil {
			return nil, errors.Wrap(err, "cannot iterate")
		}
	}

	if filter.OutstandingOnly {
		outstanding := entries[:0]
		for _, entry := range entries {
			if entry.IsOutstanding() {
				outstanding = append(outstanding, entry)
			}
		}
		entries = outstanding
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreationTs.Equal(entries[j].CreationTs) {
			return entries[i].CreationTs.Before(entries[j].CreationTs)
		}
		return entries[i].ID < entries[j].ID
	})

	return entries, nil
}

func (t *LeveldbStore) Iter(account keychain.Identifier, filter OutputFilter) OutputIterator {
	snap, err := t.db.GetSnapshot()
	if err != nil {
		return &outputIter{live: iterator.NewEmptyIterator(errors.Wrap(err, "cannot GetSnapshot")), filter: filter}
	}
	return newOutputIter(snap, account.String(), filter, snap.Release)
}

func (t *LeveldbStore) ListOutputs(account keychain.Identifier, filter OutputFilter) ([]OutputData, error) {
	return collectOutputs(t.Iter(account, filter), filter)
}

func (t *LeveldbStore) GetOutput(account keychain.Identifier, keyID keychain.Identifier) (out OutputData, err error) {
	err = getJSON(t.db, outputKey(account.String(), keyID), &out)
	return
}

func (t *LeveldbStore) TxLog(account keychain.Identifier, filter TxLogFilter) ([]TxLogEntry, error) {
	snap, err := t.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "cannot GetSnapshot")
	}
	defer snap.Release()
	return readTxLog(snap, account.String(), filter)
}

func (t *LeveldbStore) LastConfirmedHeight(account keychain.Identifier) (uint64, error) {
	return readHeight(t.db, account.String())
}

func readHeight(r reader, account string) (uint64, error) {
	data, err := r.Get(heightKey(account), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "cannot Get last confirmed height")
	}
	return binary.BigEndian.Uint64(data), nil
}

func (t *LeveldbStore) GetContext(account keychain.Identifier, slateID uuid.UUID) (*Context, error) {
	ctx := &Context{}
	err := getJSON(t.db, contextKey(account.String(), slateID), ctx)
	if err != nil {
		return nil, err
	}
	return ctx, nil
}

func (t *LeveldbStore) GetStoredTx(name string) (*ledger.Transaction, error) {
	tx := &ledger.Transaction{}
	err := getJSON(t.db, storedTxKey(name), tx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (t *LeveldbStore) Accounts() ([]AcctPathMapping, error) {
	accounts := make([]AcctPathMapping, 0)

	iter := t.db.NewIterator(accountRange(), nil)
	for iter.Next() {
		mapping := AcctPathMapping{}
		err := json.Unmarshal(iter.Value(), &mapping)
		if err != nil {
			iter.Release()
			return nil, errors.Wrap(err, "cannot unmarshal account in iterator")
		}
		accounts = append(accounts, mapping)
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "cannot iterate")
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Path.String() < accounts[j].Path.String()
	})
	return accounts, nil
}

func (t *LeveldbStore) GetAccount(label string) (keychain.Identifier, error) {
	mapping := AcctPathMapping{}
	err := getJSON(t.db, accountKey(label), &mapping)
	if err != nil {
		return keychain.Identifier{}, errors.Wrapf(err, "cannot find account %q", label)
	}
	return mapping.Path, nil
}

func (t *LeveldbStore) CreateAccount(label string) (keychain.Identifier, error) {
	t.accountsMu.Lock()
	defer t.accountsMu.Unlock()

	exists, err := t.db.Has(accountKey(label), nil)
	if err != nil {
		return keychain.Identifier{}, errors.Wrap(err, "cannot check account")
	}
	if exists {
		return keychain.Identifier{}, errors.Errorf("account %q already exists", label)
	}

	accounts, err := t.Accounts()
	if err != nil {
		return keychain.Identifier{}, err
	}

	path := keychain.AccountID(uint32(len(accounts)))
	err = putJSON(t.db, accountKey(label), AcctPathMapping{Label: label, Path: path})
	if err != nil {
		return keychain.Identifier{}, err
	}
	return path, nil
}

func (t *LeveldbStore) accountLock(account keychain.Identifier) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[account]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[account] = lock
	}
	return lock
}

func (t *LeveldbStore) Batch(account keychain.Identifier) (Batch, error) {
	lock := t.accountLock(account)
	if !lock.TryLock() {
		return nil, errors.Wrapf(ErrLedgerLocked, "account %v", account)
	}

	tx, err := t.db.OpenTransaction()
	if err != nil {
		lock.Unlock()
		return nil, errors.Wrap(err, "cannot OpenTransaction")
	}

	return &leveldbBatch{
		account: account,
		acct:    account.String(),
		tx:      tx,
		unlock:  lock.Unlock,
	}, nil
}

type leveldbBatch struct {
	account keychain.Identifier
	acct    string
	tx      *leveldb.Transaction
	unlock  func()
	done    bool
}

func (t *leveldbBatch) checkOpen() error {
	if t.done {
		return errors.New("batch is already closed")
	}
	return nil
}

func (t *leveldbBatch) nextCounter(name string) (uint64, error) {
	var n uint64
	data, err := t.tx.Get(counterKey(name, t.acct), nil)
	if err != nil && err != leveldb.ErrNotFound {
		return 0, errors.Wrapf(err, "cannot Get counter %v", name)
	}
	if err == nil {
		n = binary.BigEndian.Uint64(data)
	}

	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, n+1)
	err = t.tx.Put(counterKey(name, t.acct), next, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot Put counter %v", name)
	}
	return n, nil
}

func (t *leveldbBatch) Save(out OutputData) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if out.RootKeyID != t.account {
		return errors.Errorf("output %v belongs to account %v, not %v", out.KeyID, out.RootKeyID, t.account)
	}

	existing := OutputData{}
	err := getJSON(t.tx, outputKey(t.acct, out.KeyID), &existing)
	switch {
	case err == nil:
		if existing.Commit != nil && out.Commit != nil && *existing.Commit != *out.Commit {
			return errors.Errorf("commitment of output %v cannot change", out.KeyID)
		}
		if out.Commit == nil {
			out.Commit = existing.Commit
		}
		out.Seq = existing.Seq
	case errors.Is(err, ErrNotFound):
		seq, err := t.nextCounter("seq")
		if err != nil {
			return err
		}
		out.Seq = seq + 1
		err = t.tx.Put(outputSeqKey(t.acct, out.Seq), []byte(out.KeyID.String()), nil)
		if err != nil {
			return errors.Wrap(err, "cannot Put output sequence")
		}
	default:
		return err
	}

	return putJSON(t.tx, outputKey(t.acct, out.KeyID), out)
}

func (t *leveldbBatch) Get(keyID keychain.Identifier) (out OutputData, err error) {
	if err = t.checkOpen(); err != nil {
		return
	}
	err = getJSON(t.tx, outputKey(t.acct, keyID), &out)
	return
}

func (t *leveldbBatch) Delete(keyID keychain.Identifier, txLogID *uint32) error {
	out, err := t.Get(keyID)
	if err != nil {
		return errors.Wrapf(err, "cannot delete output %v", keyID)
	}

	if txLogID != nil {
		archived := out
		archived.Status = OutputDeleted
		archived.TxLogEntry = txLogID
		err = putJSON(t.tx, historyKey(t.acct, keyID, *txLogID), archived)
		if err != nil {
			return err
		}
	}

	err = t.tx.Delete(outputSeqKey(t.acct, out.Seq), nil)
	if err != nil {
		return errors.Wrap(err, "cannot Delete output sequence")
	}
	err = t.tx.Delete(outputKey(t.acct, keyID), nil)
	if err != nil {
		return errors.Wrap(err, "cannot Delete output")
	}
	return nil
}

func (t *leveldbBatch) Outputs(filter OutputFilter) ([]OutputData, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return collectOutputs(newOutputIter(t.tx, t.acct, filter, nil), filter)
}

func (t *leveldbBatch) NextTxLogID() (uint32, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	n, err := t.nextCounter("txlog")
	return uint32(n), err
}

func (t *leveldbBatch) NextChild() (keychain.Identifier, error) {
	if err := t.checkOpen(); err != nil {
		return keychain.Identifier{}, err
	}
	n, err := t.nextCounter("child")
	if err != nil {
		return keychain.Identifier{}, err
	}
	id, err := t.account.Extend(uint32(n))
	if err != nil {
		return keychain.Identifier{}, errors.Wrap(ErrDerivation, err.Error())
	}
	return id, nil
}

func (t *leveldbBatch) SaveTxLogEntry(entry TxLogEntry) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if entry.ParentKeyID != t.account {
		return errors.Errorf("tx log entry %d belongs to account %v, not %v", entry.ID, entry.ParentKeyID, t.account)
	}

	err := putJSON(t.tx, txLogKey(t.acct, entry.ID), entry)
	if err != nil {
		return err
	}

	if entry.TxSlateID != nil {
		idBytes := make([]byte, 4)
		binary.BigEndian.PutUint32(idBytes, entry.ID)
		err = t.tx.Put(txSlateKey(t.acct, *entry.TxSlateID), idBytes, nil)
		if err != nil {
			return errors.Wrap(err, "cannot Put slate index")
		}
	}
	return nil
}

func (t *leveldbBatch) TxLogEntries(filter TxLogFilter) ([]TxLogEntry, error) {
	if err := t.checkOpen(); err != nil {
		return nil, err
	}
	return readTxLog(t.tx, t.acct, filter)
}

func (t *leveldbBatch) SaveLastConfirmedHeight(height uint64) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, height)
	err := t.tx.Put(heightKey(t.acct), data, nil)
	if err != nil {
		return errors.Wrap(err, "cannot Put last confirmed height")
	}
	return nil
}

func (t *leveldbBatch) SaveContext(ctx Context) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return putJSON(t.tx, contextKey(t.acct, ctx.SlateID), ctx)
}

func (t *leveldbBatch) DeleteContext(slateID uuid.UUID) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	err := t.tx.Delete(contextKey(t.acct, slateID), nil)
	if err != nil {
		return errors.Wrap(err, "cannot Delete context")
	}
	return nil
}

func (t *leveldbBatch) SaveStoredTx(name string, tx *ledger.Transaction) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	return putJSON(t.tx, storedTxKey(name), tx)
}

func (t *leveldbBatch) Commit() error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	t.done = true
	defer t.unlock()

	err := t.tx.Commit()
	if err != nil {
		return errors.Wrap(err, "cannot Commit batch")
	}
	return nil
}

// Discard is a no-op after Commit, so it can always be deferred.
func (t *leveldbBatch) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.tx.Discard()
	t.unlock()
}

type outputIter struct {
	r         reader
	account   string
	filter    OutputFilter
	live      iterator.Iterator
	history   iterator.Iterator
	inHistory bool
	current   OutputData
	err       error
	release   func()
}

func newOutputIter(r reader, account string, filter OutputFilter, release func()) *outputIter {
	it := &outputIter{
		r:       r,
		account: account,
		filter:  filter,
		live:    r.NewIterator(outputSeqRange(account), nil),
		release: release,
	}
	if filter.IncludeHistory {
		it.history = r.NewIterator(historyRange(account), nil)
	}
	return it
}

func (t *outputIter) First() bool {
	t.inHistory = false
	t.err = nil
	return t.scan(t.live.First())
}

func (t *outputIter) Next() bool {
	if t.inHistory {
		return t.scan(t.history.Next())
	}
	return t.scan(t.live.Next())
}

// scan moves forward from the current position to the next match.
func (t *outputIter) scan(ok bool) bool {
	for {
		if !ok {
			if t.inHistory || t.history == nil || t.err != nil {
				return false
			}
			t.inHistory = true
			ok = t.history.First()
			continue
		}

		out, err := t.decode()
		if err != nil {
			t.err = err
			return false
		}
		if matchesOutput(out, t.filter) {
			t.current = out
			return true
		}

		if t.inHistory {
			ok = t.history.Next()
		} else {
			ok = t.live.Next()
		}
	}
}

func (t *outputIter) decode() (out OutputData, err error) {
	if t.inHistory {
		err = json.Unmarshal(t.history.Value(), &out)
		if err != nil {
			err = errors.Wrap(err, "cannot unmarshal archived output")
		}
		return
	}

	keyID, err := keychain.IdentifierFromHex(string(t.live.Value()))
	if err != nil {
		return out, errors.Wrap(err, "cannot decode output sequence entry")
	}
	err = getJSON(t.r, outputKey(t.account, keyID), &out)
	return
}

func (t *outputIter) Output() OutputData {
	return t.current
}

func (t *outputIter) Error() error {
	if t.err != nil {
		return t.err
	}
	if err := t.live.Error(); err != nil {
		return errors.Wrap(err, "cannot iterate outputs")
	}
	if t.history != nil {
		if err := t.history.Error(); err != nil {
			return errors.Wrap(err, "cannot iterate history")
		}
	}
	return nil
}

func (t *outputIter) Release() {
	t.live.Release()
	if t.history != nil {
		t.history.Release()
	}
	if t.release != nil {
		t.release()
	}
}
