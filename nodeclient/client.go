// Package nodeclient talks to the node over its tendermint RPC endpoint: the
// chain tip from /status and output lookups through ABCI queries.
package nodeclient

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	abcitypes "github.com/tendermint/tendermint/abci/types"
	cmn "github.com/tendermint/tendermint/libs/common"
	"github.com/tendermint/tendermint/rpc/client"
	ctypes "github.com/tendermint/tendermint/rpc/core/types"
	"github.com/tendermint/tendermint/types"
	"golang.org/x/sync/errgroup"

	"github.com/olegabu/go-mimblewimble/internal/log"
)

var ErrTransport = errors.New("node transport error")

const (
	defaultChunkSize   = 200
	defaultParallelism = 4
)

type ChainTip struct {
	Height uint64 `json:"height"`
	Hash   string `json:"hash"`
}

// OutputInfo is what the node knows about an unspent output.
type OutputInfo struct {
	Commit    string `json:"commit"`
	BlockHash string `json:"block_hash,omitempty"`
	Height    uint64 `json:"height"`
	MMRIndex  uint64 `json:"mmr_index"`
}

type rpcClient interface {
	Status() (*ctypes.ResultStatus, error)
	ABCIQuery(path string, data cmn.HexBytes) (*ctypes.ResultABCIQuery, error)
	BroadcastTxSync(tx types.Tx) (*ctypes.ResultBroadcastTx, error)
}

type Client struct {
	address     string
	rpc         rpcClient
	chunkSize   int
	parallelism int
}

func NewClient(address string) *Client {
	return newClient(address, client.NewHTTP(address, "/websocket"))
}

func newClient(address string, rpc rpcClient) *Client {
	return &Client{
		address:     address,
		rpc:         rpc,
		chunkSize:   defaultChunkSize,
		parallelism: defaultParallelism,
	}
}

func (t *Client) Address() string {
	return t.address
}

func (t *Client) GetChainTip(ctx context.Context) (ChainTip, error) {
	if err := ctx.Err(); err != nil {
		return ChainTip{}, err
	}
	status, err := t.rpc.Status()
	if err != nil {
		return ChainTip{}, errors.Wrapf(ErrTransport, "cannot get status from %v: %v", t.address, err)
	}
	if status.SyncInfo.LatestBlockHeight < 0 {
		return ChainTip{}, errors.Wrapf(ErrTransport, "node reported negative height %d", status.SyncInfo.LatestBlockHeight)
	}
	return ChainTip{
		Height: uint64(status.SyncInfo.LatestBlockHeight),
		Hash:   strings.ToLower(status.SyncInfo.LatestBlockHash.String()),
	}, nil
}

// GetOutputsFromNode looks up commitments in chunks, several chunks at a
// time. Commitments the node does not know are absent from the result.
func (t *Client) GetOutputsFromNode(ctx context.Context, commits []string) (map[string]OutputInfo, error) {
	result := make(map[string]OutputInfo, len(commits))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.parallelism)

	for start := 0; start < len(commits); start += t.chunkSize {
		end := start + t.chunkSize
		if end > len(commits) {
			end = len(commits)
		}
		chunk := commits[start:end]

		g.Go(func() error {
			for _, commit := range chunk {
				if err := ctx.Err(); err != nil {
					return err
				}
				info, found, err := t.queryOutput(commit)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				mu.Lock()
				result[commit] = info
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Node.Debug().Int("queried", len(commits)).Int("found", len(result)).Msg("got outputs from node")

	return result, nil
}

func (t *Client) queryOutput(commit string) (info OutputInfo, found bool, err error) {
	res, err := t.rpc.ABCIQuery("output/"+commit, nil)
	if err != nil {
		err = errors.Wrapf(ErrTransport, "cannot query output %v: %v", commit, err)
		return
	}

	response := res.Response
	if response.Code != abcitypes.CodeTypeOK || len(response.Value) == 0 {
		return
	}

	err = json.Unmarshal(response.Value, &info)
	if err != nil {
		err = errors.Wrapf(ErrTransport, "cannot unmarshal output %v: %v", commit, err)
		return
	}
	if info.Commit != "" && info.Commit != commit {
		err = errors.Wrapf(ErrTransport, "asked for output %v, got %v", commit, info.Commit)
		return
	}
	info.Commit = commit

	// a node that stores bare outputs answers with the query height and index
	if info.Height == 0 && response.Height > 0 {
		info.Height = uint64(response.Height)
	}
	if info.MMRIndex == 0 && response.Index > 0 {
		info.MMRIndex = uint64(response.Index)
	}

	found = true
	return
}

// PostTx broadcasts a finalized transaction.
func (t *Client) PostTx(ctx context.Context, txBytes []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	result, err := t.rpc.BroadcastTxSync(txBytes)
	if err != nil {
		return errors.Wrapf(ErrTransport, "cannot broadcast transaction: %v", err)
	}
	if result.Code != abcitypes.CodeTypeOK {
		return errors.Errorf("node rejected transaction with code=%v log=%v", result.Code, result.Log)
	}
	log.Node.Info().Str("hash", result.Hash.String()).Msg("transaction broadcast")
	return nil
}
