// Package chain holds the per-network consensus parameters the wallet needs:
// coinbase maturity, the block reward schedule, the foundation levy and the
// transaction fee rule.
package chain

import (
	"math"

	"github.com/pkg/errors"
)

const (
	Base = 100_000_000

	minute = 1
	hour   = 60 * minute
	day    = 24 * hour
	year   = 365 * day
)

// Era is a range of heights paying the same block subsidy, up to and
// including EndHeight.
type Era struct {
	EndHeight uint64
	Subsidy   uint64
}

type Params struct {
	Name               string
	CoinbaseMaturity   uint64
	BlockHeaderVersion uint16
	BaseFee            uint64
	// share of each block subsidy paid to the foundation output, per mille
	FoundationLevy     uint64
	FoundationInterval uint64
	Eras               []Era
}

var (
	Mainnet = Params{
		Name:               "mainnet",
		CoinbaseMaturity:   day,
		BlockHeaderVersion: 6,
		BaseFee:            Base / 1000,
		FoundationLevy:     88,
		FoundationInterval: day,
		Eras: []Era{
			{EndHeight: year, Subsidy: 16 * Base},
			{EndHeight: 2 * year, Subsidy: 8 * Base},
			{EndHeight: 4 * year, Subsidy: 4 * Base},
			{EndHeight: 8 * year, Subsidy: 2 * Base},
			{EndHeight: math.MaxUint64, Subsidy: Base},
		},
	}

	Floonet = Params{
		Name:               "floonet",
		CoinbaseMaturity:   day,
		BlockHeaderVersion: 6,
		BaseFee:            Base / 1000,
		FoundationLevy:     88,
		FoundationInterval: hour,
		Eras: []Era{
			{EndHeight: 30 * day, Subsidy: 16 * Base},
			{EndHeight: math.MaxUint64, Subsidy: 8 * Base},
		},
	}

	Usernet = Params{
		Name:               "usernet",
		CoinbaseMaturity:   3,
		BlockHeaderVersion: 6,
		BaseFee:            Base / 1000,
		FoundationLevy:     100,
		FoundationInterval: 10,
		Eras: []Era{
			{EndHeight: math.MaxUint64, Subsidy: 60 * Base},
		},
	}
)

func ForNetwork(name string) (*Params, error) {
	switch name {
	case "", Mainnet.Name:
		p := Mainnet
		return &p, nil
	case Floonet.Name:
		p := Floonet
		return &p, nil
	case Usernet.Name:
		p := Usernet
		return &p, nil
	}
	return nil, errors.Errorf("unknown network %q", name)
}

// BlockSubsidy is the newly minted amount of the block at height, before the
// foundation levy.
func (t *Params) BlockSubsidy(height uint64) uint64 {
	for _, era := range t.Eras {
		if height <= era.EndHeight {
			return era.Subsidy
		}
	}
	return 0
}

func (t *Params) FoundationShare(height uint64) uint64 {
	return t.BlockSubsidy(height) * t.FoundationLevy / 1000
}

// Reward is what the miner of the block at height is paid: the subsidy less
// the foundation share, plus fees.
func (t *Params) Reward(fees uint64, height uint64) uint64 {
	return t.BlockSubsidy(height) - t.FoundationShare(height) + fees
}

// CumulativeFoundationReward sums the foundation shares accrued since the
// previous foundation payout, i.e. over the FoundationInterval heights ending
// at height.
func (t *Params) CumulativeFoundationReward(height uint64) uint64 {
	if height == 0 {
		return 0
	}
	from := uint64(1)
	if t.FoundationInterval > 0 && height > t.FoundationInterval {
		from = height - t.FoundationInterval + 1
	}

	var total uint64
	start := uint64(0)
	for _, era := range t.Eras {
		lo, hi := max(start, from), min(era.EndHeight, height)
		if lo <= hi {
			total += (hi - lo + 1) * (era.Subsidy * t.FoundationLevy / 1000)
		}
		if era.EndHeight >= height {
			break
		}
		start = era.EndHeight + 1
	}
	return total
}

// IsMature reports whether a coinbase output created at height may be spent
// at currentHeight.
func (t *Params) IsMature(height, currentHeight uint64) bool {
	return height+t.CoinbaseMaturity <= currentHeight
}

// TxFee computes the minimum fee for a transaction of the given shape. Each
// output weighs 4, each kernel 1 and each input -1, with a floor of 1.
func (t *Params) TxFee(numInputs, numOutputs, numKernels int) uint64 {
	weight := 4*numOutputs + numKernels - numInputs
	if weight < 1 {
		weight = 1
	}
	return uint64(weight) * t.BaseFee
}
