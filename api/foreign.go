// Package api is the foreign surface of the wallet: the calls other
// wallets and miners make.
package api

import (
	"github.com/pkg/errors"

	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/wallet"
	"github.com/olegabu/go-mimblewimble/wallet/slateversions"
)

const ForeignAPIVersion = 2

type VersionInfo struct {
	ForeignAPIVersion      uint16                  `json:"foreign_api_version"`
	SupportedSlateVersions []slateversions.Version `json:"supported_slate_versions"`
}

type Method int

const (
	CheckVersion Method = iota
	BuildCoinbase
	VerifySlateMessages
	ReceiveTx
	FinalizeInvoiceTx
)

func (t Method) String() string {
	return [...]string{"check_version", "build_coinbase", "verify_slate_messages", "receive_tx", "finalize_invoice_tx"}[t]
}

// CheckMiddleware runs before every call and may reject it. slate is nil for
// calls that take none.
type CheckMiddleware func(method Method, slate *wallet.Slate) error

type Foreign struct {
	wallet     *wallet.Wallet
	account    keychain.Identifier
	middleware CheckMiddleware
}

// NewForeign serves account of w. middleware may be nil.
func NewForeign(w *wallet.Wallet, account keychain.Identifier, middleware CheckMiddleware) *Foreign {
	return &Foreign{wallet: w, account: account, middleware: middleware}
}

func (t *Foreign) check(method Method, slate *wallet.Slate) error {
	if t.middleware == nil {
		return nil
	}
	err := t.middleware(method, slate)
	if err != nil {
		log.API.Warn().Err(err).Str("method", method.String()).Msg("call rejected")
		return errors.Wrapf(err, "%v rejected", method)
	}
	return nil
}

func (t *Foreign) CheckVersion() (VersionInfo, error) {
	err := t.check(CheckVersion, nil)
	if err != nil {
		return VersionInfo{}, err
	}
	return VersionInfo{
		ForeignAPIVersion:      ForeignAPIVersion,
		SupportedSlateVersions: slateversions.Supported,
	}, nil
}

func (t *Foreign) BuildCoinbase(fees wallet.BlockFees) (slateversions.VersionedCoinbase, error) {
	err := t.check(BuildCoinbase, nil)
	if err != nil {
		return slateversions.VersionedCoinbase{}, err
	}
	cb, err := t.wallet.BuildCoinbase(t.account, fees)
	if err != nil {
		return slateversions.VersionedCoinbase{}, err
	}
	return slateversions.CoinbaseFromCbData(cb), nil
}

func (t *Foreign) BuildFoundation(fees wallet.BlockFees) (slateversions.VersionedCoinbase, error) {
	err := t.check(BuildCoinbase, nil)
	if err != nil {
		return slateversions.VersionedCoinbase{}, err
	}
	cb, err := t.wallet.BuildFoundation(t.account, fees)
	if err != nil {
		return slateversions.VersionedCoinbase{}, err
	}
	return slateversions.CoinbaseFromCbData(cb), nil
}

func (t *Foreign) VerifySlateMessages(in slateversions.VersionedSlate) error {
	slate, err := in.Slate()
	if err != nil {
		return err
	}
	err = t.check(VerifySlateMessages, slate)
	if err != nil {
		return err
	}
	return t.wallet.VerifySlateMessages(slate)
}

// ReceiveTx receives a slate into destAcctName, or the served account when
// it is nil, and replies in the slate's own version.
func (t *Foreign) ReceiveTx(in slateversions.VersionedSlate, destAcctName *string, message *string) (slateversions.VersionedSlate, error) {
	slate, err := in.Slate()
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}
	err = t.check(ReceiveTx, slate)
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}

	account := t.account
	if destAcctName != nil {
		account, err = t.wallet.Account(*destAcctName)
		if err != nil {
			return slateversions.VersionedSlate{}, errors.Wrapf(err, "cannot find account %q", *destAcctName)
		}
	}

	out, err := t.wallet.Receive(account, slate, message)
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}
	return slateversions.FromSlate(out, in.Version())
}

// FinalizeInvoiceTx completes an invoice this wallet issued once the payer
// has signed, replying in the slate's own version.
func (t *Foreign) FinalizeInvoiceTx(in slateversions.VersionedSlate) (slateversions.VersionedSlate, error) {
	slate, err := in.Slate()
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}
	err = t.check(FinalizeInvoiceTx, slate)
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}

	sigCtx, err := t.wallet.Store().GetContext(t.account, slate.ID)
	if err != nil {
		return slateversions.VersionedSlate{}, errors.Wrapf(err, "cannot find invoice %v", slate.ID)
	}
	if !sigCtx.IsInvoice {
		return slateversions.VersionedSlate{}, errors.Errorf("slate %v is not an invoice", slate.ID)
	}

	out, err := t.wallet.Finalize(t.account, slate)
	if err != nil {
		return slateversions.VersionedSlate{}, err
	}
	return slateversions.FromSlate(out, in.Version())
}
