package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/olegabu/go-mimblewimble/api"
	"github.com/olegabu/go-mimblewimble/internal/config"
	"github.com/olegabu/go-mimblewimble/internal/log"
	"github.com/olegabu/go-mimblewimble/keychain"
	"github.com/olegabu/go-mimblewimble/ledger"
	"github.com/olegabu/go-mimblewimble/nodeclient"
	"github.com/olegabu/go-mimblewimble/wallet"
	"github.com/olegabu/go-mimblewimble/wallet/slateversions"
)

const nodeTimeout = 30 * time.Second

func main() {
	var initCmd = &cobra.Command{
		Use:   "init",
		Short: "Creates a new wallet",
		Long:  `Creates the master key from a new mnemonic, or from --recover mnemonic, and the wallet database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mnemonic, _ := cmd.Flags().GetString("recover")
			created, err := keychain.Init(cfg.WalletDir(), mnemonic)
			if err != nil {
				return errors.Wrap(err, "cannot keychain.Init")
			}
			store, err := wallet.NewLeveldbStore(cfg.WalletDir())
			if err != nil {
				return err
			}
			defer store.Close()
			if created != "" {
				fmt.Printf("write down your recovery phrase:\n%v\n", created)
			}
			fmt.Printf("created wallet in %v\n", cfg.WalletDir())
			return nil
		},
	}
	initCmd.Flags().String("recover", "", "mnemonic to recover the wallet from")

	var refreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Reconciles outputs with the node",
		Long:  `Checks every live output against the node, confirming received and mined outputs and marking spent ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			ok, err := refresh(e, true)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("node is behind the wallet, nothing was updated")
			}
			return nil
		},
	}

	var infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the wallet balance",
		Long:  `Refreshes from the node and prints the balance of the account by spendability.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			if _, err := refresh(e, false); err != nil {
				fmt.Printf("showing stored data, cannot refresh: %v\n", err)
			}
			info, err := e.wallet.RetrieveSummaryInfo(e.account, e.config.MinimumConfirmations)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Balance", "Amount"})
			table.AppendBulk([][]string{
				{"Total", u64(info.Total)},
				{"Awaiting confirmation (< " + u64(info.MinimumConfirmations) + ")", u64(info.AmountAwaitingConfirmation)},
				{"Awaiting finalization", u64(info.AmountAwaitingFinalization)},
				{"Immature", u64(info.AmountImmature)},
				{"Locked by previous transaction", u64(info.AmountLocked)},
				{"Currently spendable", u64(info.AmountCurrentlySpendable)},
			})
			table.SetFooter([]string{"Last confirmed height", u64(info.LastConfirmedHeight)})
			table.Render()
			return nil
		},
	}

	var outputsCmd = &cobra.Command{
		Use:   "outputs",
		Short: "Prints the wallet outputs",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			showSpent, _ := cmd.Flags().GetBool("show-spent")
			outputs, err := e.wallet.RetrieveOutputs(e.account, showSpent, nil)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Key Id", "Commit", "Value", "Status", "Height", "Lock Height", "Coinbase", "Tx"})
			for _, out := range outputs {
				commit := ""
				if out.Commit != nil {
					commit = *out.Commit
				}
				tx := ""
				if out.TxLogEntry != nil {
					tx = strconv.FormatUint(uint64(*out.TxLogEntry), 10)
				}
				table.Append([]string{out.KeyID.String(), commit, u64(out.Value), out.Status.String(),
					u64(out.Height), u64(out.LockHeight), strconv.FormatBool(out.IsCoinbase), tx})
			}
			table.Render()
			return nil
		},
	}
	outputsCmd.Flags().Bool("show-spent", false, "include spent outputs")

	var txsCmd = &cobra.Command{
		Use:   "txs",
		Short: "Prints the transaction log",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			outstanding, _ := cmd.Flags().GetBool("outstanding")
			txs, err := e.wallet.RetrieveTxs(e.account, nil, nil, outstanding)
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Id", "Type", "Slate", "Created", "Confirmed", "Credited", "Debited", "Fee", "Kernel"})
			for _, tx := range txs {
				slateID, fee, kernel := "", "", ""
				if tx.TxSlateID != nil {
					slateID = tx.TxSlateID.String()
				}
				if tx.Fee != nil {
					fee = u64(*tx.Fee)
				}
				if tx.KernelExcess != nil {
					kernel = *tx.KernelExcess
				}
				table.Append([]string{strconv.FormatUint(uint64(tx.ID), 10), tx.TxType.String(), slateID,
					tx.CreationTs.Format(time.RFC3339), strconv.FormatBool(tx.Confirmed),
					u64(tx.AmountCredited), u64(tx.AmountDebited), fee, kernel})
			}
			table.Render()
			return nil
		},
	}
	txsCmd.Flags().Bool("outstanding", false, "only unconfirmed sends and receives")

	var sendCmd = &cobra.Command{
		Use:   "send amount",
		Short: "Initiates a send transaction",
		Long:  `Creates a json file with a slate to pass to the receiver.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			txArgs := wallet.InitTxArgs{Amount: amount, MinimumConfirmations: e.config.MinimumConfirmations}
			txArgs.Message, _ = cmd.Flags().GetString("message")
			txArgs.NumChangeOutputs, _ = cmd.Flags().GetInt("change-outputs")
			txArgs.SelectionStrategyIsUseAll, _ = cmd.Flags().GetBool("use-all")
			if ttl, _ := cmd.Flags().GetUint64("ttl"); ttl > 0 {
				txArgs.TTLBlocks = &ttl
			}

			slate, err := e.wallet.InitSend(e.account, txArgs)
			if err != nil {
				return errors.Wrap(err, "cannot wallet.InitSend")
			}
			fileName, err := writeSlate("slate-send", slate, slateVersion(cmd))
			if err != nil {
				return err
			}
			fmt.Printf("wrote slate, pass it to the receiver to fill in and respond: receive %v\n", fileName)
			return nil
		},
	}
	sendCmd.Flags().String("message", "", "message to the receiver")
	sendCmd.Flags().Int("change-outputs", 1, "number of change outputs")
	sendCmd.Flags().Bool("use-all", false, "spend all eligible outputs")
	sendCmd.Flags().Uint64("ttl", 0, "blocks after which the slate expires")
	sendCmd.Flags().String("slate-version", string(slateversions.V3), "slate version to write, V3 or V2")

	var receiveCmd = &cobra.Command{
		Use:   "receive slate_send_file",
		Short: "Receives transfer by creating a response slate",
		Long:  `Creates a json file with a response slate with own output and partial signature from sender's slate file.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readSlate(args[0])
			if err != nil {
				return err
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			var message *string
			if m, _ := cmd.Flags().GetString("message"); m != "" {
				message = &m
			}
			foreign := api.NewForeign(e.wallet, e.account, nil)
			out, err := foreign.ReceiveTx(in, nil, message)
			if err != nil {
				return errors.Wrap(err, "cannot receive slate")
			}
			slate, err := out.Slate()
			if err != nil {
				return err
			}
			fileName, err := writeSlate("slate-receive", slate, out.Version())
			if err != nil {
				return err
			}
			fmt.Printf("wrote slate, pass it back to the sender: finalize %v\n", fileName)
			return nil
		},
	}
	receiveCmd.Flags().String("message", "", "message to the sender")

	var finalizeCmd = &cobra.Command{
		Use:   "finalize slate_receive_file",
		Short: "Finalizes transfer by creating a transaction from the response slate",
		Long:  `Creates a json file with a transaction to be posted to the node, or posts it with --post.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readSlate(args[0])
			if err != nil {
				return err
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			slate, err := in.Slate()
			if err != nil {
				return err
			}
			final, err := e.wallet.Finalize(e.account, slate)
			if err != nil {
				return errors.Wrap(err, "cannot wallet.Finalize")
			}

			tx := &ledger.Transaction{Transaction: final.Transaction, ID: final.ID}
			fileName := "tx-" + final.ID.String() + ".json"
			err = writeJSON(fileName, tx)
			if err != nil {
				return err
			}
			fmt.Printf("wrote transaction %v\n", fileName)

			if post, _ := cmd.Flags().GetBool("post"); post {
				return postFile(e.node, fileName)
			}
			fmt.Printf("post it to the node: post %v\n", fileName)
			return nil
		},
	}
	finalizeCmd.Flags().Bool("post", false, "post the transaction to the node")

	var invoiceCmd = &cobra.Command{
		Use:   "invoice amount",
		Short: "Requests a payment",
		Long:  `Creates a json file with an invoice slate to pass to the payer.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			var message *string
			if m, _ := cmd.Flags().GetString("message"); m != "" {
				message = &m
			}
			slate, err := e.wallet.IssueInvoice(e.account, amount, message)
			if err != nil {
				return errors.Wrap(err, "cannot wallet.IssueInvoice")
			}
			fileName, err := writeSlate("slate-invoice", slate, slateVersion(cmd))
			if err != nil {
				return err
			}
			fmt.Printf("wrote invoice, pass it to the payer: pay %v\n", fileName)
			return nil
		},
	}
	invoiceCmd.Flags().String("message", "", "message to the payer")
	invoiceCmd.Flags().String("slate-version", string(slateversions.V3), "slate version to write, V3 or V2")

	var payCmd = &cobra.Command{
		Use:   "pay slate_invoice_file",
		Short: "Pays an invoice",
		Long:  `Adds inputs and a signature to an invoice slate and writes the slate to pass back to the invoicer.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := readSlate(args[0])
			if err != nil {
				return err
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			slate, err := in.Slate()
			if err != nil {
				return err
			}
			err = e.wallet.VerifySlateMessages(slate)
			if err != nil {
				return err
			}
			txArgs := wallet.InitTxArgs{MinimumConfirmations: e.config.MinimumConfirmations}
			txArgs.Message, _ = cmd.Flags().GetString("message")
			paid, err := e.wallet.ProcessInvoice(e.account, slate, txArgs)
			if err != nil {
				return errors.Wrap(err, "cannot wallet.ProcessInvoice")
			}
			fileName, err := writeSlate("slate-paid", paid, in.Version())
			if err != nil {
				return err
			}
			fmt.Printf("wrote slate, pass it back to the invoicer: finalize %v\n", fileName)
			return nil
		},
	}
	payCmd.Flags().String("message", "", "message to the invoicer")

	var coinbaseCmd = &cobra.Command{
		Use:   "coinbase height",
		Short: "Builds a coinbase output and kernel",
		Long:  `Builds the reward output and kernel for a block at height, or the foundation output with --foundation.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return errors.Wrap(err, "cannot parse height")
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()

			fees := wallet.BlockFees{Height: height}
			fees.Fees, _ = cmd.Flags().GetUint64("fees")
			if s, _ := cmd.Flags().GetString("key-id"); s != "" {
				keyID, err := keychain.IdentifierFromHex(s)
				if err != nil {
					return err
				}
				fees.KeyID = &keyID
			}

			foreign := api.NewForeign(e.wallet, e.account, nil)
			var cb slateversions.VersionedCoinbase
			if foundation, _ := cmd.Flags().GetBool("foundation"); foundation {
				cb, err = foreign.BuildFoundation(fees)
			} else {
				cb, err = foreign.BuildCoinbase(fees)
			}
			if err != nil {
				return err
			}
			fileName := fmt.Sprintf("coinbase-%d.json", height)
			err = writeJSON(fileName, cb)
			if err != nil {
				return err
			}
			fmt.Printf("wrote coinbase %v\n", fileName)
			return nil
		},
	}
	coinbaseCmd.Flags().Uint64("fees", 0, "fees of the block's transactions")
	coinbaseCmd.Flags().String("key-id", "", "key id returned by a previous call for the same block")
	coinbaseCmd.Flags().Bool("foundation", false, "build the foundation output")

	var cancelCmd = &cobra.Command{
		Use:   "cancel",
		Short: "Cancels an unconfirmed transaction",
		Long:  `Cancels a send or receive by --id or --slate, unlocking its inputs and dropping its unconfirmed outputs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var id *uint32
			var slateID *uuid.UUID
			if cmd.Flags().Changed("id") {
				v, _ := cmd.Flags().GetUint32("id")
				id = &v
			}
			if s, _ := cmd.Flags().GetString("slate"); s != "" {
				parsed, err := uuid.Parse(s)
				if err != nil {
					return errors.Wrap(err, "cannot parse slate id")
				}
				slateID = &parsed
			}
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			return e.wallet.CancelTx(e.account, id, slateID)
		},
	}
	cancelCmd.Flags().Uint32("id", 0, "tx log id")
	cancelCmd.Flags().String("slate", "", "slate id")

	var accountCmd = &cobra.Command{
		Use:   "account [label]",
		Short: "Lists accounts or creates one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openWallet(cmd)
			if err != nil {
				return err
			}
			defer e.wallet.Close()
			if len(args) == 1 {
				path, err := e.wallet.CreateAccount(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("created account %v %v\n", args[0], path)
				return nil
			}
			accounts, err := e.wallet.Accounts()
			if err != nil {
				return err
			}
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Label", "Path"})
			for _, a := range accounts {
				table.Append([]string{a.Label, a.Path.String()})
			}
			table.Render()
			return nil
		},
	}

	var validateCmd = &cobra.Command{
		Use:   "validate transaction_file",
		Short: "Validates transaction",
		Long:  `Validates transaction's signature, sum of inputs and outputs and proofs.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transactionBytes, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "cannot read transaction file "+args[0])
			}
			tx, err := ledger.ValidateTransactionBytes(transactionBytes)
			if err != nil {
				return errors.Wrap(err, "cannot ledger.ValidateTransactionBytes")
			}
			fmt.Printf("transaction %v is valid\n", tx.ID)
			return nil
		},
	}

	var postCmd = &cobra.Command{
		Use:   "post transaction_file",
		Short: "Posts transaction to the node",
		Long:  `Broadcasts transaction to the node synchronously.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return postFile(nodeclient.NewClient(cfg.NodeAddress), args[0])
		},
	}

	var rootCmd = &cobra.Command{
		Use:          "mw",
		Short:        "Wallet for Mimblewimble",
		Long:         `Wallet for the Mimblewimble protocol: slates, reconciliation with the node and coinbase outputs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file, default <data_dir>/"+config.FileName)
	rootCmd.PersistentFlags().String(config.KeyDataDir, "", "data directory")
	rootCmd.PersistentFlags().String(config.KeyNetwork, "", "mainnet, floonet or usernet")
	rootCmd.PersistentFlags().String(config.KeyNodeAddress, "", "node rpc address")
	rootCmd.PersistentFlags().String(config.KeyAccount, "", "account label")

	rootCmd.AddCommand(initCmd, refreshCmd, infoCmd, outputsCmd, txsCmd, sendCmd, receiveCmd, finalizeCmd,
		invoiceCmd, payCmd, coinbaseCmd, cancelCmd, accountCmd, validateCmd, postCmd)

	err := rootCmd.Execute()
	log.Close()
	if err != nil {
		os.Exit(1)
	}
}

func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func slateVersion(cmd *cobra.Command) slateversions.Version {
	v, _ := cmd.Flags().GetString("slate-version")
	return slateversions.Version(v)
}

func refresh(e *env, updateAll bool) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), nodeTimeout)
	defer cancel()
	return e.wallet.RefreshOutputs(ctx, e.account, updateAll)
}

func postFile(node *nodeclient.Client, fileName string) error {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return errors.Wrap(err, "cannot read transaction file "+fileName)
	}
	tx, err := ledger.ValidateTransactionBytes(data)
	if err != nil {
		return errors.Wrap(err, "cannot post invalid transaction")
	}
	ctx, cancel := context.WithTimeout(context.Background(), nodeTimeout)
	defer cancel()
	err = node.PostTx(ctx, data)
	if err != nil {
		return errors.Wrap(err, "cannot post transaction")
	}
	fmt.Printf("posted transaction %v to %v\n", tx.ID, node.Address())
	return nil
}
