package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/carelog/internal/domain"
	"github.com/tjfontaine/carelog/internal/ledger"
)

var (
	historyLimit int
	addReference string
	addNote      string
	addType      string
)

func init() {
	wallet := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and adjust credit wallets",
	}

	balance := &cobra.Command{
		Use:   "balance USER",
		Short: "Show a user's balance and subscription",
		Args:  cobra.ExactArgs(1),
		RunE:  runWalletBalance,
	}

	history := &cobra.Command{
		Use:   "history USER",
		Short: "List a user's recent transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runWalletHistory,
	}
	history.Flags().IntVarP(&historyLimit, "limit", "l", ledger.DefaultHistoryLimit, "Max transactions")

	add := &cobra.Command{
		Use:   "add USER CREDITS",
		Short: "Grant credits to a user",
		Args:  cobra.ExactArgs(2),
		RunE:  runWalletAdd,
	}
	add.Flags().StringVarP(&addReference, "reference", "r", "", "Reference id; repeating one is a no-op")
	add.Flags().StringVar(&addNote, "description", "manual adjustment", "Transaction description")
	add.Flags().StringVarP(&addType, "type", "t", string(domain.TxAdjustment), "Transaction type: adjustment, purchase or refund")

	wallet.AddCommand(balance, history, add)
	RootCmd.AddCommand(wallet)
}

func runWalletBalance(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	summary, err := app.Ledger().Balance(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd, summary)
}

func runWalletHistory(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	txns, err := app.Ledger().History(cmd.Context(), args[0], historyLimit)
	if err != nil {
		return err
	}
	return printJSON(cmd, txns)
}

func runWalletAdd(cmd *cobra.Command, args []string) error {
	credits, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("credits must be an integer: %w", err)
	}

	app, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Ledger().Credit(cmd.Context(), ledger.CreditRequest{
		UserID:      args[0],
		Amount:      credits,
		Type:        domain.TransactionType(addType),
		ReferenceID: addReference,
		Description: addNote,
	})
	if err != nil {
		return err
	}
	return printJSON(cmd, result)
}
