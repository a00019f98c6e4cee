package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paltabrain/sdk/internal/payments"
	"paltabrain/sdk/internal/transport"
)

type paymentsFlags struct {
	userID      string
	environment string
	receiptFile string
}

func (f *paymentsFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.userID, "user", "", "customer id (uuid or string)")
	cmd.Flags().StringVar(&f.environment, "environment", "", "payments backend base URL")
	cmd.Flags().StringVar(&f.receiptFile, "receipt-file", "", "read the purchase receipt from this file")
	_ = cmd.MarkFlagRequired("user")
}

func (f *paymentsFlags) open(a *app, store *payments.SandboxStore) *payments.Payments {
	env := payments.Environment(a.cfg.Environment)
	if f.environment != "" {
		env = payments.Environment(strings.TrimRight(f.environment, "/"))
	}

	var receipts payments.ReceiptProvider = payments.StaticReceipt("sandbox-receipt")
	if f.receiptFile != "" {
		receipts = payments.FileReceiptProvider{Path: f.receiptFile, Logger: a.log}
	}
	return payments.New(env, payments.Deps{
		Client:    transport.NewRestyClient(30 * time.Second),
		Purchases: store,
		Products:  store,
		Receipts:  receipts,
		Logger:    a.log,
	})
}

func newCheckoutCommand(a *app) *cobra.Command {
	var (
		flags     paymentsFlags
		ident     string
		productID string
		price     string
	)
	cmd := &cobra.Command{
		Use:   "checkout",
		Short: "Run a checkout flow against a sandbox store",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := payments.NewSandboxStore(payments.StoreProduct{ProductIdentifier: productID, Title: ident, Price: price})
			p := flags.open(a, store)
			product := payments.ShowcaseProduct{Ident: ident, ProductIdentifier: productID}
			return runCheckout(cmd.Context(), a, p, product, payments.ParseUserID(flags.userID))
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&ident, "ident", "", "price point ident")
	cmd.Flags().StringVar(&productID, "product", "", "store product identifier")
	cmd.Flags().StringVar(&price, "price", "0.99", "sandbox product price")
	_ = cmd.MarkFlagRequired("ident")
	_ = cmd.MarkFlagRequired("product")
	return cmd
}

func runCheckout(ctx context.Context, a *app, p *payments.Payments, product payments.ShowcaseProduct, userID payments.UserID) error {
	done := make(chan error, 1)
	var features payments.PaidFeatures
	flow := p.Purchase(ctx, product, userID, func(result payments.PaidFeatures, err error) {
		features = result
		done <- err
	}, func(from, to payments.FlowState) {
		a.log.WithField("from", from.String()).WithField("to", to.String()).Debug("checkout state changed")
	})
	log := a.log.WithField("trace_id", flow.TraceID().String())

	if err := <-done; err != nil {
		if perr := payments.AsError(err); perr != nil {
			log = log.WithField("code", perr.Code())
		}
		log.WithError(err).Error("checkout failed")
		return err
	}
	log.Info("checkout succeeded")
	return printJSON(features)
}

func newFeaturesCommand(a *app) *cobra.Command {
	var (
		flags   paymentsFlags
		restore bool
	)
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print the paid features of a customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := flags.open(a, payments.NewSandboxStore())
			userID := payments.ParseUserID(flags.userID)

			var (
				features payments.PaidFeatures
				err      error
			)
			if restore {
				features, err = p.RestorePurchases(cmd.Context(), userID)
			} else {
				features, err = p.GetPaidFeatures(cmd.Context(), userID)
			}
			if err != nil {
				return err
			}
			return printJSON(features)
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&restore, "restore", false, "submit the receipt before reading features")
	return cmd
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
