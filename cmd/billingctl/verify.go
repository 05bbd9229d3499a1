package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/iap"
	"github.com/code-payments/flipchat-billing/iap/android"
)

var errInvalidPurchase = errors.New("purchase is not valid")

type payloadOptions struct {
	payload     string
	payloadFile string
}

func (o *payloadOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.payload, "payload", "", "purchase JSON payload")
	cmd.Flags().StringVar(&o.payloadFile, "payload-file", "", "file containing the purchase JSON payload")
}

func (o *payloadOptions) read() (string, error) {
	switch {
	case o.payload != "" && o.payloadFile != "":
		return "", errors.New("only one of --payload and --payload-file can be set")
	case o.payload != "":
		return o.payload, nil
	case o.payloadFile != "":
		b, err := os.ReadFile(o.payloadFile)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return "", errors.New("a payload is required")
	}
}

func newVerifyCommand(root *rootOptions) *cobra.Command {
	var (
		payload   payloadOptions
		publicKey string
		signature string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the signature of a purchase payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := payload.read()
			if err != nil {
				return err
			}

			key := publicKey
			if key == "" {
				key = root.cfg.PublicKey
			}
			if key == "" {
				return errors.New("a public key is required, set --public-key or BILLING_PUBLIC_KEY")
			}

			return runVerify(cmd, root.log, android.NewSignatureVerifier(key), data, signature)
		},
	}

	payload.register(cmd)
	cmd.Flags().StringVar(&publicKey, "public-key", "", "base64 encoded X.509 RSA public key")
	cmd.Flags().StringVar(&signature, "signature", "", "base64 encoded purchase signature")

	return cmd
}

func runVerify(cmd *cobra.Command, log *zap.Logger, verifier iap.Verifier, payload, signature string) error {
	ok, err := verifier.VerifyPurchase(cmd.Context(), payload, signature)
	if err != nil {
		log.Warn("Failed to verify purchase", zap.Error(err))
		return err
	}

	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "invalid")
		return errInvalidPurchase
	}

	fmt.Fprintln(cmd.OutOrStdout(), "valid")
	return nil
}
