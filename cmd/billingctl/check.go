package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/code-payments/flipchat-billing/iap/android"
)

func newCheckCommand(root *rootOptions) *cobra.Command {
	var (
		payload        payloadOptions
		serviceAccount string
		packageName    string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a purchase against the Play Developer API",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := payload.read()
			if err != nil {
				return err
			}

			if serviceAccount == "" {
				return errors.New("--service-account is required")
			}
			credentials, err := os.ReadFile(serviceAccount)
			if err != nil {
				return err
			}

			pkg := packageName
			if pkg == "" {
				pkg = root.cfg.PackageName
			}

			return runVerify(cmd, root.log, android.NewPublisherVerifier(credentials, pkg), data, "")
		},
	}

	payload.register(cmd)
	cmd.Flags().StringVar(&serviceAccount, "service-account", "", "service account JSON file with access to the Play Developer API")
	cmd.Flags().StringVar(&packageName, "package-name", "", "app package name, defaults to BILLING_PACKAGE_NAME")

	return cmd
}
