package main

// Submit a document to the pipeline:
//   go run ./cmd/submit submit ./scan.pdf --tenant t1 --user u1
//   go run ./cmd/submit reprocess <document-id>
//   go run ./cmd/submit balance t1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"docpipe-backend/internal/bootstrap"
	"docpipe-backend/internal/intake"
	"docpipe-backend/internal/shared/config"
)

func main() {
	if err := newRootCmd(loadApp).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type appLoader func(ctx context.Context, cfgFile string) (*bootstrap.App, error)

func loadApp(ctx context.Context, cfgFile string) (*bootstrap.App, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg)
}

func newRootCmd(load appLoader) *cobra.Command {
	var cfgFile string
	root := &cobra.Command{
		Use:           "submit",
		Short:         "Submit documents and inspect credit balances",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .env when present)")

	open := func(cmd *cobra.Command) (*bootstrap.App, error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return load(ctx, cfgFile)
	}

	var up intake.Upload
	submitCmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a file and enqueue an OCR job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			content, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			u := up
			u.Content = content
			if u.FileName == "" && args[0] != "-" {
				u.FileName = filepath.Base(args[0])
			}
			if u.TenantID == "" {
				u.TenantID = app.Config.DefaultTenantID
			}
			if u.UserID == "" {
				u.UserID = app.Config.DefaultUserID
			}
			receipt, err := app.Intake.Submit(cmd.Context(), u)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
	submitCmd.Flags().StringVar(&up.TenantID, "tenant", "", "tenant id (default DEFAULT_TENANT_ID)")
	submitCmd.Flags().StringVar(&up.UserID, "user", "", "user id (default DEFAULT_USER_ID)")
	submitCmd.Flags().StringVar(&up.MIME, "mime", "", "content type (sniffed when empty)")
	submitCmd.Flags().StringVar(&up.FileName, "name", "", "stored file name (default base name of <file>)")
	submitCmd.Flags().StringVar(&up.CaseRef, "case-ref", "", "external case reference")

	reprocessCmd := &cobra.Command{
		Use:   "reprocess <document-id>",
		Short: "Open a new version of an existing document and enqueue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			receipt, err := app.Intake.Reprocess(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}

	balanceCmd := &cobra.Command{
		Use:   "balance <tenant-id>",
		Short: "Print a tenant's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()
			tenant := strings.TrimSpace(args[0])
			balance, err := app.Ledger.Balance(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"tenantId": tenant, "balance": balance})
		},
	}

	root.AddCommand(submitCmd, reprocessCmd, balanceCmd)
	return root
}

// readInput reads path, or stdin when path is "-".
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
