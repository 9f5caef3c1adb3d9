// Package admin assembles a cobra command tree for this core's operator
// surface: integrity checks and builder status reporting. It exposes a
// factory, NewVerifyCommand, rather than a standalone binary, since wiring
// it into a process's root command (alongside that process's other
// subcommands) belongs to whatever cmd/ entry point embeds this core — the
// same division the teacher draws between cmd/headers/commands (a
// commands package other cmd/ mains import) and cmd/headers/main.go (the
// binary that assembles them under a root command).
package admin

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ledgerwatch/coreindex/catalog"
	"github.com/ledgerwatch/coreindex/indexing"
	"github.com/ledgerwatch/coreindex/kv"
)

// Deps is everything the verify command tree needs from the embedding
// process: the store to run read-only transactions against and the loaded
// catalog describing which indexes exist.
type Deps struct {
	Store   kv.Store
	Catalog *catalog.Catalog

	// Maintainers maps "typeName/indexName" to the indexing.Maintainer
	// that index's builder was configured with, so IntegrityCheck can
	// dispatch to the right ValidateSpanIntegrity implementation.
	Maintainers map[string]indexing.Maintainer
}

// NewVerifyCommand builds the "verify" subcommand tree: integrity, span,
// and status checks an operator runs against a running deployment. Callers
// attach it with rootCmd.AddCommand(admin.NewVerifyCommand(deps)).
func NewVerifyCommand(deps Deps) *cobra.Command {
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Run integrity and status checks against this core's indexes",
	}
	verify.AddCommand(newIntegrityCmd(deps))
	verify.AddCommand(newSpanIntegrityCmd(deps))
	verify.AddCommand(newStatusCmd(deps))
	return verify
}

func newIntegrityCmd(deps Deps) *cobra.Command {
	var typeName, indexName string
	cmd := &cobra.Command{
		Use:   "integrity",
		Short: "Validate one index's maintained invariants against live data",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := typeName + "/" + indexName
			m, ok := deps.Maintainers[key]
			if !ok {
				return fmt.Errorf("admin: no maintainer registered for %q", key)
			}
			v, ok := m.(interface {
				ValidateSpanIntegrity(ctx context.Context, txn kv.Txn) error
			})
			if !ok {
				cmd.Println("ok: maintainer for", key, "has no integrity check")
				return nil
			}
			return deps.Store.WithTransaction(cmd.Context(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
				if err := v.ValidateSpanIntegrity(cmd.Context(), txn); err != nil {
					return fmt.Errorf("integrity check failed for %q: %w", key, err)
				}
				cmd.Println("ok:", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "entity type name")
	cmd.Flags().StringVar(&indexName, "index", "", "index name")
	return cmd
}

func newSpanIntegrityCmd(deps Deps) *cobra.Command {
	var typeName, indexName string
	cmd := &cobra.Command{
		Use:   "span-integrity",
		Short: "Validate a rank (skip list) index's span-counter invariant",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := typeName + "/" + indexName
			m, ok := deps.Maintainers[key]
			if !ok {
				return fmt.Errorf("admin: no maintainer registered for %q", key)
			}
			sv, ok := m.(interface {
				ValidateSpanIntegrity(ctx context.Context, txn kv.Txn) error
			})
			if !ok {
				return fmt.Errorf("admin: maintainer for %q is not a span-counter index", key)
			}
			return deps.Store.WithTransaction(cmd.Context(), kv.TxnConfig{ReadOnly: true}, func(txn kv.Txn) error {
				if err := sv.ValidateSpanIntegrity(cmd.Context(), txn); err != nil {
					return fmt.Errorf("span integrity check failed for %q: %w", key, err)
				}
				cmd.Println("ok:", key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "entity type name")
	cmd.Flags().StringVar(&indexName, "index", "", "index name")
	return cmd
}

func newStatusCmd(deps Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print every registered index's lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			for typeName, descs := range deps.Catalog.AllIndexDescriptors() {
				for _, d := range descs {
					cmd.Printf("%s/%s\tkind=%s\tstate=%s\n", typeName, d.Name, d.Kind, d.State)
				}
			}
			return nil
		},
	}
	return cmd
}
