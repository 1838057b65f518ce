package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/moderator/internal/db"
	"github.com/soaringjerry/moderator/internal/logger"
	"github.com/soaringjerry/moderator/internal/services"
)

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List records whose remote sync has not succeeded",
	RunE:  runPending,
}

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Push pending records that are still on disk",
	RunE:  runResync,
}

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(resyncCmd)
	resyncCmd.Flags().StringVar(&cfg.github.repo, "github-repo", cfg.github.repo, "owner/name of the results repository")
	resyncCmd.Flags().StringVar(&cfg.github.branch, "github-branch", cfg.github.branch, "Branch records are committed to")
}

func openLedger() (*db.Ledger, error) {
	if cfg.ledgerPath == "" {
		return nil, errors.New("no ledger configured (set --ledger or MODERATOR_LEDGER_PATH)")
	}
	return db.Open(cfg.ledgerPath, cfg.migrationsDir)
}

func runPending(cmd *cobra.Command, _ []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()
	pending, err := ledger.ListPending(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PARTICIPANT\tKIND\tTRIAL\tCOMMITTED\tLOCAL\tERROR")
	for _, c := range pending {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", c.ParticipantID, c.Kind, c.TrialIndex,
			c.CommittedAt.Format(time.RFC3339), c.LocalPath, c.SyncError)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d pending\n", len(pending))
	return nil
}

func runResync(cmd *cobra.Command, _ []string) error {
	if cfg.ledgerPath == "" {
		return errors.New("no ledger configured (set --ledger or MODERATOR_LEDGER_PATH)")
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	pending, err := a.ledger.ListPending(cmd.Context())
	if err != nil {
		return err
	}
	pushed, failed := resync(cmd.Context(), a.committer, pending)
	fmt.Fprintf(cmd.OutOrStdout(), "pushed %d, still pending %d\n", pushed, failed)
	if failed > 0 {
		return fmt.Errorf("%d records could not be pushed", failed)
	}
	return nil
}

// resync pushes each pending record from its local file. Records whose
// local file is gone are reported and left in the ledger.
func resync(ctx context.Context, up services.Uploader, pending []db.Commit) (pushed, failed int) {
	for _, c := range pending {
		// #nosec G304 -- path comes from our own ledger.
		data, err := os.ReadFile(c.LocalPath)
		if err != nil {
			logger.Warn("resync: local record missing", "path", c.LocalPath, "error", err)
			failed++
			continue
		}
		err = up.Upload(ctx, services.Upload{
			Kind:          services.UploadKind(c.Kind),
			ParticipantID: c.ParticipantID,
			TrialIndex:    c.TrialIndex,
			LocalPath:     c.LocalPath,
			Payload:       json.RawMessage(data),
		})
		if err != nil {
			logger.Warn("resync: push failed", "path", c.LocalPath, "error", err)
			failed++
			continue
		}
		pushed++
	}
	return pushed, failed
}
