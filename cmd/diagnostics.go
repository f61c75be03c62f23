// file: cmd/diagnostics.go
// version: 1.2.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/spf13/cobra"

	"github.com/sahelmfi/sfd-gateway/internal/audit"
	"github.com/sahelmfi/sfd-gateway/internal/config"
)

var (
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the audit trail",
		Long:  "Utilities for querying and pruning the local audit store.",
	}

	auditListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recorded operations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			sfd, _ := cmd.Flags().GetString("sfd")
			user, _ := cmd.Flags().GetString("user")
			severity, _ := cmd.Flags().GetString("severity")
			status, _ := cmd.Flags().GetString("status")
			since, _ := cmd.Flags().GetDuration("since")
			return runAuditList(limit, sfd, user, severity, status, since)
		},
	}

	auditPurgeCmd = &cobra.Command{
		Use:   "purge",
		Short: "Delete audit records older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("yes")
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			return runAuditPurge(olderThan, force)
		},
	}

	auditRawCmd = &cobra.Command{
		Use:   "raw",
		Short: "Show raw Pebble key/value data (Pebble only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			prefix, _ := cmd.Flags().GetString("prefix")
			return runRawPebbleQuery(limit, prefix)
		},
	}
)

func init() {
	auditListCmd.Flags().Int("limit", 20, "Number of records to display")
	auditListCmd.Flags().String("sfd", "", "Only records for this SFD")
	auditListCmd.Flags().String("user", "", "Only records for this user")
	auditListCmd.Flags().String("severity", "", "Only records with this severity")
	auditListCmd.Flags().String("status", "", "Only records with this status (success/failure)")
	auditListCmd.Flags().Duration("since", 0, "Only records newer than this age, e.g. 24h")

	auditPurgeCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
	auditPurgeCmd.Flags().Duration("older-than", 90*24*time.Hour, "Delete records older than this age")

	auditRawCmd.Flags().Int("limit", 5, "Number of keys to display")
	auditRawCmd.Flags().String("prefix", "audit:", "Key prefix to inspect")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditPurgeCmd)
	auditCmd.AddCommand(auditRawCmd)
	rootCmd.AddCommand(auditCmd)
}

func ensureAuditStore() (func(), error) {
	if err := audit.InitializeStore(
		config.AppConfig.AuditDBType,
		config.AppConfig.AuditDBPath,
	); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	cleanup := func() {
		audit.CloseStore()
	}
	return cleanup, nil
}

func runAuditList(limit int, sfd, user, severity, status string, since time.Duration) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}

	closer, err := ensureAuditStore()
	if err != nil {
		return err
	}
	defer closer()

	filter := audit.Filter{
		SfdID:    sfd,
		UserID:   user,
		Severity: severity,
		Status:   status,
		Limit:    limit,
	}
	if since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	records, err := audit.GlobalStore.List(filter)
	if err != nil {
		return fmt.Errorf("failed to fetch audit records: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No audit records matched.")
		return nil
	}

	for i, rec := range records {
		fmt.Printf("%2d. %s  %s\n", i+1, rec.Timestamp.Format(time.RFC3339), rec.ID)
		fmt.Printf("    SFD: %s  User: %s  Action: %s\n", rec.SfdID, rec.UserID, rec.Action)
		fmt.Printf("    Severity: %s  Status: %s\n", rec.Severity, rec.Status)
		if rec.ErrorMessage != "" {
			fmt.Printf("    Error: %s\n", rec.ErrorMessage)
		}
		if rec.TargetResource != "" {
			fmt.Printf("    Resource: %s\n", rec.TargetResource)
		}
		fmt.Println("---")
	}

	total, err := audit.GlobalStore.Count(filter)
	if err == nil {
		fmt.Printf("Showing %d of %d matching records.\n", len(records), total)
	}
	return nil
}

func runAuditPurge(olderThan time.Duration, force bool) error {
	if olderThan <= 0 {
		return errors.New("older-than must be positive")
	}

	closer, err := ensureAuditStore()
	if err != nil {
		return err
	}
	defer closer()

	cutoff := time.Now().Add(-olderThan)
	fmt.Printf("Purging audit records older than %s (%s)\n", olderThan, cutoff.Format(time.RFC3339))

	if !force {
		confirmed, err := promptYesNo("Purge matching records")
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted. No records deleted.")
			return nil
		}
	}

	deleted, err := audit.GlobalStore.Purge(cutoff)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	fmt.Printf("Deleted %d records.\n", deleted)
	return nil
}

func runRawPebbleQuery(limit int, prefix string) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}
	if config.AppConfig.AuditDBType != "pebble" {
		return fmt.Errorf("raw inspection is only available for Pebble stores")
	}

	db, err := pebble.Open(config.AppConfig.AuditDBPath, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return fmt.Errorf("failed to open Pebble store: %w", err)
	}
	defer db.Close()

	iterOpts := &pebble.IterOptions{}
	if prefix != "" {
		iterOpts.LowerBound = []byte(prefix)
		iterOpts.UpperBound = append([]byte(prefix), 0xFF)
	}

	iter, err := db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		fmt.Printf("Key: %s\n", string(iter.Key()))
		val := iter.Value()
		fmt.Printf("Value length: %d bytes\n", len(val))
		fmt.Printf("Value preview: %s\n", truncateString(string(val), 500))
		fmt.Println("---")

		count++
		if count >= limit {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	if count == 0 {
		fmt.Println("No keys matched the requested prefix.")
	}
	return nil
}

func promptYesNo(action string) (bool, error) {
	fmt.Printf("%s? Type 'yes' to confirm: ", action)
	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes", nil
}

func truncateString(in string, max int) string {
	if len(in) <= max {
		return in
	}
	return in[:max] + "..."
}
