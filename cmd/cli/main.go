package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mshibata0117/gitlab-mirror-manager/internal/config"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/domain"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/gitlab"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/service"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage/postgres"
	"github.com/mshibata0117/gitlab-mirror-manager/internal/storage/sqlite"
)

var (
	outputJSON    bool
	instanceToken string
	pairDirection string
	protectedOnly bool
	keepDivergent bool
)

var rootCmd = &cobra.Command{
	Use:   "mirrorctl",
	Short: "GitLab mirror management tool",
	Long: `A CLI tool for managing push and pull mirrors across GitLab instances.

Register instances, link them into pairs, and configure project mirrors.
Batch operations against the GitLab API are paced and retried automatically.`,
}

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Manage GitLab instances",
}

var instanceAddCmd = &cobra.Command{
	Use:   "add [name] [url]",
	Short: "Register a GitLab instance",
	Args:  cobra.ExactArgs(2),
	RunE:  runInstanceAdd,
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered instances",
	Args:  cobra.NoArgs,
	RunE:  runInstanceList,
}

var instanceRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove an instance and clean up its mirrors",
	Long: `Remove a registered instance.

Every mirror hosted on the instance is deleted from the remote first, then
the instance, its pairs and its mirrors are removed locally. Remote
deletions that fail are reported as warnings and do not stop the removal.`,
	Args: cobra.ExactArgs(1),
	RunE: runInstanceRemove,
}

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Manage instance pairs",
}

var pairAddCmd = &cobra.Command{
	Use:   "add [name] [source-instance-id] [target-instance-id]",
	Short: "Link two instances for mirroring",
	Args:  cobra.ExactArgs(3),
	RunE:  runPairAdd,
}

var pairListCmd = &cobra.Command{
	Use:   "list",
	Short: "List instance pairs",
	Args:  cobra.NoArgs,
	RunE:  runPairList,
}

var pairRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a pair and its mirrors",
	Args:  cobra.ExactArgs(1),
	RunE:  runPairRemove,
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage project mirrors",
}

var mirrorAddCmd = &cobra.Command{
	Use:   "add [pair-id] [project-id] [remote-url]",
	Short: "Configure a mirror for a project",
	Args:  cobra.ExactArgs(3),
	RunE:  runMirrorAdd,
}

var mirrorListCmd = &cobra.Command{
	Use:   "list [pair-id]",
	Short: "List the mirrors of a pair",
	Args:  cobra.ExactArgs(1),
	RunE:  runMirrorList,
}

var mirrorRemoveCmd = &cobra.Command{
	Use:   "remove [id]",
	Short: "Remove a mirror remotely and locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runMirrorRemove,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Probe every registered instance",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [pair-id]",
	Short: "Delete the remote mirrors of a pair",
	Long: `Delete every mirror of a pair from the remote instance and forget them
locally. Failed remote deletions are reported as warnings; the local rows
are removed regardless.`,
	Args: cobra.ExactArgs(1),
	RunE: runCleanup,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [pair-id]",
	Short: "Refresh the sync status of a pair's mirrors",
	Args:  cobra.ExactArgs(1),
	RunE:  runRefresh,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	instanceAddCmd.Flags().StringVar(&instanceToken, "token", "", "API token for the instance (required)")
	_ = instanceAddCmd.MarkFlagRequired("token")

	pairAddCmd.Flags().StringVar(&pairDirection, "direction", "push", "mirror direction (push or pull)")
	pairAddCmd.Flags().BoolVar(&protectedOnly, "protected-only", false, "mirror only protected branches")
	pairAddCmd.Flags().BoolVar(&keepDivergent, "keep-divergent", false, "keep divergent refs on the remote")

	rootCmd.AddCommand(instanceCmd)
	instanceCmd.AddCommand(instanceAddCmd)
	instanceCmd.AddCommand(instanceListCmd)
	instanceCmd.AddCommand(instanceRemoveCmd)

	rootCmd.AddCommand(pairCmd)
	pairCmd.AddCommand(pairAddCmd)
	pairCmd.AddCommand(pairListCmd)
	pairCmd.AddCommand(pairRemoveCmd)

	rootCmd.AddCommand(mirrorCmd)
	mirrorCmd.AddCommand(mirrorAddCmd)
	mirrorCmd.AddCommand(mirrorListCmd)
	mirrorCmd.AddCommand(mirrorRemoveCmd)

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// getServices loads configuration, opens storage and builds both services.
// The returned closer releases the storage handle.
func getServices() (*service.InstanceService, *service.MirrorService, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	entry := log.WithField("component", "cli")

	instances := service.NewInstanceService(store, gitlab.NewClient, cfg, entry)
	mirrors := service.NewMirrorService(store, gitlab.NewClient, cfg, entry)
	return instances, mirrors, func() { store.Close() }, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport renders a batch report: a colored one-line summary, the rate
// limiter numbers and any per-item warnings.
func printReport(report *domain.BatchReport) {
	if report == nil {
		return
	}

	succeeded := color.GreenString("%d succeeded", report.Summary.Succeeded)
	failed := fmt.Sprintf("%d failed", report.Summary.Failed)
	if report.Summary.Failed > 0 {
		failed = color.RedString("%d failed", report.Summary.Failed)
	}
	fmt.Printf("\n%s, %s of %d (%.2fs, %d calls, %d retries, %.2f ops/s)\n",
		succeeded, failed, report.Summary.Total,
		report.Summary.DurationSeconds,
		report.Metrics.CallsMade,
		report.Metrics.RetriesPerformed,
		report.Metrics.OperationsPerSecond)

	for _, warning := range report.Summary.Warnings {
		color.Yellow("warning: %s", warning)
	}
}

func runInstanceAdd(cmd *cobra.Command, args []string) error {
	instances, _, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	instance, err := instances.Create(context.Background(), args[0], args[1], instanceToken)
	if err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	if outputJSON {
		return printJSON(instance)
	}

	fmt.Printf("Registered instance %s (%s)\n", instance.Name, instance.ID)
	return nil
}

func runInstanceList(cmd *cobra.Command, args []string) error {
	instances, _, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	list, err := instances.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if outputJSON {
		return printJSON(list)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "URL", "Created"})
	for _, instance := range list {
		table.Append([]string{
			instance.ID,
			instance.Name,
			instance.URL,
			instance.CreatedAt.Format("2006-01-02"),
		})
	}
	table.Render()

	return nil
}

func runInstanceRemove(cmd *cobra.Command, args []string) error {
	instances, _, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	result, err := instances.Delete(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to remove instance: %w", err)
	}

	if outputJSON {
		return printJSON(result)
	}

	fmt.Printf("Removed instance %s: %d mirrors and %d pairs deleted locally\n",
		result.InstanceID, result.MirrorsRemoved, result.PairsRemoved)
	printReport(result.RemoteCleanup)
	return nil
}

func runPairAdd(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	pair, err := mirrors.CreatePair(context.Background(), &domain.InstancePair{
		Name:                  args[0],
		SourceInstanceID:      args[1],
		TargetInstanceID:      args[2],
		Direction:             domain.MirrorDirection(pairDirection),
		Enabled:               true,
		OnlyProtectedBranches: protectedOnly,
		KeepDivergentRefs:     keepDivergent,
	})
	if err != nil {
		return fmt.Errorf("failed to create pair: %w", err)
	}

	if outputJSON {
		return printJSON(pair)
	}

	fmt.Printf("Created %s pair %s (%s)\n", pair.Direction, pair.Name, pair.ID)
	return nil
}

func runPairList(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	pairs, err := mirrors.ListPairs(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list pairs: %w", err)
	}

	if outputJSON {
		return printJSON(pairs)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Source", "Target", "Direction", "Enabled"})
	for _, pair := range pairs {
		table.Append([]string{
			pair.ID,
			pair.Name,
			pair.SourceInstanceID,
			pair.TargetInstanceID,
			string(pair.Direction),
			fmt.Sprintf("%t", pair.Enabled),
		})
	}
	table.Render()

	return nil
}

func runPairRemove(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	report, err := mirrors.DeletePair(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to remove pair: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	fmt.Printf("Removed pair %s\n", args[0])
	printReport(report)
	return nil
}

func runMirrorAdd(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	var projectID int
	if _, err := fmt.Sscanf(args[1], "%d", &projectID); err != nil {
		return fmt.Errorf("invalid project id %q", args[1])
	}

	mirror, err := mirrors.CreateMirror(context.Background(), args[0], projectID, args[2])
	if err != nil {
		return fmt.Errorf("failed to create mirror: %w", err)
	}

	if outputJSON {
		return printJSON(mirror)
	}

	fmt.Printf("Created %s mirror %s for project %d\n", mirror.Direction, mirror.ID, mirror.HostProjectID)
	return nil
}

func runMirrorList(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	list, err := mirrors.ListMirrors(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to list mirrors: %w", err)
	}

	if outputJSON {
		return printJSON(list)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Project", "Remote URL", "Direction", "Status", "Last Synced"})
	for _, mirror := range list {
		lastSynced := ""
		if mirror.LastSyncedAt != nil {
			lastSynced = mirror.LastSyncedAt.Format(time.RFC3339)
		}
		table.Append([]string{
			mirror.ID,
			fmt.Sprintf("%d", mirror.HostProjectID),
			mirror.RemoteURL,
			string(mirror.Direction),
			mirror.UpdateStatus,
			lastSynced,
		})
	}
	table.Render()

	return nil
}

func runMirrorRemove(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	if err := mirrors.DeleteMirror(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to remove mirror: %w", err)
	}

	fmt.Printf("Removed mirror %s\n", args[0])
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	instances, _, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	report, err := instances.HealthSweep(context.Background())
	if err != nil {
		return fmt.Errorf("health sweep failed: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Instance", "URL", "Status", "Version", "Error"})
	for _, h := range report.Instances {
		status := color.GreenString("up")
		if !h.Reachable {
			status = color.RedString("down")
		}
		table.Append([]string{h.Name, h.URL, status, h.Version, h.Error})
	}
	table.Render()
	printReport(report.Report)

	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	report, err := mirrors.Cleanup(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	fmt.Printf("Cleaned up mirrors of pair %s\n", args[0])
	printReport(report)
	return nil
}

func runRefresh(cmd *cobra.Command, args []string) error {
	_, mirrors, closer, err := getServices()
	if err != nil {
		return err
	}
	defer closer()

	report, err := mirrors.RefreshStatus(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}

	fmt.Printf("Refreshed mirror status for pair %s\n", args[0])
	printReport(report)
	return nil
}
