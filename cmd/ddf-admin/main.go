// Package main is the entry point for the DDF admin CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/gapminder/ddf-server/internal/admin"
	"github.com/gapminder/ddf-server/internal/catalog/mysqlcat"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var (
	dbHost       string
	dbPort       int
	dbDatabase   string
	dbUser       string
	dbPassword   string
	dbSocketPath string
	slackURL     string
	output       string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "ddf-admin",
		Short: "Admin CLI for the DDF dataset query service",
		Long:  `A command-line tool for loading DDF packages and managing dataset versions.`,
	}

	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", getEnvOrDefault("DB_HOST", "localhost"), "Database host")
	rootCmd.PersistentFlags().IntVar(&dbPort, "db-port", getEnvOrDefaultInt("DB_PORT", 3306), "Database port")
	rootCmd.PersistentFlags().StringVar(&dbDatabase, "db-name", getEnvOrDefault("DB_NAME", ""), "Database name (required)")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", getEnvOrDefault("DB_USER", ""), "Database user")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-pwd", getEnvOrDefault("DB_PWD", ""), "Database password")
	rootCmd.PersistentFlags().StringVar(&dbSocketPath, "db-socket-path", getEnvOrDefault("DB_SOCKET_PATH", ""), "Unix socket path, used instead of host/port")
	rootCmd.PersistentFlags().StringVar(&slackURL, "slack-channel-url", getEnvOrDefault("SLACK_CHANNEL_URL", ""), "Webhook URL for load start/completion notifications")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format: table, json")

	loadCmd := &cobra.Command{
		Use:   "load <dir> <name>",
		Short: "Ingest a DDF package directory as a new dataset version",
		Args:  cobra.ExactArgs(2),
		RunE:  runLoad,
	}
	loadCmd.Flags().String("version", "", "Explicit version string (defaults to today's date, auto-incremented)")
	loadCmd.Flags().String("password", "", "Require this password to query the loaded version")
	loadCmd.Flags().Bool("publish", false, "Mark the loaded version as the name's default")
	loadCmd.Flags().Int("max-columns", 0, "Wide-table column split threshold (0 uses the built-in default)")

	listCmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List dataset names, or versions of one name",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runList,
	}

	makeDefaultCmd := &cobra.Command{
		Use:   "make-default <name> <version|latest>",
		Short: "Mark a version as the default served for its name",
		Args:  cobra.ExactArgs(2),
		RunE:  runMakeDefault,
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <name> <version|_ALL_>",
		Short: "Remove one or every dataset version from the catalog",
		Args:  cobra.ExactArgs(2),
		RunE:  runDelete,
	}

	purgeCmd := &cobra.Command{
		Use:   "purge <name>",
		Short: "Remove old versions of a dataset, keeping the default (or the two newest) and the one before it",
		Args:  cobra.ExactArgs(1),
		RunE:  runPurge,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ddf-admin %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}

	rootCmd.AddCommand(loadCmd, listCmd, makeDefaultCmd, deleteCmd, purgeCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openClient() (*admin.Client, error) {
	if dbDatabase == "" {
		return nil, fmt.Errorf("--db-name is required")
	}
	cfg := mysqlcat.DefaultConfig()
	cfg.Host = dbHost
	cfg.Port = dbPort
	cfg.Database = dbDatabase
	cfg.Username = dbUser
	cfg.Password = dbPassword
	cfg.SocketPath = dbSocketPath
	return admin.Open(admin.Config{MySQL: cfg, SlackWebhookURL: slackURL})
}

func runLoad(cmd *cobra.Command, args []string) error {
	dir, name := args[0], args[1]
	explicitVersion, _ := cmd.Flags().GetString("version")
	password, _ := cmd.Flags().GetString("password")
	publish, _ := cmd.Flags().GetBool("publish")
	maxColumns, _ := cmd.Flags().GetInt("max-columns")

	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	fmt.Printf("Loading %s from %s...\n", name, dir)
	result, err := client.Load(ctx, dir, name, explicitVersion, password, publish, maxColumns)
	if err != nil {
		return fmt.Errorf("load failed: %w", err)
	}

	fmt.Printf("Loaded %s/%s: %d tables, %d rows\n", result.Name, result.Version, result.TableCount, result.RowCount)
	if publish {
		fmt.Println("Marked as default version.")
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()

	if len(args) == 1 {
		records, err := client.ListVersions(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tDEFAULT\tPROTECTED\tIMPORTED")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%v\t%v\t%s\n", rec.Version, rec.IsDefault, rec.Protected(), rec.Imported.Format(time.RFC3339))
		}
		return w.Flush()
	}

	names, err := client.ListNames(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runMakeDefault(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.MakeDefault(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("%s/%s is now the default version.\n", args[0], args[1])
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	dropped, err := client.Delete(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("%s/%s deleted, %d table(s) dropped.\n", args[0], args[1], len(dropped))
	return nil
}

func runPurge(cmd *cobra.Command, args []string) error {
	client, err := openClient()
	if err != nil {
		return err
	}
	defer client.Close()

	dropped, err := client.Purge(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Purged %s, %d table(s) dropped.\n", args[0], len(dropped))
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return defaultValue
}
