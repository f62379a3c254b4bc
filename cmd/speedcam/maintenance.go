package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/speedcam/internal/config"
	"github.com/banshee-data/speedcam/internal/eventlog"
	"github.com/banshee-data/speedcam/internal/fsutil"
	"github.com/banshee-data/speedcam/internal/images"
	"github.com/banshee-data/speedcam/internal/retention"
	"github.com/banshee-data/speedcam/internal/security"
)

func openSQL(cfg *config.Config) (*eventlog.SQLStore, error) {
	if cfg.Storage.Backend != "sqlite" {
		return nil, fmt.Errorf("migrations apply to the sqlite backend, storage.backend is %q", cfg.Storage.Backend)
	}
	return eventlog.OpenSQL(cfg.Storage.DBPath)
}

func migrateCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQLite event log schema",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			// Opening applies pending migrations.
			s, err := openSQL(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return printVersion(cmd, s)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			s, err := openSQL(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.MigrateDown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all migrations rolled back")
			return nil
		},
	}

	ver := &cobra.Command{
		Use:   "version",
		Short: "Print the schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			s, err := openSQL(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			return printVersion(cmd, s)
		},
	}

	force := &cobra.Command{
		Use:   "force VERSION",
		Short: "Mark the schema as VERSION without running migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q: %w", args[0], err)
			}
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			s, err := openSQL(cfg)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.MigrateForce(v); err != nil {
				return err
			}
			return printVersion(cmd, s)
		},
	}

	cmd.AddCommand(up, down, ver, force)
	return cmd
}

func printVersion(cmd *cobra.Command, s *eventlog.SQLStore) error {
	v, dirty, err := s.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", v, dirty)
	return nil
}

func eventsCommand(flags *globalFlags) *cobra.Command {
	var (
		since          time.Duration
		label          string
		direction      string
		minSpeed       float64
		includeRemoved bool
		limit          int
		format         string
		output         string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Export logged detections as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			f := eventlog.Filter{
				Label:          label,
				Direction:      direction,
				MinSpeedKMH:    minSpeed,
				IncludeRemoved: includeRemoved,
				Limit:          limit,
			}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			events, err := store.Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			switch format {
			case "csv":
				err = eventlog.WriteCSV(&buf, events)
			case "json":
				enc := json.NewEncoder(&buf)
				enc.SetIndent("", "  ")
				err = enc.Encode(events)
			default:
				return fmt.Errorf("unknown format %q (want csv or json)", format)
			}
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(buf.Bytes())
				return err
			}
			if err := security.ValidateExportPath(output); err != nil {
				return err
			}
			if err := fsutil.WriteFileAtomic(output, buf.Bytes(), 0o644); err != nil {
				return err
			}
			log.Info("events exported", "path", output, "count", len(events))
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this age, e.g. 24h")
	cmd.Flags().StringVar(&label, "type", "", "Only this object type")
	cmd.Flags().StringVar(&direction, "direction", "", "Only this direction (L2R or R2L)")
	cmd.Flags().Float64Var(&minSpeed, "min-speed", 0, "Only events faster than this speed in km/h")
	cmd.Flags().BoolVar(&includeRemoved, "include-removed", false, "Include tombstoned events")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events (0 for all)")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Output format: csv or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file under the working or temp directory (default stdout)")
	return cmd
}

func tombstoneCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tombstone IMAGE",
		Short: "Remove a detection by its image file name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			cleaner, closeStore, err := openCleaner(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			res, err := cleaner.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tombstoned %d rows, deleted %d images\n", res.Tombstoned, res.Deleted)
			return nil
		},
	}
}

func cleanupCommand(flags *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Apply the retention policy once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags, false)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("days") {
				cfg.Storage.RetentionDays = days
			}
			cleaner, closeStore, err := openCleaner(cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			res, err := cleaner.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tombstoned %d rows, deleted %d images, %d errors\n",
				res.Tombstoned, res.Deleted, res.Errors)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Override storage.retention_days")
	return cmd
}

func openCleaner(cfg *config.Config) (*retention.Cleaner, func(), error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	imgs, err := images.NewStore(cfg.Storage.ImageDir, nil)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	c := retention.New(retention.Config{RetentionDays: cfg.Storage.RetentionDays}, store, imgs)
	return c, func() { store.Close() }, nil
}
