package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"rankwatch/api"
	"rankwatch/collector"
	"rankwatch/config"
	"rankwatch/export"
	"rankwatch/retention"
	"rankwatch/scheduler"
	"rankwatch/snapshot"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address (overrides LISTEN_ADDR)"},
			&cli.BoolFlag{Name: "schedule", Usage: "also collect and rotate every SNAPSHOT_INTERVAL"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, true)
			if err != nil {
				return err
			}
			defer rt.close()
			log := rt.log.Logger

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			psi := rt.pageSpeed()
			coll := rt.collector(psi)
			svc := rt.snapshots(coll)

			if c.Bool("schedule") {
				sched := scheduler.New(
					scheduler.Config{Interval: rt.cfg.ScheduleInterval},
					scheduledCollect(svc, rt.cfg.TargetsPath),
					scheduledRotate(rt.retention(), rt.cfg.KeepDays),
					log,
				)
				go sched.Run(ctx)
			}

			addr := rt.cfg.ListenAddr
			if v := c.String("addr"); v != "" {
				addr = v
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           api.NewRouter(rt.apiDeps(svc, psi, coll)),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					log.Error("http shutdown", zap.Error(err))
				}
			}()

			log.Info("listening", zap.String("addr", addr), zap.Bool("auth", rt.cfg.APIKey != ""))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			log.Info("server stopped")
			return nil
		},
	}
}

// scheduledCollect reloads the targets file on every pass so edits are
// picked up without a restart.
func scheduledCollect(svc *snapshot.Service, targetsPath string) scheduler.Job {
	return func(ctx context.Context) error {
		t, err := config.LoadTargets(targetsPath)
		if err != nil {
			return err
		}
		notes := t.Notes
		if notes == "" {
			notes = "scheduled run"
		}
		resp, err := svc.Trigger(ctx, snapshot.Request{
			URLs:         t.URLs,
			Queries:      t.Queries,
			SiteHostname: t.Site,
			Strategy:     t.Strategy,
			Save:         true,
			Notes:        &notes,
		})
		if err != nil {
			return err
		}
		if !resp.Saved {
			return fmt.Errorf("snapshot not saved: %s", resp.Error)
		}
		return nil
	}
}

func scheduledRotate(m *retention.Manager, keepDays int) scheduler.Job {
	return func(ctx context.Context) error {
		_, err := m.Run(ctx, retention.Request{KeepDays: keepDays})
		return err
	}
}

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "collect once and store the result",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "targets", Usage: "targets file (.yaml, or one URL per line); defaults to SNAPSHOT_TARGETS"},
			&cli.StringFlag{Name: "urls", Usage: "file with one URL per line"},
			&cli.StringFlag{Name: "queries", Usage: "file with one GEO query per line"},
			&cli.StringFlag{Name: "site", Usage: "site hostname checked for citations"},
			&cli.StringFlag{Name: "strategy", Usage: "mobile|desktop"},
			&cli.StringFlag{Name: "notes", Usage: "free-form note stored with the snapshot"},
			&cli.BoolFlag{Name: "no-save", Usage: "collect and print without storing"},
			&cli.BoolFlag{Name: "json", Usage: "print the full response as JSON"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, false)
			if err != nil {
				return err
			}
			defer rt.close()

			t, err := resolveTargets(c, rt.cfg.TargetsPath)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			notes := t.Notes
			if notes == "" {
				notes = "cli run"
			}

			svc := rt.snapshots(rt.collector(rt.pageSpeed()))
			resp, err := svc.Trigger(c.Context, snapshot.Request{
				URLs:         t.URLs,
				Queries:      t.Queries,
				SiteHostname: t.Site,
				Strategy:     t.Strategy,
				Save:         !c.Bool("no-save"),
				Notes:        &notes,
			})
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}

			if c.Bool("json") {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				printSummary(resp)
			}

			if !c.Bool("no-save") && !resp.Saved {
				return cli.Exit("FATAL: could not save snapshot: "+resp.Error, 3)
			}
			return nil
		},
	}
}

// resolveTargets merges the targets file with the per-flag overrides.
func resolveTargets(c *cli.Context, defaultPath string) (*config.Targets, error) {
	var t *config.Targets
	switch {
	case c.IsSet("targets"):
		loaded, err := config.LoadTargets(c.String("targets"))
		if err != nil {
			return nil, err
		}
		t = loaded
	case c.IsSet("urls") || c.IsSet("queries"):
		t = &config.Targets{}
	default:
		loaded, err := config.LoadTargets(defaultPath)
		if err != nil {
			return nil, err
		}
		t = loaded
	}

	if c.IsSet("urls") {
		urls, err := config.ReadLines(c.String("urls"))
		if err != nil {
			return nil, err
		}
		t.URLs = urls
	}
	if c.IsSet("queries") {
		queries, err := config.ReadLines(c.String("queries"))
		if err != nil {
			return nil, err
		}
		t.Queries = queries
	}
	if v := c.String("site"); v != "" {
		t.Site = v
	}
	if v := c.String("strategy"); v != "" {
		t.Strategy = v
	}
	if v := c.String("notes"); v != "" {
		t.Notes = v
	}
	if len(t.URLs) == 0 && len(t.Queries) == 0 {
		return nil, errors.New("nothing to collect: no URLs or queries")
	}
	return t, nil
}

func printSummary(resp *snapshot.Response) {
	failed := 0
	for _, r := range resp.Batch.PSI {
		if r.Status == collector.StatusError {
			failed++
		}
	}
	if resp.Saved {
		fmt.Printf("Saved snapshot %d with %d PSI rows and %d GEO rows\n", *resp.SnapshotID, resp.PsiCount, resp.GeoCount)
	} else {
		fmt.Printf("Collected %d PSI rows and %d GEO rows (not saved)\n", resp.PsiCount, resp.GeoCount)
	}
	if failed > 0 {
		fmt.Printf("%d of %d URLs failed\n", failed, resp.PsiCount)
	}
}

func rotateCommand() *cli.Command {
	return &cli.Command{
		Name:  "rotate",
		Usage: "delete snapshots older than --keep-days",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "keep-days", Usage: "keep snapshots newer than this many days (defaults to SNAPSHOT_KEEP_DAYS)"},
			&cli.BoolFlag{Name: "dry-run", Usage: "report without deleting"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, false)
			if err != nil {
				return err
			}
			defer rt.close()

			keepDays := rt.cfg.KeepDays
			if c.IsSet("keep-days") {
				keepDays = c.Int("keep-days")
			}
			mgr := rt.retention().Pinned()

			expired, err := mgr.Expired(c.Context, keepDays)
			if errors.Is(err, retention.ErrInvalidKeepDays) {
				return cli.Exit(err.Error(), 1)
			}
			if err != nil {
				return cli.Exit("FATAL: "+err.Error(), 2)
			}
			cutoff := mgr.Cutoff(keepDays)
			if len(expired) == 0 {
				fmt.Printf("No snapshots older than %d days (cutoff %s).\n", keepDays, cutoff.Format(time.RFC3339))
				return nil
			}

			fmt.Printf("Found %d snapshot(s) older than %d days (cutoff %s):\n", len(expired), keepDays, cutoff.Format(time.RFC3339))
			for _, s := range expired {
				fmt.Printf("  id=%d created_at=%s (%s)\n", s.ID, s.CreatedAt.Format(time.RFC3339), humanize.Time(s.CreatedAt))
			}

			res, err := mgr.Run(c.Context, retention.Request{KeepDays: keepDays, DryRun: c.Bool("dry-run")})
			if err != nil {
				return cli.Exit("FATAL: "+err.Error(), 2)
			}
			if res.DryRun {
				fmt.Println("Dry-run enabled; no deletions performed.")
				return nil
			}
			fmt.Printf("Deleted %s snapshot(s).\n", humanize.Comma(int64(res.Count())))
			return nil
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list stored snapshots, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
			&cli.IntFlag{Name: "offset"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, false)
			if err != nil {
				return err
			}
			defer rt.close()

			snaps, err := rt.store.ListSnapshots(c.Context, c.Int("limit"), c.Int("offset"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tAGE\tSERVER\tNOTES")
			for _, s := range snaps {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339), humanize.Time(s.CreatedAt), s.Server, s.Notes)
			}
			return tw.Flush()
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print one snapshot with all of its rows as JSON",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, false)
			if err != nil {
				return err
			}
			defer rt.close()

			snap, err := rt.store.GetSnapshot(c.Context, c.Int64("id"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write a snapshot as CSV files, optionally uploading them over SFTP",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "id", Required: true},
			&cli.StringFlag{Name: "out", Value: "./exports"},
			&cli.BoolFlag{Name: "upload", Usage: "copy the files to SFTP_HOST:SFTP_REMOTE_DIR"},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c, false)
			if err != nil {
				return err
			}
			defer rt.close()

			snap, err := rt.store.GetSnapshot(c.Context, c.Int64("id"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			files, err := export.WriteFiles(c.String("out"), snap)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			for _, f := range files {
				size := ""
				if fi, err := os.Stat(f); err == nil {
					size = humanize.Bytes(uint64(fi.Size()))
				}
				fmt.Printf("wrote %s (%s)\n", f, size)
			}

			if !c.Bool("upload") {
				return nil
			}
			remote, err := rt.uploader().Upload(c.Context, files)
			if err != nil {
				return cli.Exit("upload: "+err.Error(), 1)
			}
			for _, r := range remote {
				fmt.Printf("uploaded %s\n", r)
			}
			return nil
		},
	}
}

func gscNormalizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "gsc-normalize",
		Usage: "rewrite a Search Console performance export as query,clicks,impressions,ctr,position",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Required: true, Usage: "raw Search Console CSV"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "normalized CSV path"},
		},
		Action: func(c *cli.Context) error {
			if err := export.NormalizeGSCFile(c.String("in"), c.String("out")); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			fmt.Printf("Wrote normalized GSC CSV to %s\n", c.String("out"))
			return nil
		},
	}
}
