package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/thetolkienblack/home-lab-automation/internal/app/migrate"
	"github.com/thetolkienblack/home-lab-automation/internal/cli/ui"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/archive"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/discovery"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/engine"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/runtime"
)

// migrateCmd represents the migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Dump every service and load it into the shared target",
	Long: `Migrate discovers the services under the services root, dumps each one
from its own container, provisions an isolated database (or key index) on the
target container, imports the dump and verifies the object counts.

Exit codes:
  0  every service was verified or skipped
  1  one or more services failed
  2  the run could not start or the target became unreachable

Examples:
  # Consolidate every PostgreSQL service into the "postgres" container
  dbmigrate migrate --services-root /opt/stacks --engine postgres --target postgres

  # Move Redis caches with a live key copy, starting at index 4
  dbmigrate migrate -r /opt/stacks -e redis -t redis --redis-method live --redis-index-offset 4

  # Only two services, report written as YAML
  dbmigrate migrate -r /opt/stacks -e mysql -t mariadb --only gitea,wiki --report-file report.yaml`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(viper.GetViper())
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}
		if err := s.promptPassword(); err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !IsQuiet() {
			ui.Header("dbmigrate - Database Consolidation")
			ui.Info(fmt.Sprintf("Services root: %s", s.Run.ServicesRoot))
			ui.Info(fmt.Sprintf("Target: %s (%s)", s.Run.Target, s.Run.Engine))
			if s.Run.Engine == migration.EngineRedis {
				ui.Info(fmt.Sprintf("Method: %s", s.Run.Method))
			}
			ui.Info(fmt.Sprintf("Dump directory: %s", s.Run.DumpDir))
			ui.Divider()
		}

		report, err := runMigration(ctx, s)
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}

		printSummary(report, s)
		if code := report.ExitCode(); code != migration.ExitOK {
			return &ExitError{Code: code}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	f := migrateCmd.Flags()
	addDiscoveryFlags(f)
	f.StringP("target", "t", "", "target container name")
	f.String("redis-method", string(migration.MethodLive), "key-value migration method (snapshot, live)")
	f.IntP("workers", "w", migrate.DefaultWorkers, "concurrent dumps")
	f.Int("import-workers", migrate.DefaultImportWorkers, "concurrent imports against the target")
	f.String("dump-dir", defaultDumpDir(), "directory receiving dump artifacts and the provisioning script")
	f.String("runtime", string(runtime.RuntimeAuto), "container runtime (auto, docker, docker-cli, podman)")
	f.String("target-user", "", "target superuser (default postgres or root)")
	f.String("target-password", "", "target superuser password (prompted when empty on a terminal)")
	f.String("target-addr", "", "host:port of the target for direct connections")
	f.Int("redis-index-offset", migrate.DefaultIndexOffset, "first destination index for key-value services")
	f.Int("redis-max-index", migrate.DefaultMaxIndex, "highest usable destination index")
	f.String("redis-image", engine.DefaultRedisImage, "image of the helper instance used by snapshot imports")
	f.Duration("ready-timeout", engine.DefaultReadyTimeout, "how long to wait for a helper instance to accept commands")
	f.Float64("redis-read-rate", 0, "source key reads per second during live dumps (0 = unlimited)")
	f.String("report-file", "", "write the final report as YAML")
	f.String("archive-url", "", "upload dumps to s3://bucket/prefix")
	f.String("archive-endpoint", "", "S3-compatible endpoint, e.g. http://minio:9000")
	f.String("archive-access-key", "", "archive access key")
	f.String("archive-secret-key", "", "archive secret key")
	f.String("archive-region", "", "archive bucket region")
	f.String("min-free-space", "512mb", "minimum free space in the dump directory")
}

func defaultDumpDir() string {
	return filepath.Join(os.TempDir(), "dbmigrate")
}

// settings is the resolved configuration of a migrate run.
type settings struct {
	Run            migrate.Config
	Runtime        runtime.ContainerRuntime
	TargetUser     string
	TargetPassword string
	TargetAddr     string
	RedisImage     string
	ReadyTimeout   time.Duration
	ReadRate       float64
	Archive        archive.Config
}

func loadSettings(v *viper.Viper) (*settings, error) {
	kind, err := migration.ParseEngineKind(v.GetString("engine"))
	if err != nil {
		return nil, err
	}
	method, err := migration.ParseRedisMethod(v.GetString("redis-method"))
	if err != nil {
		return nil, err
	}
	rt, err := runtime.ParseRuntime(v.GetString("runtime"))
	if err != nil {
		return nil, err
	}

	root := v.GetString("services-root")
	if root == "" {
		return nil, fmt.Errorf("--services-root is required")
	}
	target := v.GetString("target")
	if target == "" {
		return nil, fmt.Errorf("--target is required")
	}

	dumpDir := v.GetString("dump-dir")
	if dumpDir == "" {
		dumpDir = defaultDumpDir()
	}

	minFree, err := parseSize(v.GetString("min-free-space"))
	if err != nil {
		return nil, fmt.Errorf("invalid min-free-space: %w", err)
	}

	offset := v.GetInt("redis-index-offset")
	maxIndex := v.GetInt("redis-max-index")
	if offset < 0 || offset > maxIndex {
		return nil, fmt.Errorf("redis-index-offset must be between 0 and redis-max-index (%d)", maxIndex)
	}

	s := &settings{
		Run: migrate.Config{
			ServicesRoot:  root,
			Engine:        kind,
			Method:        method,
			Target:        target,
			DumpDir:       dumpDir,
			EnvFiles:      splitList(v.GetStringSlice("env-files")),
			Only:          splitList(v.GetStringSlice("only")),
			Workers:       v.GetInt("workers"),
			ImportWorkers: v.GetInt("import-workers"),
			IndexOffset:   offset,
			MaxIndex:      maxIndex,
			MinFreeSpace:  minFree,
			ReportFile:    v.GetString("report-file"),
		},
		Runtime:        rt,
		TargetUser:     v.GetString("target-user"),
		TargetPassword: v.GetString("target-password"),
		TargetAddr:     v.GetString("target-addr"),
		RedisImage:     v.GetString("redis-image"),
		ReadyTimeout:   v.GetDuration("ready-timeout"),
		ReadRate:       v.GetFloat64("redis-read-rate"),
	}

	if u := v.GetString("archive-url"); u != "" {
		endpoint, secure := archive.SplitEndpoint(v.GetString("archive-endpoint"))
		s.Archive = archive.Config{
			URL:             u,
			Endpoint:        endpoint,
			AccessKeyID:     v.GetString("archive-access-key"),
			SecretAccessKey: v.GetString("archive-secret-key"),
			Region:          v.GetString("archive-region"),
			UseSSL:          secure,
		}
	}
	return s, nil
}

// promptPassword asks for the target password when none is configured and
// a terminal is attached. Without a terminal the empty password is used.
func (s *settings) promptPassword() error {
	if s.TargetPassword != "" || !ui.IsTerminal() {
		return nil
	}
	pw, err := ui.PromptPassword("Target password")
	if err != nil {
		return err
	}
	s.TargetPassword = pw
	return nil
}

// splitList flattens comma separated values coming from env vars or config.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

var sizeUnits = []struct {
	suffix string
	mult   uint64
}{
	{"gib", 1 << 30}, {"mib", 1 << 20}, {"kib", 1 << 10},
	{"gb", 1 << 30}, {"mb", 1 << 20}, {"kb", 1 << 10},
	{"g", 1 << 30}, {"m", 1 << 20}, {"k", 1 << 10},
	{"b", 1},
}

// parseSize parses sizes such as 512mb, 1GiB or 1048576.
func parseSize(s string) (uint64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	mult := uint64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

func runMigration(ctx context.Context, s *settings) (*migration.Report, error) {
	executor, err := container.New(ctx, s.Runtime)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the container runtime: %w", err)
	}
	defer executor.Close()

	engines, err := engine.NewRegistry(s.Run.Engine, engine.Options{
		Executor:       executor,
		Target:         s.Run.Target,
		TargetUser:     s.TargetUser,
		TargetPassword: s.TargetPassword,
		TargetAddr:     s.TargetAddr,
		ScriptDir:      s.Run.DumpDir,
		RedisMethod:    s.Run.Method,
		RedisImage:     s.RedisImage,
		ReadyTimeout:   s.ReadyTimeout,
		ReadRate:       s.ReadRate,
	})
	if err != nil {
		return nil, err
	}
	eng := engines.Get(s.Run.Engine)
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("Failed to close engine", "error", err)
		}
	}()

	svc := migrate.NewService(s.Run, eng, discovery.New(executor))

	store, err := migrate.NewStateStore(migrate.HistoryPath(s.Run.DumpDir))
	if err != nil {
		logger.Warn("Run history unavailable", "error", err)
	} else {
		svc.WithHistory(store)
	}

	if s.Archive.URL != "" {
		uploader, err := archive.New(s.Archive)
		if err != nil {
			return nil, err
		}
		svc.WithArchiver(uploader)
	}

	return svc.Run(ctx)
}

func printSummary(report *migration.Report, s *settings) {
	if IsQuiet() && report.ExitCode() == migration.ExitOK {
		return
	}

	ui.Divider()
	reportTable(report).Print(ui.IsTerminal())
	fmt.Fprintln(ui.Out)

	for _, r := range report.Records {
		if r.State == migration.StateFailed {
			ui.Error(fmt.Sprintf("%s: %s", r.Service, r.Detail))
		}
		for _, w := range r.Warnings {
			ui.Warning(fmt.Sprintf("%s: %s", r.Service, w))
		}
	}

	counts := report.Counts()
	line := fmt.Sprintf("%d verified, %d skipped, %d failed in %s",
		counts[migration.StateVerified], counts[migration.StateSkipped], counts[migration.StateFailed],
		report.Duration().Round(time.Second))

	switch report.ExitCode() {
	case migration.ExitOK:
		ui.Success(line)
	case migration.ExitFailures:
		ui.Warning(line)
	default:
		ui.Error(fmt.Sprintf("Run aborted: %s", report.AbortReason))
		ui.Error(line)
	}
	ui.Info(fmt.Sprintf("Run ID: %s", report.RunID))
	ui.Info(fmt.Sprintf("Artifacts: %s", s.Run.DumpDir))
	if s.Run.ReportFile != "" {
		ui.Info(fmt.Sprintf("Report: %s", s.Run.ReportFile))
	}
}

// reportTable renders one row per service.
func reportTable(report *migration.Report) *ui.Table {
	redis := report.Engine == migration.EngineRedis
	headers := []string{"SERVICE", "STATE", "REASON", "EXPECTED", "OBSERVED"}
	if redis {
		headers = append(headers, "INDEX")
	}
	headers = append(headers, "AUTH")

	t := ui.NewTable(headers...)
	t.StateColumn = 1
	for _, r := range report.Records {
		row := []string{r.Service, r.State.String(), dash(r.Reason), count(r.Expected, r.Artifact != ""), count(r.Observed, r.State == migration.StateVerified || r.Observed > 0)}
		if redis {
			idx := "-"
			if r.TargetIndex != nil {
				idx = strconv.Itoa(*r.TargetIndex)
			}
			row = append(row, idx)
		}
		row = append(row, dash(r.AuthTier))
		t.AddRow(row...)
	}
	return t
}

func count(n int64, known bool) string {
	if !known {
		return "-"
	}
	return strconv.FormatInt(n, 10)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
