package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/thetolkienblack/home-lab-automation/internal/cli/ui"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/discovery"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/runtime"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Show which services would be migrated",
	Long: `Discover reads the env files of every service under the services root and
resolves each service's source container. Nothing is dumped and no command is
run inside any container.`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := migration.ParseEngineKind(viper.GetString("engine"))
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}
		rt, err := runtime.ParseRuntime(viper.GetString("runtime"))
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}
		root := viper.GetString("services-root")
		if root == "" {
			return &ExitError{Code: migration.ExitFatal, Err: fmt.Errorf("--services-root is required")}
		}

		executor, err := container.New(cmd.Context(), rt)
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: fmt.Errorf("failed to connect to the container runtime: %w", err)}
		}
		defer executor.Close()

		candidates, err := discovery.New(executor).Discover(cmd.Context(), discovery.Options{
			Root:     root,
			Engine:   kind,
			EnvFiles: splitList(viper.GetStringSlice("env-files")),
			Only:     splitList(viper.GetStringSlice("only")),
		})
		if err != nil {
			return &ExitError{Code: migration.ExitFatal, Err: err}
		}

		candidateTable(candidates).Print(ui.IsTerminal())
		ready := 0
		for _, c := range candidates {
			if c.Err == nil {
				ready++
			}
		}
		if !IsQuiet() {
			fmt.Fprintln(ui.Out)
			ui.Info(fmt.Sprintf("%d of %d services ready for %s", ready, len(candidates), kind))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	addDiscoveryFlags(discoverCmd.Flags())
	discoverCmd.Flags().String("runtime", string(runtime.RuntimeAuto), "container runtime (auto, docker, docker-cli, podman)")
}

// addDiscoveryFlags registers the flags shared by migrate and discover.
func addDiscoveryFlags(f *pflag.FlagSet) {
	f.StringP("services-root", "r", "", "directory holding one subdirectory per service")
	f.StringP("engine", "e", "", "target engine (postgres, mysql, redis)")
	f.StringSlice("env-files", discovery.DefaultEnvFiles, "env files tried in order in each service directory")
	f.StringSlice("only", nil, "restrict the run to these services")
}

func candidateTable(candidates []discovery.Candidate) *ui.Table {
	t := ui.NewTable("SERVICE", "STATUS", "CONTAINER", "DATABASE", "USER", "REASON")
	t.StateColumn = 1
	for _, c := range candidates {
		svc := c.Service
		status, reason := "ready", "-"
		if c.Err != nil {
			status, reason = string(migration.StateSkipped), migration.Reason(c.Err)
		}
		db := svc.Credentials.Database
		if svc.Engine == migration.EngineRedis {
			db = "db " + strconv.Itoa(svc.Credentials.DBIndex)
		}
		t.AddRow(svc.Name, status, dash(svc.Container), dash(db), dash(svc.Credentials.User), reason)
	}
	return t
}
