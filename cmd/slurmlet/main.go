package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/slurmlet/pkg/client"
	"github.com/cuemby/slurmlet/pkg/config"
	"github.com/cuemby/slurmlet/pkg/log"
	"github.com/cuemby/slurmlet/pkg/metrics"
	"github.com/cuemby/slurmlet/pkg/resources"
	"github.com/cuemby/slurmlet/pkg/scheduler"
	"github.com/cuemby/slurmlet/pkg/store"
	"github.com/cuemby/slurmlet/pkg/supervisor"
	"github.com/cuemby/slurmlet/pkg/topology"
	"github.com/cuemby/slurmlet/pkg/types"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "slurmlet",
	Short:   "slurmlet - a single-node batch job scheduler",
	Long:    `slurmlet queues, admits, launches, and accounts for user-submitted CLI jobs on a single node, patterned after cluster workload managers.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("slurmlet version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("data-dir", "", "Data directory (overrides config file and built-in default)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(schedulerCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// loadConfig merges Defaults(), an optional --config file, and the
// --data-dir override, in that precedence order (flags win last).
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// openClient opens the store-backed client, exiting 2 when the store is
// unavailable.
func openClient(cmd *cobra.Command) *client.Client {
	cfg, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create data directory: %v\n", err)
		os.Exit(2)
	}
	c, err := client.New(cfg.StorePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: store unavailable: %v\n", err)
		os.Exit(2)
	}
	return c
}

var submitCmd = &cobra.Command{
	Use:   "submit --cpus N --mem SIZE [flags] -- COMMAND...",
	Short: "Submit a job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpus, _ := cmd.Flags().GetInt("cpus")
		memStr, _ := cmd.Flags().GetString("mem")
		priority, _ := cmd.Flags().GetInt("priority")
		isElastic, _ := cmd.Flags().GetBool("elastic")
		minCPUs, _ := cmd.Flags().GetInt("min-cpus")
		maxCPUs, _ := cmd.Flags().GetInt("max-cpus")

		memMB, err := config.ParseMemSize(memStr)
		if err != nil {
			os.Exit(exitUserError("invalid --mem: %v", err))
		}

		c := openClient(cmd)
		defer c.Close()

		host, _ := os.Hostname()
		id, err := c.Submit(client.SubmitRequest{
			Command:    strings.Join(args, " "),
			CPUs:       cpus,
			MemMB:      memMB,
			Priority:   priority,
			IsElastic:  isElastic,
			MinCPUs:    minCPUs,
			MaxCPUs:    maxCPUs,
			User:       os.Getenv("USER"),
			SubmitHost: host,
		})
		if err != nil {
			os.Exit(exitUserError("%v", err))
		}
		fmt.Printf("Submitted job %d\n", id)
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		status := types.JobStatus(strings.ToUpper(statusFlag))

		c := openClient(cmd)
		defer c.Close()

		jobs, err := c.Queue(status)
		if err != nil {
			os.Exit(exitUserError("%v", err))
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}
		fmt.Printf("%-6s %-10s %-6s %-8s %-4s %s\n", "ID", "STATUS", "CPUS", "MEM_MB", "PRI", "COMMAND")
		for _, j := range jobs {
			fmt.Printf("%-6d %-10s %-6d %-8d %-4d %s\n", j.ID, j.Status, j.AllocatedCPUs(), j.MemMB, j.Priority, truncate(j.Command, 40))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show full detail for a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := parseJobID(args[0])

		c := openClient(cmd)
		defer c.Close()

		j, err := c.Show(id)
		if err != nil {
			os.Exit(exitUserError("%v", err))
		}
		fmt.Printf("Job %d\n", j.ID)
		fmt.Printf("  Command:     %s\n", j.Command)
		fmt.Printf("  Status:      %s\n", j.Status)
		fmt.Printf("  CPUs:        %d", j.CPUs)
		if j.IsElastic {
			fmt.Printf(" (elastic %d-%d, current %d)", j.MinCPUs, j.MaxCPUs, j.CurrentCPUs)
		}
		fmt.Println()
		fmt.Printf("  Mem (MB):    %d\n", j.MemMB)
		fmt.Printf("  Priority:    %d\n", j.Priority)
		if j.Nodes != "" {
			fmt.Printf("  Nodes:       %s\n", j.Nodes)
		}
		fmt.Printf("  Submitted:   %s\n", formatEpoch(j.SubmitTime))
		if j.StartTime > 0 {
			fmt.Printf("  Started:     %s\n", formatEpoch(j.StartTime))
		}
		if j.EndTime > 0 {
			fmt.Printf("  Ended:       %s\n", formatEpoch(j.EndTime))
		}
		if j.Status.Terminal() {
			fmt.Printf("  Return code: %d\n", j.ReturnCode)
			if j.ExitSignal != 0 {
				fmt.Printf("  Signal:      %d\n", j.ExitSignal)
			}
		}
		if j.Comment != "" {
			fmt.Printf("  Comment:     %s\n", j.Comment)
		}
		if j.StdoutPath != "" {
			fmt.Printf("  Stdout:      %s\n", j.StdoutPath)
			fmt.Printf("  Stderr:      %s\n", j.StderrPath)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := parseJobID(args[0])

		c := openClient(cmd)
		defer c.Close()

		alreadyCancelled, err := c.Cancel(id)
		if err != nil {
			os.Exit(exitUserError("%v", err))
		}
		if alreadyCancelled {
			fmt.Printf("Warning: job %d is already cancelled\n", id)
		} else {
			fmt.Printf("Cancelled job %d\n", id)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := openClient(cmd)
		defer c.Close()

		s, err := c.Stats()
		if err != nil {
			os.Exit(exitUserError("%v", err))
		}
		fmt.Println("Job counts:")
		fmt.Printf("  Pending:   %d\n", s.Pending)
		fmt.Printf("  Running:   %d\n", s.Running)
		fmt.Printf("  Completed: %d\n", s.Completed)
		fmt.Printf("  Failed:    %d\n", s.Failed)
		fmt.Printf("  Cancelled: %d\n", s.Cancelled)
		if s.Running > 0 {
			fmt.Println("In use by running jobs:")
			fmt.Printf("  CPUs:      %d\n", s.RunningCPUs)
			fmt.Printf("  Mem (MB):  %d\n", s.RunningMemMB)
		}
		if s.Completed > 0 {
			fmt.Println("Completed jobs:")
			fmt.Printf("  Avg wait:     %.1fs\n", s.AvgWaitSec)
			fmt.Printf("  Avg runtime:  %.1fs\n", s.AvgRuntimeSec)
			fmt.Printf("  Total CPU:    %.1fs\n", s.TotalCPUTime)
		}
		return nil
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the slurmlet scheduler daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		applySchedulerFlagOverrides(cmd, cfg)

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("cannot create data directory: %w", err)
		}
		if err := os.MkdirAll(cfg.LogPath(), 0755); err != nil {
			return fmt.Errorf("cannot create log directory: %w", err)
		}

		logger := log.WithComponent("main")

		st, err := store.Open(cfg.StorePath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: store unavailable: %v\n", err)
			os.Exit(2)
		}
		defer st.Close()

		fixed, err := st.ReconcileOrphans()
		if err != nil {
			return fmt.Errorf("reconcile orphans: %w", err)
		}
		if fixed > 0 {
			logger.Warn().Int("count", fixed).Msg("reconciled orphaned running jobs from a prior crash")
		}

		tree, err := loadTopology(cfg)
		if err != nil {
			return fmt.Errorf("topology config: %w", err)
		}

		model := resources.NewModel(cfg.TotalCPUs, cfg.TotalMemMB)
		sup := supervisor.New(cfg.LogPath())

		sched := scheduler.New(scheduler.Config{
			Store:          st,
			Model:          model,
			Supervisor:     sup,
			Tree:           tree,
			ElasticEnabled: cfg.ElasticEnabled,
			ElasticThresh:  cfg.ElasticThreshold,
			PollInterval:   time.Duration(cfg.PollInterval * float64(time.Second)),
		})
		sched.Start()
		logger.Info().Int("total_cpus", cfg.TotalCPUs).Int64("total_mem_mb", cfg.TotalMemMB).Msg("scheduler started")

		collector := metrics.NewCollector(model, st)
		collector.Start()

		metrics.SetHealthy(true, "")

		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.HandleFunc("/healthz", metrics.HealthHandler())
			go func() {
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Error().Err(err).Msg("metrics server error")
				}
			}()
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics endpoint listening")
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("shutting down")
		collector.Stop()
		sched.Stop()
		return nil
	},
}

// loadTopology resolves the topology tree: a malformed explicit
// --topology-config is fatal, an absent default file falls back to the
// synthesized tree, and a file whose TopologyPlugin line turns topology
// off yields no tree at all.
func loadTopology(cfg *config.Config) (*topology.Tree, error) {
	path := cfg.TopologyConfig
	explicit := path != ""
	if !explicit {
		path = cfg.DefaultTopologyConfig()
	}

	tree, err := topology.LoadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if explicit {
				return nil, err
			}
			return topology.Default(cfg.TotalCPUs), nil
		}
		return nil, err
	}
	return tree, nil
}

func applySchedulerFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("total-cpus") {
		cfg.TotalCPUs, _ = cmd.Flags().GetInt("total-cpus")
	}
	if cmd.Flags().Changed("total-mem") {
		memStr, _ := cmd.Flags().GetString("total-mem")
		if mb, err := config.ParseMemSize(memStr); err == nil {
			cfg.TotalMemMB = mb
		}
	}
	if cmd.Flags().Changed("poll-interval") {
		cfg.PollInterval, _ = cmd.Flags().GetFloat64("poll-interval")
	}
	if cmd.Flags().Changed("elastic-threshold") {
		cfg.ElasticThreshold, _ = cmd.Flags().GetFloat64("elastic-threshold")
	}
	if cmd.Flags().Changed("disable-elastic") {
		disabled, _ := cmd.Flags().GetBool("disable-elastic")
		cfg.ElasticEnabled = !disabled
	}
	if cmd.Flags().Changed("topology-config") {
		cfg.TopologyConfig, _ = cmd.Flags().GetString("topology-config")
	}
	if cmd.Flags().Changed("metrics-addr") {
		cfg.MetricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	}
}

func init() {
	submitCmd.Flags().Int("cpus", 1, "Number of CPUs requested")
	submitCmd.Flags().String("mem", "", "Memory requested, e.g. 512M, 2G (required)")
	submitCmd.Flags().Int("priority", 0, "Scheduling priority, higher runs first")
	submitCmd.Flags().Bool("elastic", false, "Allow the scheduler to grow/shrink this job's CPU allocation")
	submitCmd.Flags().Int("min-cpus", 0, "Minimum CPUs for an elastic job")
	submitCmd.Flags().Int("max-cpus", 0, "Maximum CPUs for an elastic job")
	submitCmd.MarkFlagRequired("mem")

	queueCmd.Flags().String("status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, CANCELLED)")

	schedulerCmd.Flags().Int("total-cpus", 0, "Total CPUs available to the scheduler (default: config/built-in default)")
	schedulerCmd.Flags().String("total-mem", "", "Total memory available, e.g. 8G (default: config/built-in default)")
	schedulerCmd.Flags().Float64("poll-interval", 0, "Scheduling tick interval in seconds")
	schedulerCmd.Flags().Float64("elastic-threshold", 0, "Utilization percent at which scale-up stops")
	schedulerCmd.Flags().Bool("disable-elastic", false, "Disable the elastic controller entirely")
	schedulerCmd.Flags().String("topology-config", "", "Path to a topology config file (default: <data-dir>/topology.conf, synthesized if absent)")
	schedulerCmd.Flags().String("metrics-addr", "", "Address to serve /metrics and /healthz on, e.g. 127.0.0.1:9090 (disabled if empty)")
}

func exitUserError(format string, a ...interface{}) int {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", a...)
	return 1
}

func parseJobID(s string) int64 {
	var id int64
	if _, err := fmt.Sscanf(s, "%d", &id); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid job id %q\n", s)
		os.Exit(1)
	}
	return id
}

func formatEpoch(epoch float64) string {
	return time.Unix(int64(epoch), 0).Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
