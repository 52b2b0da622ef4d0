package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikoAlt/scrapqt/internal/clock/system"
	"github.com/MikoAlt/scrapqt/internal/orchestrator"
)

func newUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Start the scraper and sentiment services",
		Long: `Launches the scraper and sentiment services as detached background
processes, waits for each to report healthy, and records their identities
under the run directory. If any service fails to come up the ones already
started are stopped again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			specs := serviceSpecs()
			if err := mgr.StartAll(cmd.Context(), specs); err != nil {
				return fmt.Errorf("start services: %w", err)
			}
			for _, st := range mgr.Status(cmd.Context(), specs) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: running pid=%d addr=%s\n", st.Service, st.PID, st.Addr)
			}
			return nil
		},
	}
}

func newDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Stop the scraper and sentiment services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			if err := mgr.StopAll(cmd.Context(), serviceSpecs()); err != nil {
				return fmt.Errorf("stop services: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all services stopped")
			return nil
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the state of the managed services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := newServiceManager()
			if err != nil {
				return err
			}
			for _, st := range mgr.Status(cmd.Context(), serviceSpecs()) {
				switch {
				case st.Running && st.Healthy:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: healthy pid=%d addr=%s since=%s\n",
						st.Service, st.PID, st.Addr, st.StartedAt.Format("15:04:05"))
				case st.Running:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: running pid=%d addr=%s (health check failing)\n",
						st.Service, st.PID, st.Addr)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "%s: stopped\n", st.Service)
				}
			}
			return nil
		},
	}
}

func newServiceManager() (*orchestrator.Manager, error) {
	mgr, err := orchestrator.NewManager(orchestrator.Config{
		RunDir:          cfg.Runtime.RunDir,
		StartupDeadline: cfg.StartupDeadline(),
		StopGrace:       cfg.StopGrace(),
	}, system.New(), logger.Named("orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return mgr, nil
}

// serviceSpecs lists the managed services in dependency order. The scraper
// owns the database file, so it starts first and stops last.
func serviceSpecs() []orchestrator.ServiceSpec {
	args := func(sub string) []string {
		out := []string{sub}
		if cfgFile != "" {
			out = append(out, "--config", cfgFile)
		}
		return out
	}
	return []orchestrator.ServiceSpec{
		{Name: "scraper", Addr: cfg.ScraperAddr(), Args: args("scraper")},
		{Name: "sentiment", Addr: cfg.SentimentAddr(), Args: args("sentiment")},
	}
}
