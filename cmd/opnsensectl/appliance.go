package main

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"opnsensectl/internal/fault"
	"opnsensectl/internal/opnsense"
	"opnsensectl/internal/poll"
)

// DefaultURL is the factory address of an OPNsense LAN interface.
const DefaultURL = "https://192.168.1.1"

func newCheckCmd(a *app) *cobra.Command {
	var url string
	var maxWait time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Wait until the web interface answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = a.cfg.Connection.URL
			}
			if url == "" {
				url = DefaultURL
			}
			if maxWait <= 0 {
				maxWait = a.cfg.Poll.MaxWait
			}

			p := poll.New(poll.WithInterval(a.cfg.Poll.Interval), poll.WithLogger(a.log))
			if !p.WaitUntilAvailable(cmd.Context(), url, maxWait) {
				return fault.Connectivity(
					errors.Newf("OPNsense did not become available within %s", maxWait),
					"check that the appliance is running and reachable at "+url)
			}
			fmt.Fprintln(a.stdout, "OPNsense is available!")
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "URL to probe (default $"+opnsense.EnvURL+" or "+DefaultURL+")")
	cmd.Flags().DurationVar(&maxWait, "max-wait", 0, "How long to wait (default from config, 180s)")
	return cmd
}

func newAPICmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Verify API access and print the system information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return errors.WithHint(err, "make sure API access is enabled and the key pair is valid")
			}
			fmt.Fprintln(a.stdout, "API connection successful!")
			fmt.Fprintf(a.stdout, "System information: %s\n", s.Info().Pretty())
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "status <topic>",
		Short:     "Print a read-only status report",
		Long:      fmt.Sprintf("Print a read-only status report. Topics: %v", opnsense.StatusTopics()),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: opnsense.StatusTopics(),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, res.Pretty())
			return nil
		},
	}
}

func newPingCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "ping <host>",
		Short: "Ping a host from the appliance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			res, err := s.Ping(cmd.Context(), args[0], count)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, res.Pretty())
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 3, "Number of echo requests")
	return cmd
}
