package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kina/internal/ipc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type options struct {
	socket  string
	timeout time.Duration
	json    bool
}

func newRootCmd() *cobra.Command {
	opt := &options{}

	root := &cobra.Command{
		Use:          "kina-ctl",
		Short:        "Control a running kina-daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opt.socket, "socket", "s", ipc.DefaultSocket, "Control socket path")
	root.PersistentFlags().DurationVar(&opt.timeout, "timeout", 2*time.Minute, "How long to wait for the daemon")
	root.PersistentFlags().BoolVar(&opt.json, "json", false, "Print the raw reply")

	root.AddCommand(
		simpleCmd(opt, ipc.CmdTrigger, "Start listening, as if the wake word was heard"),
		simpleCmd(opt, ipc.CmdReset, "Clear the voice conversation history"),
		simpleCmd(opt, ipc.CmdRebuild, "Rescan installed applications"),
		simpleCmd(opt, ipc.CmdStatus, "Show the session state"),
		newAskCmd(opt),
	)
	return root
}

func simpleCmd(opt *options, name, short string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return send(cmd, opt, ipc.Request{Cmd: name})
		},
	}
}

func newAskCmd(opt *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Send a typed request through the decision engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, opt, ipc.Request{Cmd: ipc.CmdAsk, Text: strings.Join(args, " ")})
		},
	}
}

func send(cmd *cobra.Command, opt *options, req ipc.Request) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opt.timeout)
	defer cancel()

	rep, err := ipc.Send(ctx, opt.socket, req)
	if err != nil {
		return fmt.Errorf("kina-daemon not running: %w", err)
	}

	out := cmd.OutOrStdout()
	if opt.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out, rep.Message)
		keys := make([]string, 0, len(rep.Data))
		for k := range rep.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(out, "  %s: %v\n", k, rep.Data[k])
		}
	}

	if !rep.OK {
		return fmt.Errorf("%s failed", req.Cmd)
	}
	return nil
}
