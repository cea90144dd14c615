package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leftmike/kumo/client"
	"github.com/leftmike/kumo/flags"
	"github.com/leftmike/kumo/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [sql file ...]",
		Short: "Run an interactive console against a kumo server",
		RunE:  replRun,
	}

	replAddress  = "localhost:10800"
	replSchema   = ""
	replPageSize = 0
	replSQL      = []string{}
)

func init() {
	fs := replCmd.Flags()

	fs.StringVar(&replAddress, "address", replAddress, "`address` of the kumo server")
	fs.StringVar(&replSchema, "schema", replSchema, "default `schema` of the session")
	fs.IntVar(&replPageSize, "page-size", replPageSize,
		"rows fetched per round trip; 0 for the client default")
	fs.StringSliceVar(&replSQL, "sql", replSQL,
		"sql `statements` to execute; multiple allowed")

	kumoCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cn, err := client.Connect(ctx,
		client.Config{
			Address:             replAddress,
			Schema:              replSchema,
			DistributedJoins:    flgs.GetFlag(flags.DistributedJoins),
			EnforceJoinOrder:    flgs.GetFlag(flags.EnforceJoinOrder),
			Collocated:          flgs.GetFlag(flags.Collocated),
			ReplicatedOnly:      flgs.GetFlag(flags.ReplicatedOnly),
			Lazy:                flgs.GetFlag(flags.Lazy),
			SkipReducerOnUpdate: flgs.GetFlag(flags.SkipReducerOnUpdate),
			AutoCloseCursors:    flgs.GetFlag(flags.AutoCloseCursors),
			PageSize:            replPageSize,
		})
	if err != nil {
		return fmt.Errorf("kumo: %s", err)
	}
	defer cn.Close()

	fmt.Printf("kumo: connected to %s at %s\n", cn.Server(), replAddress)

	for _, arg := range replSQL {
		repl.ReplSQL(ctx, cn, strings.NewReader(arg), os.Stdout)
	}
	for _, fn := range args {
		f, err := os.Open(fn)
		if err != nil {
			return fmt.Errorf("kumo: sql file: %s", err)
		}
		repl.ReplSQL(ctx, cn, bufio.NewReader(f), os.Stdout)
		f.Close()
	}

	if len(args) == 0 && len(replSQL) == 0 {
		repl.Interact(ctx, cn)
	}
	return nil
}
