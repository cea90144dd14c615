package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/signal"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/engine/sqlbridge"
	"github.com/leftmike/kumo/repl"
	"github.com/leftmike/kumo/server"
)

var (
	startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the kumo gateway server",
		RunE:  startRun,
	}

	driver     = "postgres"
	dsn        = ""
	address    = "localhost:10800"
	maxConns   = 0
	maxCursors = 0
	serial     = false

	pgServer  = false
	pgAddress = "localhost:5432"

	sshServer      = false
	sshPort        = "localhost:8241"
	authorizedKeys = ""
	hostKeys       = []string{"id_rsa"}

	sqlArgs = []string{}
)

func init() {
	fs := startCmd.Flags()

	fs.StringVar(&driver, "driver", driver, "upstream `driver`: postgres or pgx")
	cfgVars["driver"] = fs.Lookup("driver")

	fs.StringVar(&dsn, "dsn", dsn, "upstream `dsn`, passed to the driver")
	cfgVars["dsn"] = fs.Lookup("dsn")

	fs.StringVar(&address, "address", address,
		"`address` used to serve the native protocol")
	cfgVars["address"] = fs.Lookup("address")

	fs.IntVar(&maxConns, "max-conns", maxConns,
		"upstream connection limit; 0 for no limit")
	cfgVars["max-conns"] = fs.Lookup("max-conns")

	fs.IntVar(&maxCursors, "max-cursors", maxCursors,
		"open cursor limit per session; 0 for no limit")
	cfgVars["max-cursors"] = fs.Lookup("max-cursors")

	fs.BoolVar(&serial, "serial", serial, "execute requests one at a time per session")
	cfgVars["serial"] = fs.Lookup("serial")

	fs.BoolVar(&pgServer, "pg", pgServer,
		"`flag` to control serving the PostgreSQL wire protocol")
	cfgVars["pg"] = fs.Lookup("pg")

	fs.StringVar(&pgAddress, "pg-address", pgAddress,
		"`address` used to serve the PostgreSQL wire protocol")
	cfgVars["pg-address"] = fs.Lookup("pg-address")

	fs.BoolVar(&sshServer, "ssh", sshServer, "`flag` to control serving SSH")
	cfgVars["ssh"] = fs.Lookup("ssh")

	fs.StringVar(&sshPort, "ssh-port", sshPort, "`port` used to serve SSH")
	cfgVars["ssh-port"] = fs.Lookup("ssh-port")

	fs.StringVar(&authorizedKeys, "ssh-authorized-keys", authorizedKeys,
		"`file` containing authorized ssh keys")
	cfgVars["ssh-authorized-keys"] = fs.Lookup("ssh-authorized-keys")

	fs.StringSliceVar(&hostKeys, "ssh-host-key", hostKeys,
		"`file` containing a ssh host key; multiple allowed")
	cfgVars["ssh-host-keys"] = fs.Lookup("ssh-host-key")

	fs.StringSliceVar(&sqlArgs, "sql", sqlArgs,
		"sql `statements` to execute at startup; multiple allowed")

	cfgVars["accounts"] = nil

	kumoCmd.AddCommand(startCmd)
}

func newServer() (*server.Server, *sqlbridge.Bridge, error) {
	switch driver {
	case "postgres", "pgx":
	default:
		return nil, nil, fmt.Errorf("kumo: got %s for driver; want postgres or pgx",
			driver)
	}

	br, err := sqlbridge.NewEngine(driver, dsn,
		sqlbridge.Options{MaxConns: maxConns, Serial: serial})
	if err != nil {
		return nil, nil, fmt.Errorf("kumo: %s", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = br.Ping(ctx)
	if err != nil {
		br.Close()
		return nil, nil, fmt.Errorf("kumo: ping upstream: %s", err)
	}

	svr := &server.Server{
		Engine:     br,
		Name:       version(),
		MaxCursors: maxCursors,
	}
	return svr, br, nil
}

// runStartupSQL runs the --sql statements and the sql files given as
// arguments against their own sessions before any listener starts.
func runStartupSQL(br *sqlbridge.Bridge, args []string) error {
	ctx := context.Background()

	for _, arg := range sqlArgs {
		err := runSession(ctx, br, strings.NewReader(arg), os.Stdout)
		if err != nil {
			return err
		}
	}
	for _, fn := range args {
		f, err := os.Open(fn)
		if err != nil {
			return fmt.Errorf("kumo: sql file: %s", err)
		}
		err = runSession(ctx, br, bufio.NewReader(f), os.Stderr)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func runSession(ctx context.Context, br *sqlbridge.Bridge, rr io.RuneReader,
	w io.Writer) error {

	ses, err := br.NewSession(ctx, engine.NewClientContext())
	if err != nil {
		return fmt.Errorf("kumo: %s", err)
	}
	defer ses.Close()

	repl.ReplSQL(ctx, repl.SessionRunner(ses), rr, w)
	return nil
}

func userAccounts() map[string]string {
	val := cfg["accounts"]
	if val == nil {
		return nil
	}
	slice, ok := val.([]interface{})
	if !ok {
		return nil
	}

	userPasswords := map[string]string{}
	for _, obj := range slice {
		account, ok := obj.(map[string]interface{})
		if !ok {
			return nil
		}
		user, ok := account["user"].(string)
		if !ok {
			return nil
		}
		password, ok := account["password"].(string)
		if !ok {
			return nil
		}
		userPasswords[user] = password
	}

	return userPasswords
}

func startRun(cmd *cobra.Command, args []string) error {
	svr, br, err := newServer()
	if err != nil {
		return err
	}
	defer br.Close()

	err = runStartupSQL(br, args)
	if err != nil {
		return err
	}

	go func() {
		fmt.Fprintf(os.Stderr, "kumo: %s\n",
			svr.ListenAndServe(server.Config{Address: address}))
	}()

	if pgServer {
		pgCfg := server.PgCompatConfig{
			Address: pgAddress,
		}

		go func() {
			fmt.Fprintf(os.Stderr, "kumo: %s\n", svr.ListenAndServePgCompat(pgCfg))
		}()
	}

	if sshServer {
		userPasswords := userAccounts()

		sshCfg := server.SSHConfig{
			Address: sshPort,
		}

		for _, hostKey := range hostKeys {
			keyBytes, err := ioutil.ReadFile(hostKey)
			if err != nil {
				return fmt.Errorf("kumo: host keys: %s", err)
			}
			sshCfg.HostKeysBytes = append(sshCfg.HostKeysBytes, keyBytes)
		}

		if authorizedKeys != "" {
			sshCfg.AuthorizedBytes, err = ioutil.ReadFile(authorizedKeys)
			if err != nil {
				return fmt.Errorf("kumo: authorized keys: %s", err)
			}
		}

		if len(userPasswords) > 0 {
			sshCfg.CheckPassword = func(user, password string) error {
				pw, ok := userPasswords[user]
				if !ok {
					return fmt.Errorf("user %s not found", user)
				}
				if password != pw {
					return fmt.Errorf("bad password for user %s", user)
				}
				return nil
			}
		}

		go func() {
			fmt.Fprintf(os.Stderr, "kumo: %s\n", svr.ListenAndServeSSH(sshCfg))
		}()
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)

	fmt.Println("kumo: waiting for ^C to shutdown")
	<-ch
	go func() {
		<-ch
		os.Exit(0)
	}()

	fmt.Println("kumo: shutting down")
	svr.Shutdown(context.Background())

	return nil
}
