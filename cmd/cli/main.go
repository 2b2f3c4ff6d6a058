// Command kc is the KeyCache command-line client. It keeps an encrypted
// vault profile on disk and optionally synchronizes it with a sync server.
//
// Every invocation is a fresh process, so commands that need the master key
// ask for the passphrase and unlock the vault first.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	cc "github.com/and161185/keycache/internal/crypto/clientcrypto"
	"github.com/and161185/keycache/internal/profile"
	"github.com/and161185/keycache/internal/syncclient"
	"github.com/and161185/keycache/internal/vault"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

var flagProfile = &cli.StringFlag{
	Name:    "profile",
	Value:   profile.DefaultPath(),
	Usage:   "path to the vault profile",
	EnvVars: []string{"KEYCACHE_PROFILE"},
}

var flagVerbose = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "log engine activity to stderr",
}

var flagTimeout = &cli.DurationFlag{
	Name:  "timeout",
	Value: syncclient.DefaultTimeout,
	Usage: "sync server request timeout",
}

var flagLoginIterations = &cli.IntFlag{
	Name:   "login-iterations",
	Value:  cc.DefaultLoginIterations,
	Usage:  "PBKDF2 iterations for the login secret",
	Hidden: true,
}

func newApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:      "kc",
		Usage:     "KeyCache password vault",
		Version:   fmt.Sprintf("%s (%s)", version, buildDate),
		Reader:    in,
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			flagProfile,
			flagVerbose,
			flagTimeout,
			flagLoginIterations,
		},
		Commands: []*cli.Command{
			cmdRegister(),
			cmdLogin(),
			cmdLogout(),
			cmdAdd(),
			cmdEdit(),
			cmdRemove(),
			cmdList(),
			cmdShow(),
			cmdPull(),
			cmdPush(),
			cmdPasswd(),
			cmdSettings(),
			cmdExport(),
			cmdBackup(),
			cmdWipe(),
		},
	}
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// openEngine loads the profile named by the global flags.
func openEngine(c *cli.Context) (*vault.Engine, func(), error) {
	log := newLogger(c.Bool(flagVerbose.Name))
	eng, err := vault.Open(
		profile.NewFileStore(c.String(flagProfile.Name)),
		log,
		vault.WithTimeout(c.Duration(flagTimeout.Name)),
		vault.WithLoginIterations(c.Int(flagLoginIterations.Name)),
		vault.WithClock(time.Now),
	)
	if err != nil {
		return nil, nil, err
	}
	return eng, func() { _ = log.Sync() }, nil
}

func main() {
	app := newApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
