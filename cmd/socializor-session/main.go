// socializor-session drives a session client against a socializor-server.
// Commands run in the order given, so a memory backed store can log in and
// use the credential within one invocation:
//
//	socializor-session --email una@example.com login whoami refresh
//
// With the redis store the credential outlives the process and is shared
// with every other client using the same namespace.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/pflag"

	"socializor-server-go/internal/domain/auth/store"
	"socializor-server-go/internal/domain/eventbus"
	"socializor-server-go/internal/domain/session"
	"socializor-server-go/internal/platform/config"
	"socializor-server-go/internal/platform/logging"
	"socializor-server-go/internal/transport/http/apiclient"
)

// EnvPassword is read when --password is not given.
const EnvPassword = "SOCIALIZOR_PASSWORD"

var errUsage = errors.New("usage error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	baseURL    string
	email      string
	password   string
	driver     string
	namespace  string
	insecure   bool
	strict     bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("socializor-session", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file (default: $SOCIALIZOR_CONFIG or .config.yaml)")
	flagSet.StringVar(&opts.baseURL, "base-url", "", "API root, overrides session.base_url")
	flagSet.StringVarP(&opts.email, "email", "e", "", "e-mail address used by login")
	flagSet.StringVarP(&opts.password, "password", "p", "", "password used by login (default: $"+EnvPassword+")")
	flagSet.StringVar(&opts.driver, "store", "", "credential store driver, memory or redis")
	flagSet.StringVar(&opts.namespace, "namespace", "", "credential store namespace")
	flagSet.BoolVarP(&opts.insecure, "insecure", "k", false, "skip TLS certificate verification")
	flagSet.BoolVar(&opts.strict, "strict", false, "report refresh failures instead of logging them")
	flagSet.Usage = func() { printHelp(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	commands := flagSet.Args()
	if len(commands) == 0 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("%w: no command given", errUsage)
	}
	for _, name := range commands {
		if _, ok := commandTable[name]; !ok {
			return fmt.Errorf("%w: unknown command %q", errUsage, name)
		}
	}
	if opts.password == "" {
		opts.password = os.Getenv(EnvPassword)
	}

	result, err := config.NewLoader().WithPath(opts.configPath).Load()
	if err != nil {
		return err
	}
	cfg := result.Config
	applyOverrides(cfg, opts)

	logger, err := logging.New(logging.Config{
		Level:    cfg.Log.Level,
		Dir:      cfg.Log.Dir,
		Filename: "session.log",
		Console:  stderr,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	bus := eventbus.New(0, logger.Tagged("EventBus"))
	defer bus.Close()

	credentials, err := store.New(storeConfig(cfg.Session), store.Dependencies{
		Bus:    bus,
		Logger: logger.Tagged("CredentialStore"),
	})
	if err != nil {
		return err
	}
	defer credentials.Close()

	api, err := apiclient.New(apiclient.Options{
		BaseURL:            cfg.Session.BaseURL,
		Timeout:            cfg.Session.RequestTimeout,
		InsecureSkipVerify: cfg.Session.InsecureSkipVerify,
		Logger:             logger.Tagged("APIClient"),
	})
	if err != nil {
		return err
	}

	client, err := session.New(ctx, session.Options{
		Store:          credentials,
		API:            api,
		Logger:         logger.Tagged("Session"),
		RefreshHorizon: cfg.Session.RefreshHorizon,
		StrictRefresh:  !cfg.Session.SuppressRefreshFailure,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	cmd := &commandContext{client: client, opts: opts, strict: !cfg.Session.SuppressRefreshFailure, out: stdout}
	for _, name := range commands {
		if err := commandTable[name].run(ctx, cmd); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func applyOverrides(cfg *config.Config, opts options) {
	if opts.baseURL != "" {
		cfg.Session.BaseURL = opts.baseURL
	}
	if opts.driver != "" {
		cfg.Session.Store.Driver = opts.driver
	}
	if opts.namespace != "" {
		cfg.Session.Store.Namespace = opts.namespace
	}
	if opts.insecure {
		cfg.Session.InsecureSkipVerify = true
	}
	if opts.strict {
		cfg.Session.SuppressRefreshFailure = false
	}
}

func storeConfig(cfg config.SessionConfig) store.Config {
	sc := cfg.Store
	return store.Config{
		Driver:    sc.Driver,
		Namespace: sc.Namespace,
		Redis: &store.RedisConfig{
			Addr:     sc.Redis.Addr,
			Username: sc.Redis.Username,
			Password: sc.Redis.Password,
			DB:       sc.Redis.DB,
			Prefix:   sc.Redis.Prefix,
		},
		Memory: &store.MemoryConfig{CapacityBytes: sc.Memory.CapacityBytes},
	}
}

type commandContext struct {
	client *session.Client
	opts   options
	strict bool
	out    io.Writer
}

type command struct {
	summary string
	run     func(context.Context, *commandContext) error
}

var commandTable = map[string]command{
	"login":   {summary: "exchange --email and --password for a credential", run: runLogin},
	"refresh": {summary: "refresh the credential if it expires within the horizon", run: runRefresh},
	"logout":  {summary: "forget the stored credential", run: runLogout},
	"whoami":  {summary: "print the profile of the logged in user", run: runWhoami},
	"status":  {summary: "print whether a credential is held and when it expires", run: runStatus},
}

func runLogin(ctx context.Context, c *commandContext) error {
	if c.opts.email == "" || c.opts.password == "" {
		return fmt.Errorf("%w: login needs --email and a password", errUsage)
	}
	cred, err := c.client.Login(ctx, c.opts.email, c.opts.password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "logged in, credential expires %s\n", cred.Expiry().Format(time.RFC3339))
	return nil
}

func runRefresh(ctx context.Context, c *commandContext) error {
	refreshed, err := c.client.RefreshConditionally(ctx, !c.strict)
	if err != nil {
		return err
	}
	if !refreshed {
		fmt.Fprintln(c.out, "credential not refreshed")
		return nil
	}
	cred, _ := c.client.CurrentCredential()
	fmt.Fprintf(c.out, "credential refreshed, expires %s\n", cred.Expiry().Format(time.RFC3339))
	return nil
}

func runLogout(ctx context.Context, c *commandContext) error {
	if err := c.client.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "logged out")
	return nil
}

func runWhoami(_ context.Context, c *commandContext) error {
	identity := c.client.Identity()
	if identity == nil {
		return session.ErrNoToken
	}
	data, err := sonic.ConfigStd.MarshalIndent(identity.Profile, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}

func runStatus(_ context.Context, c *commandContext) error {
	cred, ok := c.client.CurrentCredential()
	if !ok {
		fmt.Fprintln(c.out, "not logged in")
		return nil
	}
	fmt.Fprintf(c.out, "logged in, credential expires %s\n", cred.Expiry().Format(time.RFC3339))
	return nil
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `socializor-session logs in to a socializor-server and manages the stored credential.

Usage:
  socializor-session [flags] command...

Commands:
`)
	for _, name := range []string{"login", "refresh", "logout", "whoami", "status"} {
		fmt.Fprintf(w, "  %-8s %s\n", name, commandTable[name].summary)
	}
	fmt.Fprintf(w, "\nFlags:\n")
	flagSet.SetOutput(w)
	flagSet.PrintDefaults()
}
