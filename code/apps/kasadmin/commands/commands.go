// commands holds the cobra commands of kasadmin.
package commands

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/goblimey/go-tools/dailylogger"

	"github.com/goblimey/go-kas-tracker/code/pkg/config"
	"github.com/goblimey/go-kas-tracker/code/pkg/credential"
	"github.com/goblimey/go-kas-tracker/code/pkg/repository"
	"github.com/goblimey/go-kas-tracker/code/pkg/store"
)

// DefaultConfigFile is used when --config is not given.
const DefaultConfigFile = "./config.json"

// masked replaces password digests in a dump.
const masked = "****"

// App holds what the commands share.  The store is opened by the first
// command that needs it.
type App struct {
	In         io.Reader
	Out        io.Writer
	ConfigFile string

	conf       *config.Config
	repo       *repository.Repository
	closeStore func()
	reader     *bufio.Reader
}

// NewRoot creates the kasadmin command tree.  Passwords are read from in,
// without echo if in is a terminal.
func NewRoot(in io.Reader, out io.Writer) *cobra.Command {
	app := &App{In: in, Out: out, reader: bufio.NewReader(in)}

	root := &cobra.Command{
		Use:           "kasadmin",
		Short:         "Administer the kas tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.Close()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&app.ConfigFile, "config", DefaultConfigFile, "the config file")

	root.AddCommand(
		app.initCommand(),
		app.hashCommand(),
		app.addUserCommand(),
		app.setRoleCommand(),
		app.dumpCommand(),
	)

	return root
}

// Close closes the store, if it was opened.
func (app *App) Close() {
	if app.closeStore != nil {
		app.closeStore()
		app.closeStore = nil
	}
}

func (app *App) initCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the tables with their column headings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app.repository()
			if err != nil {
				return err
			}
			return app.createTables(cmd.Context(), repo, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace tables that already exist")
	return cmd
}

func (app *App) createTables(ctx context.Context, repo *repository.Repository, force bool) error {
	headers := repo.Headers()

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !force {
			_, readError := repo.Store.ReadTable(ctx, name)
			if readError == nil {
				fmt.Fprintf(app.Out, "%s exists - skipped\n", name)
				continue
			}
		}

		createError := repo.Store.CreateTable(ctx, name, headers[name])
		if createError != nil {
			return fmt.Errorf("%s: %w", name, createError)
		}
		fmt.Fprintf(app.Out, "%s created\n", name)
	}

	return nil
}

func (app *App) hashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print the digest of a password, for pasting into the auth table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := app.config()
			if err != nil {
				return err
			}

			password, err := app.readPassword("Password: ")
			if err != nil {
				return err
			}

			digest, err := hasher(conf).Hash(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, digest)
			return nil
		},
	}
}

func (app *App) addUserCommand() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add-user <username>",
		Short: "Create a login",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := strings.TrimSpace(args[0])
			if len(username) == 0 {
				return errors.New("username is empty")
			}

			repo, err := app.repository()
			if err != nil {
				return err
			}

			password, err := app.readPassword("Password: ")
			if err != nil {
				return err
			}
			confirmation, err := app.readPassword("Again: ")
			if err != nil {
				return err
			}
			if password != confirmation {
				return errors.New("passwords don't match")
			}
			if len(password) == 0 {
				return errors.New("password is empty")
			}

			digest, err := hasher(app.conf).Hash(password)
			if err != nil {
				return err
			}

			createError := repo.CreateCredential(cmd.Context(), username, digest, role)
			if createError != nil {
				return fmt.Errorf("%s: %w", username, createError)
			}
			repo.Logger.Info("kasadmin: user created", "username", username, "role", role)
			fmt.Fprintf(app.Out, "%s created with role %s\n", username, role)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", repository.DefaultRole, "the role")
	return cmd
}

func (app *App) setRoleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <username> <role>",
		Short: "Change the role of a login",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app.repository()
			if err != nil {
				return err
			}

			username, role := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
			updateError := repo.UpdateRole(cmd.Context(), username, role)
			if updateError != nil {
				return fmt.Errorf("%s: %w", username, updateError)
			}
			repo.Logger.Info("kasadmin: role changed", "username", username, "role", role)
			fmt.Fprintf(app.Out, "%s now has role %s\n", username, role)
			return nil
		},
	}
}

func (app *App) dumpCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "dump <member|draft|auth|news>",
		Short:     "Print a table as JSON, one record per line",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"member", "draft", "auth", "news"},
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := app.repository()
			if err != nil {
				return err
			}
			return app.dump(cmd.Context(), repo, args[0])
		},
	}
}

func (app *App) dump(ctx context.Context, repo *repository.Repository, which string) error {
	var name string
	switch which {
	case "member":
		name = repo.Tables.Member
	case "draft":
		name = repo.Tables.Draft
	case "auth":
		name = repo.Tables.Auth
	case "news":
		name = repo.Tables.News
	default:
		return fmt.Errorf("unknown table %q", which)
	}

	records, err := repo.Store.ReadTable(ctx, name)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(app.Out)
	for _, record := range records {
		if which == "auth" {
			record = record.Clone()
			if _, ok := record[repo.Columns.AuthPassword]; ok {
				record[repo.Columns.AuthPassword] = masked
			}
		}
		if err := encoder.Encode(record); err != nil {
			return err
		}
	}

	return nil
}

// config reads the config file once.
func (app *App) config() (*config.Config, error) {
	if app.conf != nil {
		return app.conf, nil
	}

	conf, err := config.GetConfig(app.ConfigFile)
	if err != nil {
		return nil, err
	}
	app.conf = conf
	return conf, nil
}

// repository opens the store once and returns a repository over it.
func (app *App) repository() (*repository.Repository, error) {
	if app.repo != nil {
		return app.repo, nil
	}

	conf, err := app.config()
	if err != nil {
		return nil, err
	}

	logger := getDailyLogger(conf.LogDir, conf.LogLeader+"admin")
	tableStore, closeStore, err := store.Open(conf, logger)
	if err != nil {
		return nil, err
	}
	app.closeStore = closeStore

	tables := repository.Tables{
		Member: conf.MemberTable,
		Draft:  conf.DraftTable,
		Auth:   conf.AuthTable,
		News:   conf.NewsTable,
	}
	app.repo = repository.New(tableStore, tables, repository.DefaultColumns(), logger)
	return app.repo, nil
}

// readPassword prompts for a password.  On a terminal it's read without
// echo, otherwise it's the next line of input.
func (app *App) readPassword(prompt string) (string, error) {
	fmt.Fprint(app.Out, prompt)

	if f, ok := app.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(app.Out)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := app.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return "", fmt.Errorf("cannot read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func hasher(conf *config.Config) *credential.Hasher {
	return credential.NewHasher(conf.PBKDF2Iterations, conf.PBKDF2KeyLength, conf.SaltLength)
}

// getDailyLogger gives a logger that writes to the daily log, so that
// admin changes are recorded alongside the server's activity.
func getDailyLogger(logDir, leader string) *slog.Logger {
	dailyLogWriter := dailylogger.New(logDir, leader+".", ".log")
	return slog.New(slog.NewTextHandler(dailyLogWriter, nil))
}
