// Command accountctl administers accounts from the command line using the
// same environment configuration as the API server.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ovaphlow/pitchfork/service-account-go/internal/account"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-account-go/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-account-go/pkg/utilities"
)

const usage = `usage: accountctl [-memory] <command> [args]

commands:
  register <email>          create an account (secret read from terminal or stdin)
  show <id|email>           print one account
  status <id> <status>      change status
  passwd <id>               change credential
  email <id> <new-email>    change email
  list [status[,status]]    list accounts
  login <email>             check a credential
  migrate                   apply database migrations

flags:
  -memory   use a throwaway in-process store; accounts last only for this
            one invocation, so it is only good for trying out commands
`

type app struct {
	svc    *account.Service
	db     *sql.DB
	logger *zap.SugaredLogger
	in     *bufio.Reader
	out    io.Writer
	tty    bool
}

func main() {
	_ = godotenv.Load()

	memory := flag.Bool("memory", false, "throwaway in-process store, emptied when the command exits")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	a := &app{
		logger: sugar,
		in:     bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		tty:    term.IsTerminal(int(os.Stdin.Fd())),
	}

	ids := utilities.NewIDGenerator(utilities.NodeFromEnv())
	var store repo.Store
	if *memory {
		store = repo.NewMemoryRepo(ids.Next)
	} else {
		cfg := database.ConfigFromEnv()
		a.db, err = database.Connect(cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "db connect: %v\n", err)
			os.Exit(1)
		}
		defer a.db.Close()
		store = repo.NewAccountRepo(database.Wrap(a.db, cfg), ids.Next)
	}

	a.svc, err = account.NewServiceFromConfig(store, account.ConfigFromEnv(), sugar)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := a.run(ctx, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "accountctl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("bad usage")

func (a *app) run(ctx context.Context, args []string) error {
	cmd, args := args[0], args[1:]
	need := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%w: %s takes %d argument(s)\n\n%s", errUsage, cmd, n, usage)
		}
		return nil
	}

	switch cmd {
	case "register":
		if err := need(1); err != nil {
			return err
		}
		secret, err := a.readSecret("Password: ")
		if err != nil {
			return err
		}
		acc, err := a.svc.Register(ctx, args[0], secret)
		if err != nil {
			return err
		}
		a.print(acc)
	case "show":
		if err := need(1); err != nil {
			return err
		}
		var acc *entity.Account
		var err error
		if strings.Contains(args[0], "@") {
			acc, err = a.svc.FindByEmail(ctx, args[0])
		} else {
			acc, err = a.svc.FindByID(ctx, args[0])
		}
		if err != nil {
			return err
		}
		a.print(acc)
	case "status":
		if err := need(2); err != nil {
			return err
		}
		st, err := entity.ParseStatus(args[1])
		if err != nil {
			return err
		}
		if err := a.svc.ChangeStatus(ctx, args[0], st); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s is now %s\n", args[0], st)
	case "passwd":
		if err := need(1); err != nil {
			return err
		}
		secret, err := a.readSecret("New password: ")
		if err != nil {
			return err
		}
		if err := a.svc.ChangeCredential(ctx, args[0], secret); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "credential changed")
	case "email":
		if err := need(2); err != nil {
			return err
		}
		if err := a.svc.ChangeEmail(ctx, args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s now uses %s\n", args[0], args[1])
	case "list":
		if len(args) > 1 {
			return need(1)
		}
		var out []entity.Account
		var err error
		if len(args) == 0 {
			out, err = a.svc.ListAll(ctx)
		} else {
			var statuses []entity.Status
			for _, part := range strings.Split(args[0], ",") {
				st, perr := entity.ParseStatus(part)
				if perr != nil {
					return perr
				}
				statuses = append(statuses, st)
			}
			out, err = a.svc.ListByStatuses(ctx, statuses...)
		}
		if err != nil {
			return err
		}
		a.table(out)
	case "login":
		if err := need(1); err != nil {
			return err
		}
		secret, err := a.readSecret("Password: ")
		if err != nil {
			return err
		}
		acc, err := a.svc.Authenticate(ctx, args[0], secret)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "ok: %s (%s)\n", acc.ID, acc.Status)
	case "migrate":
		if a.db == nil {
			return errors.New("migrate needs a database; drop -memory")
		}
		if err := database.Migrate(ctx, a.db, a.logger); err != nil {
			return err
		}
		return database.MigrationStatus(a.db, a.logger)
	default:
		return fmt.Errorf("%w: unknown command %q\n\n%s", errUsage, cmd, usage)
	}
	return nil
}

// readSecret prompts without echo on a terminal and reads a line otherwise.
func (a *app) readSecret(prompt string) (string, error) {
	if a.tty {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (a *app) print(acc *entity.Account) {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", acc.ID)
	fmt.Fprintf(tw, "email\t%s\n", acc.Email)
	fmt.Fprintf(tw, "status\t%s (%s)\n", acc.Status, acc.Status.Description())
	fmt.Fprintf(tw, "created\t%s\n", acc.CreatedAt.Format(time.RFC3339))
	if acc.LastModified != nil {
		fmt.Fprintf(tw, "modified\t%s\n", acc.LastModified.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func (a *app) table(list []entity.Account) {
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tEMAIL\tSTATUS\tCREATED")
	for _, acc := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", acc.ID, acc.Email, acc.Status, acc.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}
