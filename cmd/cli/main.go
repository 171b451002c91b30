package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/config"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/db"
	"github.com/w4cha/csv-manager/internal/logging"
	"github.com/w4cha/csv-manager/op"
	"github.com/w4cha/csv-manager/ps"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

// app is the state shared by every command of one invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	instance *csvmanager.Instance
	out      io.Writer
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s✗ %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var configFile, name, email string
	var memory bool

	root := &cobra.Command{
		Use:           "csvmgr",
		Short:         "Query and edit delimited text tables",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd, configFile, memory, core.Identity{Name: name, Email: email})
		},
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "csvmanager.yaml", "Config file")
	flags.BoolVar(&memory, "memory", false, "Keep tables in memory only")
	flags.StringVar(&name, "name", "csvmgr", "Author name recorded in the history")
	flags.StringVar(&email, "email", "cli@csvmgr.local", "Author email recorded in the history")
	flags.String(config.FlagName("data_dir"), "data", "Directory holding the table files")
	flags.Bool(config.FlagName("history"), true, "Record every change in a git repository")
	flags.String(config.FlagName("delimiter"), string(core.DefaultDelimiter), "Field delimiter of new tables")
	flags.String(config.FlagName("index_column"), core.DefaultIndexColumn, "Index column of new tables")
	flags.Int(config.FlagName("max_rows"), core.DefaultMaxRows, "Row limit per table")
	flags.Int(config.FlagName("max_columns"), core.DefaultMaxColumns, "Column limit per table")
	flags.String(config.FlagName("log.level"), "info", "Log level: debug, info, warn or error")

	root.AddCommand(
		a.shellCommand(),
		a.searchCommand(),
		a.updateCommand(),
		a.deleteCommand(),
		a.appendCommand(),
		a.createCommand(),
		a.dropCommand(),
		a.renameCommand(),
		a.importCommand(),
		a.exportCommand(),
		a.tablesCommand(),
		a.historyCommand(),
		a.restoreCommand(),
	)
	return root
}

func (a *app) open(cmd *cobra.Command, configFile string, memory bool, identity core.Identity) error {
	cfg, err := config.LoadFlags(config.DefaultPrefix, cmd.Flags(), ".env", configFile)
	if err != nil {
		return err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	delimiter, err := cfg.DelimiterRune()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logging.New(level)

	var persistence *ps.Persistence
	if memory {
		persistence, err = ps.NewMemoryPersistence()
	} else {
		persistence, err = ps.NewFilePersistence(cfg.DataDir, cfg.History)
	}
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", cfg.DataDir, err)
	}

	a.instance = csvmanager.Open(persistence,
		csvmanager.WithIdentity(identity),
		csvmanager.WithLogger(a.logger),
		csvmanager.WithQueryOptions(cfg.QueryOptions()),
		csvmanager.WithS3(s3Config(cfg)),
		csvmanager.WithTableOptions(op.WithDelimiter(delimiter), op.WithLimits(cfg.Limits())),
	)
	return nil
}

func s3Config(cfg config.Config) *db.S3Config {
	return &db.S3Config{
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		Region:    cfg.S3.Region,
		Endpoint:  cfg.S3.Endpoint,
	}
}

func (a *app) shellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell [table]",
		Short: "Start an interactive shell",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shell := newShell(a.instance, a.out, a.cfg.IndexColumn)
			if len(args) == 1 {
				shell.use(args[0])
			}
			printBanner(a.out)
			return shell.run()
		},
	}
}

func (a *app) searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search <table> [query]",
		Short: "Print the rows selected by a query",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.instance.Engine(args[0])
			if err != nil {
				return err
			}
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			result, err := engine.Execute(text)
			if err != nil {
				return err
			}
			result.Display(a.out)
			return nil
		},
	}
}

func (a *app) updateCommand() *cobra.Command {
	var mapping map[string]string
	cmd := &cobra.Command{
		Use:   "update <table> <statement>",
		Short: `Run an UPDATE:~"COL"=value ON <selection> statement`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.instance.Engine(args[0])
			if err != nil {
				return err
			}
			return printUpdate(a.out, engine, args[1], mapping)
		},
	}
	cmd.Flags().StringToStringVar(&mapping, "map", nil, "Values for %MAP-VALUE, old=new")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <table> <statement>",
		Short: `Delete rows by "delete all", an index pattern or DELETE ON <query>`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.instance.Engine(args[0])
			if err != nil {
				return err
			}
			return printDelete(a.out, engine, args[1])
		},
	}
}

func (a *app) appendCommand() *cobra.Command {
	var unique []string
	cmd := &cobra.Command{
		Use:   "append <table> <value>...",
		Short: "Append a row, one value per column after the index",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.instance.Table(args[0])
			if err != nil {
				return err
			}
			var row core.Row
			if len(unique) > 0 {
				row, err = table.AppendUnique(unique, args[1:]...)
			} else {
				row, err = table.Append(args[1:]...)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s✓ %s%s\n", SuccessColor, row.Join(table.Table.Delimiter), ResetColor)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&unique, "unique", nil, "Refuse the row when another one has the same values in these columns")
	return cmd
}

func (a *app) createCommand() *cobra.Command {
	var exclude []string
	cmd := &cobra.Command{
		Use:   "create <table> <column>...",
		Short: "Create an empty table",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.instance.CreateTable(args[0], a.cfg.IndexColumn, args[1:], exclude)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s✓ Created %s (%s)%s\n", SuccessColor, table.Name(),
				strings.Join(table.Header(), string(table.Table.Delimiter)), ResetColor)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, `Columns to leave out, or "!" followed by the only ones to keep`)
	return cmd
}

func (a *app) dropCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>...",
		Short: `Drop tables, "delete all" drops every table`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dropped, err := a.instance.DropTables(args...)
			for _, name := range dropped {
				fmt.Fprintf(a.out, "%s✓ Dropped %s%s\n", SuccessColor, name, ResetColor)
			}
			return err
		},
	}
}

func (a *app) renameCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <table> <new name>",
		Short: "Rename a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.instance.RenameTable(args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s✓ Renamed %s to %s%s\n", SuccessColor, args[0], args[1], ResetColor)
			return nil
		},
	}
}

func (a *app) importCommand() *cobra.Command {
	var opts db.ImportOptions
	var delimiter string
	var extra map[string]string
	cmd := &cobra.Command{
		Use:   "import <source> <table>",
		Short: "Create a table from a delimited file, a URL or an s3:// object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := core.ParseDelimiter(delimiter)
			if err != nil {
				return err
			}
			opts.Name = args[1]
			opts.Delimiter = d
			opts.IndexColumn = a.cfg.IndexColumn
			for name, value := range extra {
				opts.Extra = append(opts.Extra, db.Column{Name: name, Default: value})
			}
			engine, err := a.instance.Import(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s✓ Imported %d rows into %s%s\n", SuccessColor, engine.Table().RowCount(), args[1], ResetColor)
			return nil
		},
	}
	cmd.Flags().StringVar(&delimiter, "source-delimiter", ",", "Delimiter of the source file")
	cmd.Flags().BoolVar(&opts.IDPresent, "id-present", false, "The first source column is an id to drop")
	cmd.Flags().StringSliceVar(&opts.Exclude, "exclude", nil, `Source columns to leave out, or "!" followed by the only ones to keep`)
	cmd.Flags().StringToStringVar(&extra, "extra", nil, "Extra columns with their default value, name=default")
	return cmd
}

func (a *app) exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export <table> <destination> [query]",
		Short: "Write the rows of a search to a file or an s3:// object",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.instance.Engine(args[0])
			if err != nil {
				return err
			}
			text := ""
			if len(args) == 3 {
				text = args[2]
			}
			n, err := engine.Export(cmd.Context(), args[1], text)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s✓ Exported %d rows to %s%s\n", SuccessColor, n, args[1], ResetColor)
			return nil
		},
	}
}

func (a *app) tablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printTables(a.out, a.instance)
		},
	}
}

func (a *app) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <table>",
		Short: "List the changes of a table, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.instance.Table(args[0])
			if err != nil {
				return err
			}
			return printHistory(a.out, table)
		},
	}
}

func (a *app) restoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <table> <transaction>",
		Short: "Rewrite a table to its content as of a transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := a.instance.Table(args[0])
			if err != nil {
				return err
			}
			return restore(a.out, table, args[1])
		},
	}
}

func printTables(out io.Writer, instance *csvmanager.Instance) error {
	names, err := instance.Tables()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Fprintln(out, "No tables")
		return nil
	}
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		table, err := instance.Table(name)
		if err != nil {
			rows = append(rows, []string{name, "?", err.Error()})
			continue
		}
		rows = append(rows, []string{name, fmt.Sprint(table.RowCount()), strings.Join(table.Header(), string(table.Table.Delimiter))})
	}
	grid := db.NewTable(out)
	grid.Header([]string{"TABLE", "ROWS", "HEADER"})
	grid.Bulk(rows)
	grid.Render()
	return nil
}

func printHistory(out io.Writer, table *op.TableOp) error {
	history, err := table.History()
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(history))
	for _, txn := range history {
		rows = append(rows, []string{txn.ShortId(), txn.When.Format("2006-01-02 15:04:05"), txn.Author, txn.Message})
	}
	grid := db.NewTable(out)
	grid.Header([]string{"TRANSACTION", "WHEN", "AUTHOR", "MESSAGE"})
	grid.Bulk(rows)
	grid.Render()
	return nil
}

func restore(out io.Writer, table *op.TableOp, id string) error {
	txn, err := table.Persistence.FindTransaction(table.Table.FileName(), id)
	if err != nil {
		return err
	}
	if _, err := table.Restore(txn); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s✓ Restored %s as of %s (%d rows)%s\n", SuccessColor, table.Name(), txn.ShortId(), table.RowCount(), ResetColor)
	return nil
}

// printDelete streams the deleted rows of a delete statement.
func printDelete(out io.Writer, engine *db.Engine, text string) error {
	deleted := 0
	for line, err := range engine.Delete(text) {
		if err != nil {
			return err
		}
		switch line {
		case db.StatusAll:
			fmt.Fprintf(out, "%s✓ Deleted every row%s\n", SuccessColor, ResetColor)
		case db.StatusNothing:
			fmt.Fprintln(out, "Nothing to delete")
		default:
			deleted++
			fmt.Fprintln(out, line)
		}
	}
	if deleted > 0 {
		fmt.Fprintf(out, "%s✓ %d row(s) deleted%s\n", SuccessColor, deleted, ResetColor)
	}
	return nil
}

// printUpdate streams one line per updated row, followed by the messages
// of the operations that failed on it.
func printUpdate(out io.Writer, engine *db.Engine, text string, mapping map[string]string) error {
	delimiter := string(engine.Table().Table.Delimiter)
	updated, failed := 0, 0
	for report, err := range engine.Update(text, mapping) {
		if err != nil {
			return err
		}
		updated++
		failed += report.Failed()
		fmt.Fprintln(out, strings.Join(report.Result, delimiter))
		for _, messages := range report.Errors {
			for _, message := range messages {
				fmt.Fprintf(out, "  %s✗ %s%s\n", ErrorColor, message, ResetColor)
			}
		}
	}
	fmt.Fprintf(out, "%s✓ %d row(s) updated%s", SuccessColor, updated, ResetColor)
	if failed > 0 {
		fmt.Fprintf(out, ", %s%d operation(s) failed%s", ErrorColor, failed, ResetColor)
	}
	fmt.Fprintln(out)
	return nil
}

func printBanner(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s%scsvmgr %s%s\n", BoldColor, PromptColor, Version, ResetColor)
	fmt.Fprintln(out, "Type .help for commands, .quit to exit")
	fmt.Fprintln(out)
}
