package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/peterh/liner"
	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/db"
	"github.com/w4cha/csv-manager/op"
)

const maxHistory = 1000

// shell is the interactive session. Commands start with a dot; any other
// line is a statement run against the table chosen with .use.
type shell struct {
	instance    *csvmanager.Instance
	out         io.Writer
	indexColumn string
	table       string
	mapping     map[string]string
	history     []string
	historyFile string
}

func newShell(instance *csvmanager.Instance, out io.Writer, indexColumn string) *shell {
	return &shell{
		instance:    instance,
		out:         out,
		indexColumn: indexColumn,
		mapping:     make(map[string]string),
		historyFile: getHistoryPath(),
	}
}

func (s *shell) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(s.complete)

	s.loadHistory(line)
	defer s.saveHistory(line)

	for {
		input, err := line.Prompt(s.getPrompt())
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if err != nil {
			fmt.Fprintf(s.out, "\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			return nil
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)
		s.addToHistory(input)
		if !s.handle(input) {
			return nil
		}
	}
}

func (s *shell) getPrompt() string {
	tablePart := ""
	if s.table != "" {
		tablePart = fmt.Sprintf(" (%s)", s.table)
	}
	return fmt.Sprintf("csvmgr%s> ", tablePart)
}

// handle runs one input line and reports whether the session goes on.
func (s *shell) handle(input string) bool {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, ".") {
		return s.handleCommand(input)
	}
	if err := s.statement(input); err != nil {
		s.fail(err)
	}
	return true
}

func (s *shell) fail(err error) {
	fmt.Fprintf(s.out, "%s✗ Error: %v%s\n", ErrorColor, err, ResetColor)
}

func (s *shell) usage(text string) {
	fmt.Fprintf(s.out, "%s✗ Usage: %s%s\n", ErrorColor, text, ResetColor)
}

// statement runs an update, a delete or a search on the current table.
func (s *shell) statement(text string) error {
	if s.table == "" {
		return errors.New("no table selected, use .use <table>")
	}
	engine, err := s.instance.Engine(s.table)
	if err != nil {
		return err
	}

	upper := strings.ToUpper(text)
	switch {
	case strings.HasPrefix(upper, "UPDATE:~"):
		return printUpdate(s.out, engine, text, s.mapping)
	case strings.HasPrefix(upper, "DELETE ON"), strings.EqualFold(text, "delete all"):
		return printDelete(s.out, engine, text)
	}

	result, err := engine.Execute(text)
	if err != nil {
		return err
	}
	result.Display(s.out)
	return nil
}

func (s *shell) handleCommand(input string) bool {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true
	}

	var err error
	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Fprintf(s.out, "%sGoodbye!%s\n", SuccessColor, ResetColor)
		return false

	case ".help", ".h", ".?":
		s.printHelp()

	case ".tables":
		err = printTables(s.out, s.instance)

	case ".use":
		if len(parts) != 2 {
			s.usage(".use <table>")
			break
		}
		s.use(parts[1])

	case ".create":
		if len(parts) < 3 {
			s.usage(".create <table> <column>...")
			break
		}
		table, createErr := s.instance.CreateTable(parts[1], s.indexColumn, parts[2:], nil)
		if createErr != nil {
			err = createErr
			break
		}
		fmt.Fprintf(s.out, "%s✓ Created %s (%s)%s\n", SuccessColor, table.Name(),
			strings.Join(table.Header(), string(table.Table.Delimiter)), ResetColor)

	case ".delete", ".drop":
		if len(parts) < 2 {
			s.usage(`.delete <table>... or .delete all`)
			break
		}
		names := parts[1:]
		if strings.EqualFold(strings.Join(names, " "), "all") {
			names = []string{op.DropAll}
		}
		var dropped []string
		dropped, err = s.instance.DropTables(names...)
		for _, name := range dropped {
			fmt.Fprintf(s.out, "%s✓ Dropped %s%s\n", SuccessColor, name, ResetColor)
			if name == s.table {
				s.table = ""
			}
		}

	case ".erase":
		if len(parts) != 2 {
			s.usage(".erase <index pattern>")
			break
		}
		err = s.erase(parts[1])

	case ".history":
		if len(parts) > 1 || s.table != "" {
			err = s.tableHistory(parts[1:])
			break
		}
		s.printHistory()

	case ".restore":
		if len(parts) != 2 || s.table == "" {
			s.usage(".restore <transaction> (after .use)")
			break
		}
		table, tableErr := s.instance.Table(s.table)
		if tableErr != nil {
			err = tableErr
			break
		}
		err = restore(s.out, table, parts[1])

	case ".map":
		s.setMapping(parts[1:])

	case ".import":
		if len(parts) != 3 {
			s.usage(".import <source> <table>")
			break
		}
		_, err = s.instance.Import(context.Background(), parts[1], db.ImportOptions{Name: parts[2], IndexColumn: s.indexColumn})
		if err == nil {
			fmt.Fprintf(s.out, "%s✓ Imported %s into %s%s\n", SuccessColor, parts[1], parts[2], ResetColor)
		}

	case ".export":
		if len(parts) < 2 || s.table == "" {
			s.usage(".export <destination> [query] (after .use)")
			break
		}
		err = s.export(parts[1], strings.Join(parts[2:], " "))

	case ".read":
		if len(parts) != 2 {
			s.usage(".read <file>")
			break
		}
		err = s.readFile(parts[1])

	case ".clear", ".cls":
		fmt.Fprint(s.out, "\033[H\033[2J")

	case ".version":
		fmt.Fprintf(s.out, "csvmgr version %s\n", Version)

	default:
		fmt.Fprintf(s.out, "%s✗ Unknown command: %s (type .help for commands)%s\n", ErrorColor, parts[0], ResetColor)
	}

	if err != nil {
		s.fail(err)
	}
	return true
}

func (s *shell) use(name string) {
	if _, err := s.instance.Table(name); err != nil {
		s.fail(err)
		return
	}
	s.table = name
	fmt.Fprintf(s.out, "%s✓ Using table: %s%s\n", SuccessColor, name, ResetColor)
}

func (s *shell) erase(pattern string) error {
	if s.table == "" {
		return errors.New("no table selected, use .use <table>")
	}
	engine, err := s.instance.Engine(s.table)
	if err != nil {
		return err
	}
	return printDelete(s.out, engine, pattern)
}

func (s *shell) tableHistory(args []string) error {
	name := s.table
	if len(args) > 0 {
		name = args[0]
	}
	table, err := s.instance.Table(name)
	if err != nil {
		return err
	}
	return printHistory(s.out, table)
}

func (s *shell) export(dst, text string) error {
	engine, err := s.instance.Engine(s.table)
	if err != nil {
		return err
	}
	n, err := engine.Export(context.Background(), dst, text)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s✓ Exported %d rows to %s%s\n", SuccessColor, n, dst, ResetColor)
	return nil
}

// setMapping edits the values used by %MAP-VALUE: ".map old=new ...", a bare
// ".map" lists them and ".map clear" empties them.
func (s *shell) setMapping(args []string) {
	if len(args) == 1 && strings.EqualFold(args[0], "clear") {
		s.mapping = make(map[string]string)
		fmt.Fprintf(s.out, "%s✓ Mapping cleared%s\n", SuccessColor, ResetColor)
		return
	}
	for _, arg := range args {
		from, to, ok := strings.Cut(arg, "=")
		if !ok {
			s.usage(".map <old>=<new>...")
			return
		}
		s.mapping[from] = to
	}
	rows := make([][]string, 0, len(s.mapping))
	for from, to := range s.mapping {
		rows = append(rows, []string{from, to})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
	grid := db.NewTable(s.out)
	grid.Header([]string{"VALUE", "MAPPED TO"})
	grid.Bulk(rows)
	grid.Render()
}

// readFile runs the statements of a file, one per line. Blank lines and
// lines starting with -- are skipped.
func (s *shell) readFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer file.Close()

	successCount, errorCount := 0, 0
	scanner := bufio.NewScanner(file)
	for i := 1; scanner.Scan(); i++ {
		stmt := strings.TrimSpace(scanner.Text())
		if stmt == "" || strings.HasPrefix(stmt, "--") {
			continue
		}
		if strings.HasPrefix(stmt, ".") {
			s.handleCommand(stmt)
			continue
		}
		if err := s.statement(stmt); err != nil {
			fmt.Fprintf(s.out, "%s[%d] ✗ %s%s\n", ErrorColor, i, truncate(stmt, 50), ResetColor)
			fmt.Fprintf(s.out, "      Error: %v\n", err)
			errorCount++
			continue
		}
		successCount++
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintf(s.out, "\n%s✓ Read complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)
	return nil
}

func (s *shell) complete(line string) []string {
	commands := []string{".create", ".delete", ".erase", ".export", ".help", ".history", ".import",
		".map", ".quit", ".read", ".restore", ".tables", ".use"}
	var matches []string
	if strings.HasPrefix(strings.ToLower(line), ".use ") {
		names, _ := s.instance.Tables()
		for _, name := range names {
			if strings.HasPrefix(".use "+name, line) {
				matches = append(matches, ".use "+name)
			}
		}
		return matches
	}
	for _, command := range commands {
		if strings.HasPrefix(command, strings.ToLower(line)) {
			matches = append(matches, command)
		}
	}
	return matches
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(s.out, "  .help, .h                  Show this help message")
	fmt.Fprintln(s.out, "  .quit, .exit               Exit the shell")
	fmt.Fprintln(s.out, "  .tables                    List all tables")
	fmt.Fprintln(s.out, "  .use <table>               Run statements against a table")
	fmt.Fprintln(s.out, "  .create <table> <col>...   Create an empty table")
	fmt.Fprintln(s.out, "  .delete <table>...|all     Drop tables")
	fmt.Fprintln(s.out, "  .erase <pattern>           Delete rows by index pattern, e.g. [2:5]")
	fmt.Fprintln(s.out, "  .history [table]           Show the changes of a table, or the shell history")
	fmt.Fprintln(s.out, "  .restore <transaction>     Restore the current table to a past version")
	fmt.Fprintln(s.out, "  .map <old>=<new>...        Set values for %MAP-VALUE")
	fmt.Fprintln(s.out, "  .import <source> <table>   Create a table from a delimited file")
	fmt.Fprintln(s.out, "  .export <dest> [query]     Write the rows of a search")
	fmt.Fprintln(s.out, "  .read <file>               Run the statements of a file")
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s%sStatements:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(s.out, `  [COL#COL] "COL" <op> value & ... ~FUNCTION:COL`)
	fmt.Fprintln(s.out, `  [1:10], [3:] or [1-4-7]`)
	fmt.Fprintln(s.out, `  UPDATE:~"COL"=value&"COL"=%ADD:~1 ON <selection>`)
	fmt.Fprintln(s.out, `  DELETE ON <query> or delete all`)
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "%s%sOperators:%s = != > < >= <= [= ]= ?= <> >< >> <<\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintf(s.out, "%s%sFunctions:%s COUNT SUM AVG MIN MAX UNIQUE ASC DESC LIMIT\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(s.out)
}

func (s *shell) addToHistory(cmd string) {
	if len(s.history) > 0 && s.history[len(s.history)-1] == cmd {
		return
	}
	s.history = append(s.history, cmd)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

func (s *shell) printHistory() {
	if len(s.history) == 0 {
		fmt.Fprintln(s.out, "No command history")
		return
	}
	start := 0
	if len(s.history) > 20 {
		start = len(s.history) - 20
	}
	for i := start; i < len(s.history); i++ {
		fmt.Fprintf(s.out, "  %3d  %s\n", i+1, s.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".csvmgr_history")
}

func (s *shell) loadHistory(line *liner.State) {
	if s.historyFile == "" {
		return
	}
	file, err := os.Open(s.historyFile)
	if err != nil {
		return
	}
	defer file.Close()
	line.ReadHistory(file)
}

func (s *shell) saveHistory(line *liner.State) {
	if s.historyFile == "" {
		return
	}
	file, err := os.Create(s.historyFile)
	if err != nil {
		return
	}
	defer file.Close()
	line.WriteHistory(file)
}

// truncate shortens s to maxLen characters with an ellipsis
func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
