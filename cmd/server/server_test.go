package main

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	csvmanager "github.com/w4cha/csv-manager"
	"github.com/w4cha/csv-manager/core"
	"github.com/w4cha/csv-manager/ps"
)

var serverIdentity = core.Identity{Name: "test", Email: "test@test.com"}

func setupTestServer(t *testing.T, opts ...Option) (*Server, *csvmanager.Instance) {
	t.Helper()
	persistence, err := ps.NewMemoryPersistence()
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := csvmanager.Open(persistence, csvmanager.WithIdentity(serverIdentity))
	if _, err := instance.CreateTable("people", "INDICE", []string{"name", "city"}, nil); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	server := NewServer(instance, serverIdentity, opts...)
	if err := server.Start("127.0.0.1:0"); err != nil { // :0 picks a free port
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server, instance
}

// client is one persistent connection.
type client struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) sendLine(line string) Response {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("Failed to send: %v", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("Failed to read response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		c.t.Fatalf("Failed to parse response: %v", err)
	}
	return resp
}

func (c *client) send(req Request) Response {
	c.t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		c.t.Fatalf("Failed to encode request: %v", err)
	}
	return c.sendLine(string(data))
}

func sendRequest(t *testing.T, addr string, req Request) Response {
	t.Helper()
	return dial(t, addr).send(req)
}

func decode[T any](t *testing.T, resp Response) T {
	t.Helper()
	if !resp.Success {
		t.Fatalf("Expected success, got error: %s", resp.Error)
	}
	var v T
	if err := json.Unmarshal(resp.Result, &v); err != nil {
		t.Fatalf("Failed to parse %s result: %v", resp.Type, err)
	}
	return v
}

func TestServerStartStop(t *testing.T) {
	server, _ := setupTestServer(t)

	if server.Addr() == "" {
		t.Error("Expected non-empty address")
	}
	if server.TLSEnabled() {
		t.Error("Expected TLS to be disabled")
	}
}

func TestServerTables(t *testing.T) {
	server, _ := setupTestServer(t)

	resp := sendRequest(t, server.Addr(), Request{Op: OpTables})
	if resp.Type != "tables" {
		t.Errorf("Expected tables type, got: %s", resp.Type)
	}
	tr := decode[TablesResponse](t, resp)
	if !reflect.DeepEqual(tr.Tables, []string{"people"}) {
		t.Errorf("Expected [people], got %v", tr.Tables)
	}
}

func TestServerAppendAndSearch(t *testing.T) {
	server, instance := setupTestServer(t)
	c := dial(t, server.Addr())

	resp := c.send(Request{Table: "people", Op: OpAppend, Values: []string{"Ana", "Lima"}})
	ar := decode[AppendResponse](t, resp)
	if !reflect.DeepEqual(ar.Row, []string{"[1]", "Ana", "Lima"}) {
		t.Errorf("Unexpected row %v", ar.Row)
	}
	if ar.Transaction == "" {
		t.Error("Expected a transaction id")
	}

	decode[AppendResponse](t, c.send(Request{Table: "people", Op: OpAppend, Record: map[string]string{"city": "Quito", "name": "Luis"}}))

	resp = c.send(Request{Table: "people", Op: OpAppend, Values: []string{"Ana", "Cusco"}, Unique: []string{"NAME"}})
	if resp.Success || !strings.Contains(resp.Error, "same values") {
		t.Errorf("Expected a duplicate error, got %+v", resp)
	}

	resp = c.send(Request{Table: "people", Op: OpSearch, Text: `"CITY" = Quito`})
	if resp.Type != "query" {
		t.Errorf("Expected query type, got: %s", resp.Type)
	}
	qr := decode[QueryResponse](t, resp)
	if !reflect.DeepEqual(qr.Columns, []string{"INDICE", "NAME", "CITY"}) {
		t.Errorf("Unexpected columns %v", qr.Columns)
	}
	if !reflect.DeepEqual(qr.Data, [][]string{{"[2]", "Luis", "Quito"}}) || qr.RecordsRead != 1 {
		t.Errorf("Unexpected data %v", qr.Data)
	}

	qr = decode[QueryResponse](t, c.send(Request{Table: "people", Op: OpSearch, Text: `"INDICE" > 0~COUNT`}))
	if !reflect.DeepEqual(qr.Summary, [][]string{{"COUNT", "2"}}) {
		t.Errorf("Unexpected summary %v", qr.Summary)
	}

	table, _ := instance.Table("people")
	if table.RowCount() != 2 {
		t.Errorf("Expected 2 rows, got %d", table.RowCount())
	}
}

func TestServerUpdateAndDelete(t *testing.T) {
	server, _ := setupTestServer(t)
	c := dial(t, server.Addr())
	for _, values := range [][]string{{"Ana", "Lima"}, {"Luis", "Quito"}, {"Eva", "Lima"}} {
		decode[AppendResponse](t, c.send(Request{Table: "people", Op: OpAppend, Values: values}))
	}

	resp := c.send(Request{
		Table:   "people",
		Op:      OpUpdate,
		Text:    `UPDATE:~"CITY"=%MAP-VALUE ON "CITY" = Lima`,
		Mapping: map[string]string{"Lima": "LIM"},
	})
	if resp.Type != "commit" {
		t.Errorf("Expected commit type, got: %s", resp.Type)
	}
	cr := decode[CommitResponse](t, resp)
	if cr.RecordsUpdated != 2 || len(cr.Updates) != 2 {
		t.Fatalf("Expected 2 updates, got %+v", cr)
	}
	if !reflect.DeepEqual([]string(cr.Updates[1].Result), []string{"[3]", "Eva", "LIM"}) {
		t.Errorf("Unexpected update result %v", cr.Updates[1].Result)
	}

	cr = decode[CommitResponse](t, c.send(Request{Table: "people", Op: OpDelete, Text: "[1-3]"}))
	if cr.RecordsDeleted != 2 || !reflect.DeepEqual(cr.Deleted, []string{"[1]|Ana|LIM", "[3]|Eva|LIM"}) {
		t.Errorf("Unexpected delete %+v", cr)
	}

	cr = decode[CommitResponse](t, c.send(Request{Table: "people", Op: OpDelete, Text: "delete all"}))
	if cr.Status != "all" || cr.Transaction == "" {
		t.Errorf("Expected status all with a transaction, got %+v", cr)
	}
}

func TestServerErrors(t *testing.T) {
	server, _ := setupTestServer(t)
	c := dial(t, server.Addr())

	tests := []struct {
		name string
		line string
		want string
	}{
		{"invalid json", `SELECT * FROM people`, "invalid request"},
		{"unknown op", `{"op":"drop","table":"people"}`, "unknown op"},
		{"missing table", `{"op":"search","table":"nope","text":""}`, "table not found"},
		{"syntax", `{"op":"search","table":"people","text":"\"NOPE\" = x"}`, "syntax"},
		{"update needs an update statement", `{"op":"update","table":"people","text":"DELETE ON \"NAME\" = x"}`, "syntax"},
		{"field count", `{"op":"append","table":"people","values":["only"]}`, "wrong number of values"},
	}
	for _, tt := range tests {
		resp := c.sendLine(tt.line)
		if resp.Success {
			t.Errorf("%s: expected failure", tt.name)
		}
		if !strings.Contains(strings.ToLower(resp.Error), tt.want) {
			t.Errorf("%s: expected error containing %q, got %q", tt.name, tt.want, resp.Error)
		}
	}
}

func TestServerPersistentConnection(t *testing.T) {
	server, _ := setupTestServer(t)
	c := dial(t, server.Addr())

	for i := 0; i < 5; i++ {
		resp := c.send(Request{Op: OpTables})
		if !resp.Success {
			t.Fatalf("Request %d failed: %s", i, resp.Error)
		}
	}

	if _, err := c.conn.Write([]byte("quit\n")); err != nil {
		t.Fatalf("Failed to send quit: %v", err)
	}
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c.reader.ReadString('\n'); err != io.EOF {
		t.Errorf("Expected the server to close the connection, got %v", err)
	}
}

func TestServerRecordsDefaultIdentity(t *testing.T) {
	server, instance := setupTestServer(t)

	decode[AppendResponse](t, sendRequest(t, server.Addr(), Request{Table: "people", Op: OpAppend, Values: []string{"Ana", "Lima"}}))

	table, _ := instance.Table("people")
	history, err := table.History()
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if history[0].Author != "test <test@test.com>" {
		t.Errorf("Expected the server identity, got %q", history[0].Author)
	}
}

func TestServerRateLimit(t *testing.T) {
	server, _ := setupTestServer(t, WithRateLimit(0.001, 2))
	c := dial(t, server.Addr())

	for i := 0; i < 2; i++ {
		if resp := c.send(Request{Op: OpTables}); !resp.Success {
			t.Fatalf("Request %d failed: %s", i, resp.Error)
		}
	}
	resp := c.send(Request{Op: OpTables})
	if resp.Success || resp.Error != ErrRateLimited.Error() {
		t.Errorf("Expected rate limit error, got %+v", resp)
	}

	// the budget is per connection
	if resp := sendRequest(t, server.Addr(), Request{Op: OpTables}); !resp.Success {
		t.Errorf("Expected a new connection to be served, got %s", resp.Error)
	}
}

func TestServerMaxConnections(t *testing.T) {
	server, _ := setupTestServer(t, WithMaxConnections(1))

	first := dial(t, server.Addr())
	if resp := first.send(Request{Op: OpTables}); !resp.Success {
		t.Fatalf("First connection failed: %s", resp.Error)
	}

	second := dial(t, server.Addr())
	second.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := second.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Expected a refusal, got %v", err)
	}
	var resp Response
	json.Unmarshal([]byte(line), &resp)
	if resp.Success || resp.Error != ErrTooManyConnections.Error() {
		t.Errorf("Expected too many connections, got %+v", resp)
	}

	// the first connection is still served
	if resp := first.send(Request{Op: OpTables}); !resp.Success {
		t.Errorf("First connection failed: %s", resp.Error)
	}
}

func TestServerMetrics(t *testing.T) {
	server, _ := setupTestServer(t)
	addr, err := server.ServeMetrics("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to serve metrics: %v", err)
	}

	c := dial(t, server.Addr())
	c.send(Request{Table: "people", Op: OpAppend, Values: []string{"Ana", "Lima"}})
	c.send(Request{Table: "people", Op: OpSearch, Text: `"NAME" = Ana`})
	c.send(Request{Table: "people", Op: OpSearch, Text: `"NOPE" = Ana`})

	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`csvmgr_requests_total{op="search",status="ok"} 1`,
		`csvmgr_requests_total{op="search",status="error"} 1`,
		`csvmgr_requests_total{op="append",status="ok"} 1`,
		`csvmgr_rows_total{op="search"} 1`,
		`csvmgr_connections 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics to contain %q", want)
		}
	}
}

func TestServerWatchReloadsTables(t *testing.T) {
	dir := t.TempDir()
	persistence, err := ps.NewFilePersistence(dir, false)
	if err != nil {
		t.Fatalf("Failed to create persistence: %v", err)
	}
	instance := csvmanager.Open(persistence)
	if _, err := instance.CreateTable("notes", "INDICE", []string{"text"}, nil); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	server := NewServer(instance, serverIdentity)
	if err := server.Start("127.0.0.1:0"); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	if err := server.Watch(dir); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	// another process rewrites the table
	content := "INDICE|TEXT\n[1]|a\n[2]|b\n"
	if err := os.WriteFile(filepath.Join(dir, "notes.csv"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write table: %v", err)
	}

	table, _ := instance.Table("notes")
	deadline := time.Now().Add(5 * time.Second)
	for {
		server.mu.RLock()
		n := table.RowCount()
		server.mu.RUnlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 rows after reload, got %d", n)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// appends are numbered from the reloaded row count
	c := dial(t, server.Addr())
	ar := decode[AppendResponse](t, c.send(Request{Table: "notes", Op: OpAppend, Values: []string{"c"}}))
	if ar.Row[0] != "[3]" {
		t.Errorf("Expected [3], got %v", ar.Row)
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/data/people.csv", "people", true},
		{"/data/.people.csv.1234.tmp", "", false},
		{"/data/.hidden.csv", "", false},
		{"/data/notes.txt", "", false},
		{"/data/bad name.csv", "", false},
	}
	for _, tt := range tests {
		got, ok := tableName(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("tableName(%q): expected (%q, %v), got (%q, %v)", tt.path, tt.want, tt.ok, got, ok)
		}
	}
}
