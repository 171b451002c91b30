// Package main provides a TCP JSON-lines server for csvmanager tables.
package main

import (
	"encoding/json"

	"github.com/w4cha/csv-manager/db"
)

// Operations accepted in Request.Op.
const (
	OpSearch = "search"
	OpUpdate = "update"
	OpDelete = "delete"
	OpAppend = "append"
	OpTables = "tables"
)

// Request is one statement sent by the client on its own line.
type Request struct {
	Table   string            `json:"table,omitempty"`
	Op      string            `json:"op"`
	Text    string            `json:"text,omitempty"`
	Values  []string          `json:"values,omitempty"`
	Record  map[string]string `json:"record,omitempty"`
	Unique  []string          `json:"unique,omitempty"`
	Mapping map[string]string `json:"mapping,omitempty"`
}

// Response represents the server's answer to a request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Type    string          `json:"type,omitempty"` // "query", "commit", "append", "tables" or "auth"
	Result  json.RawMessage `json:"result,omitempty"`
}

// QueryResponse contains the rows of a search.
type QueryResponse struct {
	Columns      []string   `json:"columns"`
	Data         [][]string `json:"data"`
	Summary      [][]string `json:"summary,omitempty"`
	RecordsRead  int        `json:"records_read"`
	LimitReached bool       `json:"limit_reached,omitempty"`
	TimeMs       float64    `json:"time_ms"`
}

// CommitResponse contains the outcome of a delete or an update.
type CommitResponse struct {
	Transaction    string            `json:"transaction,omitempty"`
	Status         string            `json:"status,omitempty"`
	Deleted        []string          `json:"deleted,omitempty"`
	Updates        []db.UpdateReport `json:"updates,omitempty"`
	RecordsUpdated int               `json:"records_updated,omitempty"`
	RecordsDeleted int               `json:"records_deleted,omitempty"`
	TimeMs         float64           `json:"time_ms"`
}

// AppendResponse contains the stored row, index field included.
type AppendResponse struct {
	Row         []string `json:"row"`
	Transaction string   `json:"transaction,omitempty"`
}

type TablesResponse struct {
	Tables []string `json:"tables"`
}

// AuthResponse contains authentication result.
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Identity      string `json:"identity,omitempty"`
	ExpiresIn     int    `json:"expires_in,omitempty"`
}

// EncodeResponse serializes a Response to JSON with a newline.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeRequest parses a JSON request from a byte slice.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	err := json.Unmarshal(data, &req)
	return req, err
}

func success(kind string, v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return failure(kind, err)
	}
	return Response{Success: true, Type: kind, Result: data}
}

func failure(kind string, err error) Response {
	return Response{Success: false, Type: kind, Error: err.Error()}
}
