// Package rqlite is the durable Store backend: it encodes each
// storage.Document as a row in a single "instances" table and talks to an
// rqlite node over its HTTP API. No clustering concerns leak in here:
// one table is enough for an opaque JSON document store.
package rqlite

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bpmnworks/engine/pkg/ptr"
	"github.com/bpmnworks/engine/pkg/storage"
	"github.com/rqlite/rqlite/v8/command/proto"
	protolib "google.golang.org/protobuf/proto"
)

const createTableSQL = `CREATE TABLE IF NOT EXISTS instances (
	process_name TEXT NOT NULL,
	process_id TEXT NOT NULL,
	parent_token TEXT,
	properties TEXT NOT NULL,
	state BLOB NOT NULL,
	history BLOB NOT NULL,
	pending_timeouts BLOB NOT NULL,
	views BLOB NOT NULL,
	PRIMARY KEY (process_name, process_id)
)`

type Store struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string) (*Store, error) {
	s := &Store{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}}
	if _, err := s.execute(createTableSQL); err != nil {
		return nil, &storage.StoreError{Op: "init schema", Err: err}
	}
	return s, nil
}

func (s *Store) Load(processName, processId string) (*storage.Document, error) {
	rows, err := s.query(
		"SELECT process_name, process_id, parent_token, properties, state, history, pending_timeouts, views FROM instances WHERE process_name = ? AND process_id = ?",
		processName, processId,
	)
	if err != nil {
		return nil, &storage.StoreError{Op: "load", Err: err}
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) LoadAll(processName string) ([]storage.Document, error) {
	rows, err := s.query(
		"SELECT process_name, process_id, parent_token, properties, state, history, pending_timeouts, views FROM instances WHERE process_name = ?",
		processName,
	)
	if err != nil {
		return nil, &storage.StoreError{Op: "loadAll", Err: err}
	}
	return rows, nil
}

func (s *Store) Persist(doc storage.Document) error {
	props, err := json.Marshal(doc.Properties)
	if err != nil {
		return &storage.StoreError{Op: "persist", Err: err}
	}
	_, err = s.execute(
		`INSERT INTO instances (process_name, process_id, parent_token, properties, state, history, pending_timeouts, views)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(process_name, process_id) DO UPDATE SET
		   parent_token=excluded.parent_token, properties=excluded.properties, state=excluded.state,
		   history=excluded.history, pending_timeouts=excluded.pending_timeouts, views=excluded.views`,
		doc.ProcessName, doc.ProcessId, doc.ParentToken, string(props), doc.State, doc.History, doc.PendingTimeouts, doc.Views,
	)
	if err != nil {
		return &storage.StoreError{Op: "persist", Err: err}
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) execute(sql string, params ...interface{}) (*proto.ExecuteResponse, error) {
	req := &proto.ExecuteRequest{
		Request: &proto.Request{
			Transaction: true,
			Statements:  []*proto.Statement{statementOf(sql, params...)},
		},
	}
	body, err := protolib.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}
	respBody, err := s.post("/db/execute", body)
	if err != nil {
		return nil, err
	}
	resp := &proto.ExecuteResponse{}
	if err := protolib.Unmarshal(respBody, resp); err != nil {
		return nil, fmt.Errorf("unmarshal execute response: %w", err)
	}
	return resp, nil
}

func (s *Store) query(sql string, params ...interface{}) ([]storage.Document, error) {
	req := &proto.QueryRequest{
		Request: &proto.Request{
			Transaction: false,
			Statements:  []*proto.Statement{statementOf(sql, params...)},
		},
		Level: proto.QueryRequest_QUERY_REQUEST_LEVEL_WEAK,
	}
	body, err := protolib.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}
	respBody, err := s.post("/db/query", body)
	if err != nil {
		return nil, err
	}
	resp := &proto.QueryResponse{}
	if err := protolib.Unmarshal(respBody, resp); err != nil {
		return nil, fmt.Errorf("unmarshal query response: %w", err)
	}
	return rowsToDocuments(resp)
}

func (s *Store) post(path string, body []byte) ([]byte, error) {
	u, err := url.JoinPath(s.baseURL, path)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rqlite returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func statementOf(sql string, params ...interface{}) *proto.Statement {
	stmt := &proto.Statement{Sql: sql}
	for _, p := range params {
		stmt.Parameters = append(stmt.Parameters, parameterOf(p))
	}
	return stmt
}

func parameterOf(v interface{}) *proto.Parameter {
	switch val := v.(type) {
	case nil:
		return &proto.Parameter{}
	case *string:
		if val == nil {
			return &proto.Parameter{}
		}
		return &proto.Parameter{Value: &proto.Parameter_S{S: *val}}
	case string:
		return &proto.Parameter{Value: &proto.Parameter_S{S: val}}
	case int64:
		return &proto.Parameter{Value: &proto.Parameter_I{I: val}}
	case int:
		return &proto.Parameter{Value: &proto.Parameter_I{I: int64(val)}}
	case []byte:
		return &proto.Parameter{Value: &proto.Parameter_Y{Y: val}}
	default:
		return &proto.Parameter{}
	}
}

func rowsToDocuments(resp *proto.QueryResponse) ([]storage.Document, error) {
	var out []storage.Document
	for _, rows := range resp.Results {
		for _, values := range rows.Values {
			if values == nil || len(values.Parameters) < 8 {
				continue
			}
			doc := storage.Document{
				ProcessName: values.Parameters[0].GetS(),
				ProcessId:   values.Parameters[1].GetS(),
				State:       values.Parameters[4].GetY(),
				History:     values.Parameters[5].GetY(),
				PendingTimeouts: values.Parameters[6].GetY(),
				Views:       values.Parameters[7].GetY(),
			}
			if pt := values.Parameters[2].GetS(); pt != "" {
				doc.ParentToken = ptr.To(pt)
			}
			if err := json.Unmarshal([]byte(values.Parameters[3].GetS()), &doc.Properties); err != nil {
				return nil, fmt.Errorf("decode properties: %w", err)
			}
			out = append(out, doc)
		}
	}
	return out, nil
}
