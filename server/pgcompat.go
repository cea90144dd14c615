package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	pgproto3 "github.com/jackc/pgproto3/v2"
	"github.com/lib/pq/oid"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

type PgCompatConfig struct {
	Address string
}

// ListenAndServePgCompat serves the PostgreSQL simple query protocol on
// pgCfg.Address so standard tools can query through the gateway. Only the
// simple query flow is implemented; the extended protocol is not.
func (svr *Server) ListenAndServePgCompat(pgCfg PgCompatConfig) error {
	l, err := net.Listen("tcp", pgCfg.Address)
	if err != nil {
		return err
	}
	return svr.ServePgCompat(l)
}

func (svr *Server) ServePgCompat(l net.Listener) error {
	err := svr.addListener(l)
	if err != nil {
		return err
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			svr.mutex.Lock()
			if svr.shutdown {
				err = ErrServerClosed
			}
			svr.mutex.Unlock()
			log.WithField("error", err.Error()).Error("pg accept")
			return err
		}

		entry := log.WithFields(log.Fields{
			"addr": conn.RemoteAddr().String(),
		})
		entry.Info("pg connected")

		go svr.handlePgConn(conn, entry)
	}
}

func (svr *Server) handlePgConn(conn net.Conn, entry *log.Entry) {
	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	defer entry.Info("pg disconnected")

	if !svr.trackConn(conn, true) {
		conn.Close()
		return
	}
	defer func() {
		if svr.trackConn(conn, false) {
			conn.Close()
		}
	}()

	be := pgproto3.NewBackend(pgproto3.NewChunkReader(conn), conn)

	cliCtx := engine.NewClientContext()
	var started bool
	for !started {
		msg, err := be.ReceiveStartupMessage()
		if err != nil {
			entry.WithField("error", err.Error()).Error("receive startup message")
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.StartupMessage:
			if db, ok := msg.Parameters["database"]; ok {
				cliCtx.Schema = db
			}
			_, err = conn.Write((&pgproto3.AuthenticationOk{}).Encode(nil))
			if err != nil {
				entry.WithField("error", err.Error()).Error("send authentication ok")
				return
			}
			started = true
		case *pgproto3.SSLRequest:
			_, err = conn.Write([]byte("N"))
			if err != nil {
				entry.WithField("error", err.Error()).Error("send deny ssl request")
				return
			}
		default:
			entry.Errorf("unexpected startup message: %#v", msg)
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ses, err := svr.Engine.NewSession(ctx, cliCtx)
	if err != nil {
		pgErrorResponse(conn, err, entry)
		return
	}
	defer ses.Close()

	for {
		ch := byte('I')
		if ses.ActiveTx() {
			ch = 'T'
		}
		_, err = conn.Write((&pgproto3.ReadyForQuery{TxStatus: ch}).Encode(nil))
		if err != nil {
			entry.WithField("error", err.Error()).Error("send ready for query")
			return
		}

		msg, err := be.Receive()
		if err != nil {
			if err != io.EOF {
				entry.WithField("error", err.Error()).Error("receive")
			}
			return
		}

		switch msg := msg.(type) {
		case *pgproto3.Query:
			pgQuery(ctx, ses, conn, msg.String, entry)
		case *pgproto3.Terminate:
			return
		default:
			buf, _ := json.Marshal(msg)
			entry.WithField("message", string(buf)).Error("unexpected message")
		}
	}
}

func pgQuery(ctx context.Context, ses engine.Session, conn net.Conn, sql string,
	entry *log.Entry) {

	if strings.TrimSpace(sql) == "" {
		_, err := conn.Write((&pgproto3.EmptyQueryResponse{}).Encode(nil))
		if err != nil {
			entry.WithField("error", err.Error()).Error("send empty query response")
		}
		return
	}

	results, err := ses.Execute(ctx, engine.Query{SQL: sql},
		engine.ExecuteOptions{AutoCommit: true, MultiStatements: true})
	if err != nil {
		pgErrorResponse(conn, err, entry)
		return
	}

	for _, res := range results {
		if res.BulkLoad != nil {
			res.BulkLoad.Sink.Close(ctx, true)
			pgErrorResponse(conn, fmt.Errorf("server: copy requires the native protocol"),
				entry)
			continue
		}
		if res.IsQuery() {
			err = pgRows(ctx, conn, res.Rows, entry)
			if err != nil {
				pgErrorResponse(conn, err, entry)
			}
		} else {
			pgCommandComplete(conn, commandTag(res), entry)
		}
	}
}

func commandTag(res engine.Result) string {
	switch res.Tag {
	case "INSERT":
		return fmt.Sprintf("INSERT 0 %d", res.UpdateCount)
	case "UPDATE", "DELETE":
		return fmt.Sprintf("%s %d", res.Tag, res.UpdateCount)
	case "":
		return fmt.Sprintf("OK %d", res.UpdateCount)
	}
	return res.Tag
}

// dataType returns the oid, size, and type modifier for a column.
func dataType(cm wire.ColumnMeta) (oid.Oid, int16, int32) {
	switch cm.Type {
	case "bool", "boolean":
		return oid.T_bool, 1, -1
	case "int2", "smallint":
		return oid.T_int2, 2, -1
	case "int4", "int", "integer":
		return oid.T_int4, 4, -1
	case "int8", "bigint":
		return oid.T_int8, 8, -1
	case "float4", "real":
		return oid.T_float4, 4, -1
	case "float8", "double precision":
		return oid.T_float8, 8, -1
	case "numeric", "decimal":
		return oid.T_numeric, -1, -1
	case "bytea":
		return oid.T_bytea, -1, -1
	case "date":
		return oid.T_date, 4, -1
	case "timestamp":
		return oid.T_timestamp, 8, -1
	case "timestamptz":
		return oid.T_timestamptz, 8, -1
	case "varchar", "character varying":
		if cm.Precision > 0 {
			return oid.T_varchar, -1, int32(cm.Precision) + 4
		}
		return oid.T_varchar, -1, -1
	case "bpchar", "character":
		return oid.T_bpchar, -1, int32(cm.Precision) + 4
	}
	return oid.T_text, -1, -1
}

// textValue formats a row value in the text format of the protocol.
func textValue(v interface{}) []byte {
	switch v := v.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return []byte("t")
		}
		return []byte("f")
	case string:
		return []byte(v)
	case int64:
		return strconv.AppendInt(nil, v, 10)
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64)
	case time.Time:
		return []byte(v.Format("2006-01-02 15:04:05.999999-07"))
	}
	return []byte(fmt.Sprintf("%v", v))
}

func pgRows(ctx context.Context, conn net.Conn, rows engine.Rows, entry *log.Entry) error {
	defer rows.Close()

	cols := rows.Columns()
	fields := make([]pgproto3.FieldDescription, 0, len(cols))
	for _, cm := range cols {
		o, sz, tmod := dataType(cm)
		fields = append(fields,
			pgproto3.FieldDescription{
				Name:         []byte(cm.Name),
				DataTypeOID:  uint32(o),
				DataTypeSize: sz,
				TypeModifier: tmod,
				Format:       0, // text format; binary format = 1
			})
	}
	_, err := conn.Write((&pgproto3.RowDescription{Fields: fields}).Encode(nil))
	if err != nil {
		entry.WithField("error", err.Error()).Error("send row description")
		return nil
	}

	values := make([][]byte, len(cols))
	dest := make([]interface{}, len(cols))
	var cnt int64
	for {
		err = rows.Next(ctx, dest)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		for vdx, v := range dest {
			values[vdx] = textValue(v)
		}
		_, err = conn.Write((&pgproto3.DataRow{Values: values}).Encode(nil))
		if err != nil {
			entry.WithField("error", err.Error()).Error("send data row")
			return nil
		}
		cnt += 1
	}

	pgCommandComplete(conn, fmt.Sprintf("SELECT %d", cnt), entry)
	return nil
}

func sqlStateForStatus(status wire.Status) string {
	switch status {
	case wire.StatusCancelled:
		return "57014"
	case wire.StatusSerialization:
		return "40001"
	case wire.StatusTxCompleted:
		return "25000"
	case wire.StatusDuplicateKey:
		return "23505"
	case wire.StatusUnsupported:
		return "0A000"
	}
	return "XX000"
}

func pgErrorResponse(conn net.Conn, err error, entry *log.Entry) {
	status := wire.StatusUnknown
	var sqlErr *engine.SQLError
	if errors.As(err, &sqlErr) {
		status = sqlErr.Status
	}

	_, cerr := conn.Write((&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     sqlStateForStatus(status),
		Message:  err.Error(),
	}).Encode(nil))
	if cerr != nil {
		entry.WithField("error", cerr.Error()).Error("send error response")
	}
}

func pgCommandComplete(conn net.Conn, tag string, entry *log.Entry) {
	_, err := conn.Write((&pgproto3.CommandComplete{CommandTag: []byte(tag)}).Encode(nil))
	if err != nil {
		entry.WithField("error", err.Error()).Error("send command complete")
	}
}
