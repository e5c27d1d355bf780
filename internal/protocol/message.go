package protocol

import "github.com/relaydb/relaydb/internal/wire"

// MessageType discriminates the three envelope shapes on the channel.
type MessageType string

const (
	TypeRequest       MessageType = "request"
	TypeResponse      MessageType = "response"
	TypeTablesUpdated MessageType = "tablesUpdated"
)

type Message struct {
	Type MessageType `json:"type"`
}

// RequestKind is the closed set of operations a connection may ask for.
type RequestKind string

const (
	KindPing     RequestKind = "ping"
	KindExecute  RequestKind = "execute"
	KindBatch    RequestKind = "batch"
	KindBegin    RequestKind = "begin"
	KindCommit   RequestKind = "commit"
	KindRollback RequestKind = "rollback"
)

// StatementOp tells the dispatcher which executor entry point to use.
type StatementOp string

const (
	OpSelect StatementOp = "select"
	OpInsert StatementOp = "insert"
	OpUpdate StatementOp = "update"
	OpDelete StatementOp = "delete"
)

// Statement is a fully resolved statement: text plus bound arguments plus
// the tables it reads and writes. Empty table sets mean "not declared";
// the server may infer them from the text.
type Statement struct {
	Text      string       `json:"text"`
	Args      []wire.Value `json:"args,omitempty"`
	Op        StatementOp  `json:"op"`
	ReadsFrom []string     `json:"readsFrom,omitempty"`
	WritesTo  []string     `json:"writesTo,omitempty"`
}

type Request struct {
	Message
	ID        int64       `json:"id"`
	Kind      RequestKind `json:"kind"`
	Statement *Statement  `json:"statement,omitempty"`
	Batch     []Statement `json:"batch,omitempty"`
}

// ErrorKind classifies a failure carried in a Response.
type ErrorKind string

const (
	ErrKindExecutor         ErrorKind = "executorError"
	ErrKindTransactionState ErrorKind = "transactionStateError"
	ErrKindProtocol         ErrorKind = "protocolError"
)

type WireError struct {
	Kind    ErrorKind `json:"errorKind"`
	Message string    `json:"message"`
}

type Response struct {
	Message
	ID     int64       `json:"id"`
	OK     bool        `json:"ok"`
	Result *wire.Value `json:"result,omitempty"`
	Error  *WireError  `json:"error,omitempty"`
}

// WriteKind labels the statement class that caused a notification.
type WriteKind string

const (
	WriteInsert WriteKind = "insert"
	WriteUpdate WriteKind = "update"
	WriteDelete WriteKind = "delete"
)

// Notification is broadcast to every connection after a statement, batch
// or committed transaction touches the named tables.
type Notification struct {
	Message
	Tables    []string  `json:"tables"`
	WriteKind WriteKind `json:"writeKind"`
}
