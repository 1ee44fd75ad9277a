package syncing

import "github.com/scribepad/scribepad/backend/internal/docs"

// Wire message discriminators. The same values are used inbound and
// outbound.
const (
	MsgTypeChange      = "change"
	MsgTypeFetchList   = "fetchList"
	MsgTypeOfflineSync = "offlineChangeSync"
)

// Envelope is the inbound wire message. CallbackID, when present, is echoed
// back on the direct response so the client can correlate request and
// response; it is stripped from anything broadcast to other clients.
type Envelope struct {
	MsgType       string   `json:"msgType"`
	CallbackID    string   `json:"callbackId,omitempty"`
	Change        *Change  `json:"change,omitempty"`
	LastTimestamp *int64   `json:"lastTimestamp,omitempty"`
	Changes       []Change `json:"changes,omitempty"`
}

// ChangeMessage carries a single accepted change to clients.
type ChangeMessage struct {
	MsgType    string `json:"msgType"`
	CallbackID string `json:"callbackId,omitempty"`
	Change     Change `json:"change"`
}

// ListMessage carries the full current document set plus the journal's
// latest timestamp, which clients use as their next sync cursor.
// LastTimestamp is absent while the journal is empty.
type ListMessage struct {
	MsgType       string      `json:"msgType"`
	CallbackID    string      `json:"callbackId,omitempty"`
	List          []docs.View `json:"list"`
	LastTimestamp *int64      `json:"lastTimestamp,omitempty"`
}

// SyncAckMessage acknowledges an offline batch sync with an explicit
// success flag.
type SyncAckMessage struct {
	MsgType    string `json:"msgType"`
	CallbackID string `json:"callbackId,omitempty"`
	Success    bool   `json:"success"`
}
