package syncer

import (
	"fmt"
	"time"
)

// SyncError records one failed item inside a sync pass.
type SyncError struct {
	Item    string `json:"item"`
	Message string `json:"message"`
}

// Report summarizes one synchronization pass for a server. A report is
// always produced, even when the pass aborted early.
type Report struct {
	ServerID       uint        `json:"serverId"`
	InboundsSynced int         `json:"inboundsSynced"`
	ClientsSynced  int         `json:"clientsSynced"`
	OnlineUpdated  int         `json:"onlineUpdated"`
	Aborted        bool        `json:"aborted"`
	Errors         []SyncError `json:"errors,omitempty"`
	StartedAt      time.Time   `json:"startedAt"`
	FinishedAt     time.Time   `json:"finishedAt"`
}

func newReport(serverID uint) *Report {
	return &Report{ServerID: serverID, StartedAt: time.Now()}
}

func (r *Report) addError(item, format string, args ...any) {
	r.Errors = append(r.Errors, SyncError{Item: item, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) finish() *Report {
	r.FinishedAt = time.Now()
	return r
}

// Partial reports whether the pass completed but had item-level failures.
func (r *Report) Partial() bool {
	return !r.Aborted && len(r.Errors) > 0
}
