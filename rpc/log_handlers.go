package rpc

import (
	"fmt"
	"net/http"
)

const (
	defaultLogRangeLimit = 100
	maxLogRangeLimit     = 1000
)

type logRangeParams struct {
	From  uint64 `json:"from"`
	Limit int    `json:"limit"`
}

func (s *Server) handleLogRange(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params logRangeParams
	if !decodeParams(w, req, &params) {
		return
	}
	limit := params.Limit
	switch {
	case limit < 0:
		writeInvalidParams(w, req, fmt.Errorf("limit must not be negative"))
		return
	case limit == 0:
		limit = defaultLogRangeLimit
	case limit > maxLogRangeLimit:
		limit = maxLogRangeLimit
	}
	records, err := s.node.LogRange(r.Context(), params.From, limit)
	if err != nil {
		s.writeEngineError(w, r, req, err)
		return
	}
	result := LogRangeResult{Records: make([]LogRecordResult, 0, len(records)), Next: params.From}
	for _, record := range records {
		result.Records = append(result.Records, LogRecord(record))
		result.Next = record.Sequence + 1
	}
	writeResult(w, req.ID, result)
}
