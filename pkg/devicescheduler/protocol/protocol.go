// Package protocol implements the fixed-size request/response frames
// exchanged with the pod-manager / hook-library side of the system
// (spec.md §6). The framing is a compatibility requirement: existing hook
// libraries depend on the exact byte layout, so every field here is
// little-endian fixed-width, matching the original C ABI's
// `struct { char name[HOST_NAME_MAX]; ... }` layout bit-for-bit.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

func float64FromBits(bits uint64) float64 { return math.Float64frombits(bits) }

// RequestKind identifies which of the three recognized request shapes a
// frame carries.
type RequestKind uint32

const (
	ReqQuota     RequestKind = 0
	ReqMemLimit  RequestKind = 1
	ReqMemUpdate RequestKind = 2
)

const (
	// ClientNameLen mirrors HOST_NAME_MAX on Linux.
	ClientNameLen = 64
	payloadLen    = 16

	// ReqMsgLen is the fixed size of every request frame.
	ReqMsgLen = ClientNameLen + 8 /* req_id */ + 4 /* kind */ + payloadLen
	// RspMsgLen is the fixed size of every response frame.
	RspMsgLen = 8 /* req_id */ + 4 /* kind */ + payloadLen
)

// Request is a decoded fixed-length request frame.
type Request struct {
	ClientName string
	ReqID      uint64
	Kind       RequestKind

	// Populated according to Kind.
	Overuse    float64 // REQ_QUOTA
	Burst      float64 // REQ_QUOTA
	Bytes      uint64  // REQ_MEM_UPDATE
	IsAllocate bool    // REQ_MEM_UPDATE
}

func encodePayload(kind RequestKind, fields ...interface{}) []byte {
	buf := make([]byte, payloadLen)
	w := bytes.NewBuffer(buf[:0])
	for _, f := range fields {
		binary.Write(w, binary.LittleEndian, f)
	}
	return buf
}

// DecodeRequest parses a ReqMsgLen-byte frame.
func DecodeRequest(buf []byte) (Request, error) {
	if len(buf) != ReqMsgLen {
		return Request{}, fmt.Errorf("protocol: request frame must be %d bytes, got %d", ReqMsgLen, len(buf))
	}
	var req Request
	req.ClientName = string(bytes.TrimRight(buf[:ClientNameLen], "\x00"))

	rest := buf[ClientNameLen:]
	req.ReqID = binary.LittleEndian.Uint64(rest[0:8])
	req.Kind = RequestKind(binary.LittleEndian.Uint32(rest[8:12]))
	payload := rest[12 : 12+payloadLen]

	switch req.Kind {
	case ReqQuota:
		req.Overuse = float64FromBits(binary.LittleEndian.Uint64(payload[0:8]))
		req.Burst = float64FromBits(binary.LittleEndian.Uint64(payload[8:16]))
	case ReqMemUpdate:
		req.Bytes = binary.LittleEndian.Uint64(payload[0:8])
		req.IsAllocate = int32(binary.LittleEndian.Uint32(payload[8:12])) != 0
	case ReqMemLimit:
		// no payload
	}
	return req, nil
}

// EncodeRequest renders a Request back into a ReqMsgLen-byte frame.
// Mainly used by tests and by a reference client.
func EncodeRequest(req Request) []byte {
	buf := make([]byte, ReqMsgLen)
	copy(buf[:ClientNameLen], req.ClientName)

	binary.LittleEndian.PutUint64(buf[ClientNameLen:ClientNameLen+8], req.ReqID)
	binary.LittleEndian.PutUint32(buf[ClientNameLen+8:ClientNameLen+12], uint32(req.Kind))

	var payload []byte
	switch req.Kind {
	case ReqQuota:
		payload = encodePayload(req.Kind, req.Overuse, req.Burst)
	case ReqMemUpdate:
		isAlloc := int32(0)
		if req.IsAllocate {
			isAlloc = 1
		}
		payload = encodePayload(req.Kind, req.Bytes, isAlloc)
	default:
		payload = make([]byte, payloadLen)
	}
	copy(buf[ClientNameLen+12:], payload)
	return buf
}

// Response is a decoded fixed-length response frame.
type Response struct {
	ReqID uint64
	Kind  RequestKind

	QuotaMs  float64 // REQ_QUOTA
	MemUsed  uint64  // REQ_MEM_LIMIT
	MemLimit uint64  // REQ_MEM_LIMIT
	Verdict  bool    // REQ_MEM_UPDATE
}

// EncodeResponse renders a Response into an RspMsgLen-byte frame, echoing
// ReqID exactly as the request carried it.
func EncodeResponse(rsp Response) []byte {
	buf := make([]byte, RspMsgLen)
	binary.LittleEndian.PutUint64(buf[0:8], rsp.ReqID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rsp.Kind))

	var payload []byte
	switch rsp.Kind {
	case ReqQuota:
		payload = encodePayload(rsp.Kind, rsp.QuotaMs)
	case ReqMemLimit:
		payload = encodePayload(rsp.Kind, rsp.MemUsed, rsp.MemLimit)
	case ReqMemUpdate:
		v := int32(0)
		if rsp.Verdict {
			v = 1
		}
		payload = encodePayload(rsp.Kind, v)
	default:
		payload = make([]byte, payloadLen)
	}
	copy(buf[12:], payload)
	return buf
}

// DecodeResponse parses an RspMsgLen-byte frame. Mainly used by tests and by
// a reference client driving the server end-to-end.
func DecodeResponse(buf []byte) (Response, error) {
	if len(buf) != RspMsgLen {
		return Response{}, fmt.Errorf("protocol: response frame must be %d bytes, got %d", RspMsgLen, len(buf))
	}
	var rsp Response
	rsp.ReqID = binary.LittleEndian.Uint64(buf[0:8])
	rsp.Kind = RequestKind(binary.LittleEndian.Uint32(buf[8:12]))
	payload := buf[12 : 12+payloadLen]

	switch rsp.Kind {
	case ReqQuota:
		rsp.QuotaMs = float64FromBits(binary.LittleEndian.Uint64(payload[0:8]))
	case ReqMemLimit:
		rsp.MemUsed = binary.LittleEndian.Uint64(payload[0:8])
		rsp.MemLimit = binary.LittleEndian.Uint64(payload[8:16])
	case ReqMemUpdate:
		rsp.Verdict = int32(binary.LittleEndian.Uint32(payload[0:4])) != 0
	}
	return rsp, nil
}
