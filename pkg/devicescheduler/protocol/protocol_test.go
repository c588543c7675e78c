package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest_QuotaRoundTrip(t *testing.T) {
	req := Request{
		ClientName: "container-7",
		ReqID:      42,
		Kind:       ReqQuota,
		Overuse:    3.5,
		Burst:      210.25,
	}
	buf := EncodeRequest(req)
	assert.Len(t, buf, ReqMsgLen)

	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req.ClientName, got.ClientName)
	assert.Equal(t, req.ReqID, got.ReqID)
	assert.Equal(t, req.Kind, got.Kind)
	assert.InDelta(t, req.Overuse, got.Overuse, 1e-9)
	assert.InDelta(t, req.Burst, got.Burst, 1e-9)
}

func TestRequest_MemUpdateRoundTrip(t *testing.T) {
	req := Request{
		ClientName: "container-x",
		ReqID:      7,
		Kind:       ReqMemUpdate,
		Bytes:      1 << 20,
		IsAllocate: true,
	}
	buf := EncodeRequest(req)
	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, req.Bytes, got.Bytes)
	assert.True(t, got.IsAllocate)

	req.IsAllocate = false
	buf = EncodeRequest(req)
	got, err = DecodeRequest(buf)
	require.NoError(t, err)
	assert.False(t, got.IsAllocate)
}

func TestRequest_MemLimitRoundTrip(t *testing.T) {
	req := Request{ClientName: "c", ReqID: 99, Kind: ReqMemLimit}
	buf := EncodeRequest(req)
	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, ReqMemLimit, got.Kind)
	assert.Equal(t, uint64(99), got.ReqID)
}

func TestRequest_ClientNameTruncatedAtNulTerminator(t *testing.T) {
	buf := EncodeRequest(Request{ClientName: "short", Kind: ReqMemLimit})
	got, err := DecodeRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, "short", got.ClientName)
	assert.NotContains(t, got.ClientName, "\x00")
}

func TestDecodeRequest_RejectsWrongSize(t *testing.T) {
	_, err := DecodeRequest(make([]byte, ReqMsgLen-1))
	assert.Error(t, err)
}

func TestResponse_QuotaRoundTrip(t *testing.T) {
	rsp := Response{ReqID: 123, Kind: ReqQuota, QuotaMs: 225.0}
	buf := EncodeResponse(rsp)
	assert.Len(t, buf, RspMsgLen)

	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, rsp.ReqID, got.ReqID)
	assert.Equal(t, rsp.Kind, got.Kind)
	assert.InDelta(t, rsp.QuotaMs, got.QuotaMs, 1e-9)
}

func TestResponse_MemLimitRoundTrip(t *testing.T) {
	rsp := Response{ReqID: 5, Kind: ReqMemLimit, MemUsed: 2048, MemLimit: 8192}
	buf := EncodeResponse(rsp)
	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.Equal(t, rsp.MemUsed, got.MemUsed)
	assert.Equal(t, rsp.MemLimit, got.MemLimit)
}

func TestResponse_MemUpdateVerdictRoundTrip(t *testing.T) {
	rsp := Response{ReqID: 6, Kind: ReqMemUpdate, Verdict: true}
	buf := EncodeResponse(rsp)
	got, err := DecodeResponse(buf)
	require.NoError(t, err)
	assert.True(t, got.Verdict)

	rsp.Verdict = false
	buf = EncodeResponse(rsp)
	got, err = DecodeResponse(buf)
	require.NoError(t, err)
	assert.False(t, got.Verdict)
}

func TestDecodeResponse_RejectsWrongSize(t *testing.T) {
	_, err := DecodeResponse(make([]byte, RspMsgLen+1))
	assert.Error(t, err)
}
