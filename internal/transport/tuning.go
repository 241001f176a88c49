package transport

import (
	"fmt"
	"net"
	"strings"

	"github.com/quic-go/quic-go"
)

// Tuning result statuses.
const (
	StatusOK     = "ok"
	StatusNA     = "n/a"
	StatusDenied = "denied"
)

const (
	minUDPBuffer = 256 * 1024
	maxUDPBuffer = 64 * 1024 * 1024

	minQuicConnWindow   = 1 * 1024 * 1024
	maxQuicConnWindow   = 1024 * 1024 * 1024
	minQuicStreamWindow = 1 * 1024 * 1024
	maxQuicStreamWindow = 256 * 1024 * 1024
	minQuicMaxStreams   = 1
	maxQuicMaxStreams   = 2048
)

// UdpTuneResult describes a socket buffer request.
type UdpTuneResult struct {
	RequestedR int
	RequestedW int
	Status     string
	Err        string
}

// ApplyUDPBeyondBestEffort asks the kernel for larger UDP socket buffers.
// Denials are reported, not returned: QUIC still works with the defaults.
func ApplyUDPBeyondBestEffort(conn *net.UDPConn, r, w int) UdpTuneResult {
	result := UdpTuneResult{
		RequestedR: clampUDPBuffer(r),
		RequestedW: clampUDPBuffer(w),
		Status:     StatusOK,
	}
	if conn == nil {
		result.Status = StatusNA
		result.Err = "no access to underlying UDPConn"
		return result
	}

	var errs []string
	if err := conn.SetReadBuffer(result.RequestedR); err != nil {
		errs = append(errs, "read: "+err.Error())
	}
	if err := conn.SetWriteBuffer(result.RequestedW); err != nil {
		errs = append(errs, "write: "+err.Error())
	}
	if len(errs) > 0 {
		result.Status = StatusDenied
		result.Err = strings.Join(errs, "; ")
	}
	return result
}

func (r UdpTuneResult) String() string {
	line := fmt.Sprintf("requested r=%s w=%s status=%s",
		FormatBytesMiB(r.RequestedR), FormatBytesMiB(r.RequestedW), normalizeStatus(r.Status))
	if r.Err != "" {
		line += " err=" + r.Err
	}
	return line
}

// QuicTuneResult records the flow-control windows actually configured.
type QuicTuneResult struct {
	ConnWin    int
	StreamWin  int
	MaxStreams int
	Status     string
}

// BuildQuicConfig copies base and applies clamped receive windows. A zero
// window keeps the base value.
func BuildQuicConfig(base *quic.Config, connWin, streamWin, maxStreams int) (*quic.Config, QuicTuneResult) {
	cfg := &quic.Config{}
	if base != nil {
		copyCfg := *base
		cfg = &copyCfg
	}

	if connWin <= 0 {
		connWin = int(cfg.MaxConnectionReceiveWindow)
	}
	if streamWin <= 0 {
		streamWin = int(cfg.MaxStreamReceiveWindow)
	}
	conn := clamp(connWin, minQuicConnWindow, maxQuicConnWindow)
	stream := clamp(streamWin, minQuicStreamWindow, maxQuicStreamWindow)
	maxStr := clamp(maxStreams, minQuicMaxStreams, maxQuicMaxStreams)

	initialConn := int(cfg.InitialConnectionReceiveWindow)
	if initialConn <= 0 || initialConn > conn {
		initialConn = conn
	}
	initialStream := int(cfg.InitialStreamReceiveWindow)
	if initialStream <= 0 || initialStream > stream {
		initialStream = stream
	}
	cfg.InitialConnectionReceiveWindow = uint64(initialConn)
	cfg.MaxConnectionReceiveWindow = uint64(conn)
	cfg.InitialStreamReceiveWindow = uint64(initialStream)
	cfg.MaxStreamReceiveWindow = uint64(stream)
	cfg.MaxIncomingStreams = int64(maxStr)

	return cfg, QuicTuneResult{
		ConnWin:    conn,
		StreamWin:  stream,
		MaxStreams: maxStr,
		Status:     StatusOK,
	}
}

func (r QuicTuneResult) String() string {
	return fmt.Sprintf("conn_window=%s stream_window=%s max_streams=%d status=%s",
		FormatBytesMiB(r.ConnWin), FormatBytesMiB(r.StreamWin), r.MaxStreams, normalizeStatus(r.Status))
}

func clampUDPBuffer(n int) int {
	return clamp(n, minUDPBuffer, maxUDPBuffer)
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

func normalizeStatus(status string) string {
	if status == "" {
		return StatusNA
	}
	return status
}
