package transfer

const (
	// DefaultChunkSize is the largest single write to the outbound stream.
	DefaultChunkSize = 1024
	// DefaultReadAhead is how many chunks a worker may buffer ahead of its turn.
	DefaultReadAhead = 16

	maxChunkSize = 16 * 1024 * 1024
	maxReadAhead = 256
)

// ProgressFn reports that n bytes of segment were just written to the stream.
// It is called from the drain loop, in stream order.
type ProgressFn func(segment int, n int64)

// Options configures a segmented send.
type Options struct {
	ChunkSize  int
	ReadAhead  int
	ProgressFn ProgressFn
}

// NormalizeOptions applies defaults and clamps.
func NormalizeOptions(opts Options) Options {
	out := opts
	if out.ChunkSize <= 0 {
		out.ChunkSize = DefaultChunkSize
	}
	if out.ChunkSize > maxChunkSize {
		out.ChunkSize = maxChunkSize
	}
	if out.ReadAhead <= 0 {
		out.ReadAhead = DefaultReadAhead
	}
	if out.ReadAhead > maxReadAhead {
		out.ReadAhead = maxReadAhead
	}
	return out
}
