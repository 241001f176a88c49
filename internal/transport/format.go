package transport

import (
	"fmt"
	"time"
)

func FormatBytesMiB(n int) string {
	if n <= 0 {
		return "0B"
	}
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%dMiB", n/mib)
	}
	return fmt.Sprintf("%dB", n)
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatRate renders bytes over elapsed as MiB/s.
func FormatRate(n int64, elapsed time.Duration) string {
	if elapsed <= 0 {
		return "0.00 MiB/s"
	}
	return fmt.Sprintf("%.2f MiB/s", float64(n)/(1024*1024)/elapsed.Seconds())
}
