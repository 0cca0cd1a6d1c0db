//go:build !linux

package delivery

import "log/slog"

// platformCopier reports no kernel copy capability on this platform;
// the engine uses the portable buffered loop for every transfer.
func platformCopier(chunk int64, log *slog.Logger) rawCopier {
	return nil
}
