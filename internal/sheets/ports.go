package sheets

import (
	"context"

	"risparmi/internal/core"
)

// Ports for outbound backup adapters.
type (
	// DepositAppender appends one deposit row to a user's backup sheet.
	DepositAppender interface {
		AppendDeposit(ctx context.Context, rec core.DepositRecord) (rowRef string, err error)
	}

	// LogMirrorer rewrites a user's whole backup sheet from the given
	// records, replacing whatever was there. Used after deletions and by
	// the scheduled full mirror.
	LogMirrorer interface {
		MirrorLog(ctx context.Context, user string, records []core.DepositRecord) error
	}

	// Exporter is the full backup surface the worker needs.
	Exporter interface {
		DepositAppender
		LogMirrorer
	}
)
