package services

import (
	"context"
	"fmt"

	"github.com/dukex/procflow/pkg/models"
)

// approvalJournal holds the approval writes of one engine operation that no instance
// save has covered yet. When the instance save fails they are undone, so a request is
// never left decided for an instance that did not move.
type approvalJournal struct {
	entries []journalEntry
}

type journalEntry struct {
	// previous is nil when the write created the request.
	previous *models.ApprovalRequest
	written  *models.ApprovalRequest
}

type journalKey struct{}

func withApprovalJournal(ctx context.Context) (context.Context, *approvalJournal) {
	journal := &approvalJournal{}

	return context.WithValue(ctx, journalKey{}, journal), journal
}

func journalFrom(ctx context.Context) *approvalJournal {
	journal, _ := ctx.Value(journalKey{}).(*approvalJournal)

	return journal
}

func (j *approvalJournal) commit() {
	if j != nil {
		j.entries = nil
	}
}

// saveApproval stores request. previous is the stored version before this operation
// changed it, or nil for a new request.
func (e *Engine) saveApproval(ctx context.Context, request, previous *models.ApprovalRequest) error {
	err := e.persistence.ApprovalRepository().Save(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to save approval request %s: %w", request.ID, err)
	}

	if journal := journalFrom(ctx); journal != nil {
		journal.entries = append(journal.entries, journalEntry{previous: previous, written: request.Clone()})
	}

	return nil
}

// rollbackApprovals restores uncommitted approval writes, newest first. Requests created
// by the operation cannot be deleted and are expired instead.
func (e *Engine) rollbackApprovals(ctx context.Context, journal *approvalJournal) {
	if journal == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)

	for i := len(journal.entries) - 1; i >= 0; i-- {
		entry := journal.entries[i]

		restored := entry.previous
		if restored == nil {
			restored = entry.written.Clone()
			restored.Status = models.ApprovalStatusExpired
		}

		err := e.persistence.ApprovalRepository().Save(ctx, restored)
		if err != nil {
			e.logger.ErrorContext(ctx, "failed to roll back approval request",
				"approval_id", restored.ID,
				"instance_id", restored.InstanceID,
				"error", err,
			)

			continue
		}

		e.logger.WarnContext(ctx, "rolled back approval request", "approval_id", restored.ID, "status", restored.Status)
	}

	journal.entries = nil
}
