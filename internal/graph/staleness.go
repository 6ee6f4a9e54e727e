package graph

import (
	"sort"
	"time"

	"neuralvault/graphcore/internal/model"
)

const day = 24 * time.Hour

// StaleReview is an unreviewed node waiting longer than the threshold
type StaleReview struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DaysWaiting int64  `json:"days_waiting"`
}

// OverdueTask is an open task past its due date
type OverdueTask struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	DaysOverdue int64  `json:"days_overdue"`
}

// BacklogReport counts review and processing work that has piled up.
type BacklogReport struct {
	Unreviewed        int           `json:"unreviewed"`
	StaleReviews      []StaleReview `json:"stale_reviews"`
	StaleReviewCount  int           `json:"stale_review_count"`
	OverdueTasks      []OverdueTask `json:"overdue_tasks"`
	OverdueTaskCount  int           `json:"overdue_task_count"`
	PendingProcessing int           `json:"pending_processing"`
	EmbeddingErrors   int           `json:"embedding_errors"`
	DirtyEmbeddings   int           `json:"dirty_embeddings"`
}

// ComputeBacklog finds unreviewed nodes older than staleDays, overdue
// tasks and resources whose processing has not finished.
func ComputeBacklog(snap *Snapshot, staleDays int64, now time.Time) *BacklogReport {
	report := &BacklogReport{}
	threshold := time.Duration(staleDays) * day

	for _, id := range snap.NodeIDs() {
		n := snap.Nodes[id]
		if n.ReviewStatus == model.ReviewUnreviewed {
			report.Unreviewed++
			if n.CreatedAt != nil && now.Sub(*n.CreatedAt) > threshold {
				report.StaleReviews = append(report.StaleReviews, StaleReview{
					ID:          id,
					Title:       n.Title,
					DaysWaiting: int64(now.Sub(*n.CreatedAt) / day),
				})
			}
		}
		if t := n.Task; t != nil && t.Status == model.TaskTodo && t.DueDate != nil && now.After(*t.DueDate) {
			report.OverdueTasks = append(report.OverdueTasks, OverdueTask{
				ID:          id,
				Title:       n.Title,
				DaysOverdue: int64(now.Sub(*t.DueDate) / day),
			})
		}
		if n.Type == model.NodeResource && n.ProcessingStage != model.StageDone {
			report.PendingProcessing++
		}
		switch n.EmbeddingStatus {
		case model.EmbeddingError:
			report.EmbeddingErrors++
		case model.EmbeddingDirty:
			report.DirtyEmbeddings++
		}
	}

	sort.SliceStable(report.StaleReviews, func(i, j int) bool {
		return report.StaleReviews[i].DaysWaiting > report.StaleReviews[j].DaysWaiting
	})
	sort.SliceStable(report.OverdueTasks, func(i, j int) bool {
		return report.OverdueTasks[i].DaysOverdue > report.OverdueTasks[j].DaysOverdue
	})
	report.StaleReviewCount = len(report.StaleReviews)
	report.OverdueTaskCount = len(report.OverdueTasks)
	return report
}
