package hqsync

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
)

// TriggerHandler requests one reconciliation pass. Always 202: a pass
// already queued or running satisfies the request.
func TriggerHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		accepted := scheduler.ScheduleSync(c.Request.Context(), models.SyncTriggeredManual)
		c.JSON(http.StatusAccepted, gin.H{
			"status":  "accepted",
			"started": accepted,
		})
	}
}

// HistoryHandler lists recent sync runs, newest first.
func HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := utils.GetStoreIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		runs, err := models.ListSyncRuns(c.Request.Context(), storeId, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp := SyncHistoryResponse{Items: []SyncRunResponse{}}
		for _, run := range runs {
			resp.Items = append(resp.Items, toSyncRunResponse(run))
		}
		c.JSON(http.StatusOK, resp)
	}
}

// RunDetailHandler returns one run with its error-queue rows.
func RunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeId, ok := utils.GetStoreIdFromContext(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		runId, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		run, recordErrors, err := models.GetSyncRunWithErrors(c.Request.Context(), storeId, uint(runId))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "sync run not found"})
			return
		}
		resp := SyncRunDetailResponse{
			SyncRunResponse: toSyncRunResponse(*run),
			Errors:          []SyncErrorResponse{},
		}
		for _, recErr := range recordErrors {
			resp.Errors = append(resp.Errors, SyncErrorResponse{
				ID:         recErr.ID,
				RecordKind: string(recErr.RecordKind),
				LocalId:    recErr.LocalId,
				ErrorCode:  recErr.ErrorCode,
				Message:    recErr.Message,
				Retryable:  recErr.Retryable,
			})
		}
		c.JSON(http.StatusOK, resp)
	}
}

// RetryRecordHandler puts one FAILED record back in the queue and
// schedules a pass. Operator action from the error screen.
func RetryRecordHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := utils.GetStoreIdFromContext(c.Request.Context()); !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		kind := models.RecordKind(c.Param("kind"))
		localId := c.Param("localId")

		var model interface{}
		switch kind {
		case models.RecordKindBatch:
			model = &models.Batch{}
		case models.RecordKindTransaction:
			model = &models.SalesTransaction{}
		case models.RecordKindRefund:
			model = &models.Refund{}
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record kind"})
			return
		}

		affected, err := models.RequeueFailed(scheduler.DB, model, localId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if affected == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no failed record with that id"})
			return
		}
		scheduler.ScheduleSync(c.Request.Context(), models.SyncTriggeredRetry)
		c.JSON(http.StatusOK, gin.H{"status": "requeued"})
	}
}

func toSyncRunResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
