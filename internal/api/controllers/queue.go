package controllers

import (
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/labstack/echo/v5"

	"github.com/datallboy/gocdse/internal/app"
	"github.com/datallboy/gocdse/internal/domain"
	"github.com/datallboy/gocdse/internal/engine"
)

type QueueController struct {
	App   *app.Context
	Batch *engine.Batch
}

type statusResponse struct {
	Summary engine.Summary        `json:"summary"`
	Active  *domain.QueueItemView `json:"active,omitempty"`
}

// HandleStatus reports the counters of the current run and the item downloading now.
func (ctrl *QueueController) HandleStatus(c *echo.Context) error {
	resp := statusResponse{Summary: ctrl.Batch.Summary()}
	if active, ok := ctrl.Batch.ActiveItem(); ok {
		resp.Active = &active
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleList merges live batch items with recorded history. ?status=failed,skipped filters.
func (ctrl *QueueController) HandleList(c *echo.Context) error {
	statuses, err := parseStatuses(c.QueryParam("status"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	history, err := ctrl.App.Store.ListQueueItems(c.Request().Context(), statuses...)
	if err != nil {
		ctrl.App.Logger.Error("Failed to list queue history: %v", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read queue history")
	}

	// Live items are fresher than what was last persisted
	byID := make(map[string]domain.QueueItemView)
	for _, item := range history {
		byID[item.ID] = item.View()
	}
	for _, view := range ctrl.Batch.Items(statuses...) {
		byID[view.ID] = view
	}

	items := make([]domain.QueueItemView, 0, len(byID))
	for _, v := range byID {
		items = append(items, v)
	}
	slices.SortFunc(items, func(a, b domain.QueueItemView) int {
		return strings.Compare(a.ID, b.ID)
	})

	return c.JSON(http.StatusOK, items)
}

func (ctrl *QueueController) HandleGet(c *echo.Context) error {
	id := c.Param("id")

	if view, ok := ctrl.Batch.GetItem(id); ok {
		return c.JSON(http.StatusOK, view)
	}

	item, err := ctrl.App.Store.GetQueueItem(c.Request().Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "Queue item not found")
	}
	if err != nil {
		ctrl.App.Logger.Error("Failed to fetch queue item %s: %v", id, err)
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to read queue item")
	}

	return c.JSON(http.StatusOK, item.View())
}

// HandleCancel stops the item's download; the batch moves on to the next product.
func (ctrl *QueueController) HandleCancel(c *echo.Context) error {
	id := c.Param("id")
	if !ctrl.Batch.Cancel(id) {
		return echo.NewHTTPError(http.StatusConflict, "Item is not downloading")
	}
	ctrl.App.Logger.Info("Cancel requested for queue item %s", id)
	return c.NoContent(http.StatusAccepted)
}

func parseStatuses(raw string) ([]domain.JobStatus, error) {
	if raw == "" {
		return nil, nil
	}

	var statuses []domain.JobStatus
	for _, part := range strings.Split(raw, ",") {
		st, ok := domain.ParseJobStatus(strings.TrimSpace(part))
		if !ok {
			return nil, errors.New("unknown status: " + part)
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
