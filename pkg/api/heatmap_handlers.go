package api

import (
	"net/http"

	"github.com/alignex/entitlements/pkg/allocation"
	"github.com/alignex/entitlements/pkg/httputil"
)

type heatmapRequest struct {
	Tasks []allocation.Task `json:"tasks"`
}

type heatmapResponse struct {
	Cells []allocation.WeekLoad `json:"cells"`
}

// allocationHeatmap aggregates scheduled tasks into per-resource weekly
// hour totals for the allocation grid.
func (s *Server) allocationHeatmap(w http.ResponseWriter, r *http.Request) {
	var req heatmapRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Tasks) == 0 {
		httputil.WriteBadRequest(w, "tasks are required")
		return
	}
	for _, task := range req.Tasks {
		if task.Resource == "" {
			httputil.WriteBadRequest(w, "every task needs a resource")
			return
		}
		if task.Start.IsZero() || task.End.IsZero() {
			httputil.WriteBadRequest(w, "every task needs start and end dates")
			return
		}
	}

	cells := allocation.Aggregate(req.Tasks)
	if cells == nil {
		cells = []allocation.WeekLoad{}
	}
	httputil.WriteJSON(w, http.StatusOK, heatmapResponse{Cells: cells})
}
