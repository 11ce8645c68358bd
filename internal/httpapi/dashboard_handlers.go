package httpapi

import (
	"net/http"

	"apicatalog.org/internal/activity"
)

type activityView struct {
	activity.Activity
	RelativeTime string `json:"relativeTime"`
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireAdmin(w, r); !ok {
		return
	}
	if a.dashboard == nil {
		writeError(w, r, http.StatusServiceUnavailable, "dashboard unavailable")
		return
	}
	writeJSON(w, http.StatusOK, a.dashboard.Summary(r.Context()))
}

func (a *API) recentActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := requirePrincipal(w, r); !ok {
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 10, 1, 100)
	if err != nil {
		writeErrorCode(w, r, http.StatusBadRequest, "validation", "limit "+err.Error())
		return
	}
	if a.activity == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []activityView{}})
		return
	}
	acts, err := a.activity.Recent(r.Context(), limit, activity.ParseTypes(r.URL.Query().Get("types"))...)
	if err != nil {
		handleError(w, r, err)
		return
	}
	now := a.now()
	items := make([]activityView, 0, len(acts))
	for _, act := range acts {
		items = append(items, activityView{Activity: act, RelativeTime: activity.RelativeTime(act.Timestamp, now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
