package summary

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.GET("/attendance/daily-summary", h.DailySummary)
	r.GET("/attendance/monthly-salary", h.MonthlySalary)
	r.GET("/dashboard/summary", h.Dashboard)
	r.GET("/sites/:site_id/attendance/today", h.SiteToday)
}

func (h *Handler) DailySummary(c *gin.Context) {
	id, ok := queryID(c, "worker_id")
	if !ok {
		return
	}
	q := DailySummaryQuery{WorkerID: id}
	for key, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := c.Query(key)
		if v == "" {
			continue
		}
		t, err := parseBound(v, key == "to")
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, key+" must be RFC3339 or YYYY-MM-DD"))
			return
		}
		*dst = &t
	}
	res, err := h.svc.DailyWorkSummary(c.Request.Context(), q)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MonthlySalary(c *gin.Context) {
	id, ok := queryID(c, "worker_id")
	if !ok {
		return
	}
	year, err1 := strconv.Atoi(c.Query("year"))
	month, err2 := strconv.Atoi(c.Query("month"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "year and month are required"))
		return
	}
	res, err := h.svc.MonthlySalary(c.Request.Context(), id, year, month)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Dashboard(c *gin.Context) {
	id, ok := queryID(c, "owner_id")
	if !ok {
		return
	}
	res, err := h.svc.DashboardSummaryForOwner(c.Request.Context(), id)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) SiteToday(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("site_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid site_id"))
		return
	}
	res, err := h.svc.SiteDailyAttendance(c.Request.Context(), id)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

// ===== helpers =====

func queryID(c *gin.Context, key string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, key+" is required"))
		return 0, false
	}
	return id, true
}

// parseBound: 日付だけなら to は当日の終わりまで含める
func parseBound(v string, endOfDay bool) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseInLocation(DateLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	return d, nil
}

type errDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errDTO {
	var e errDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

func errorFromErr(err error) errDTO {
	if api, ok := err.(*APIError); ok {
		return errorBody(api.Code, api.Message)
	}
	return errorBody(CodeInternal, "internal error")
}
