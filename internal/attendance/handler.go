package attendance

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type Handler struct{ svc *Service }

func RegisterRoutes(r gin.IRoutes, svc *Service) {
	h := &Handler{svc: svc}

	r.POST("/attendance/check-in", h.CheckIn)
	r.POST("/attendance/check-out", h.CheckOut)

	// face
	r.POST("/attendance/checkin-face", h.CheckInByFace)
	r.POST("/attendance/checkout-face", h.CheckOutByFace)
	r.POST("/attendance/register-face", h.RegisterFace)

	r.GET("/attendance/today", h.Today)
	r.GET("/attendance/sessions", h.ListSessions)
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CheckIn(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) CheckOut(c *gin.Context) {
	var req CheckOutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json"))
		return
	}
	res, err := h.svc.CheckOut(c.Request.Context(), req)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CheckInByFace(c *gin.Context) {
	photo, ok := readPhoto(c)
	if !ok {
		return
	}
	siteID, ok := formUint(c, "site_id")
	if !ok {
		return
	}
	res, err := h.svc.CheckInByFace(c.Request.Context(), photo, siteID)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) CheckOutByFace(c *gin.Context) {
	photo, ok := readPhoto(c)
	if !ok {
		return
	}
	siteID, ok := formUint(c, "site_id")
	if !ok {
		return
	}
	res, err := h.svc.CheckOutByFace(c.Request.Context(), photo, siteID)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) RegisterFace(c *gin.Context) {
	photo, ok := readPhoto(c)
	if !ok {
		return
	}
	res, err := h.svc.RegisterFace(c.Request.Context(), c.PostForm("worker_code"), photo)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Today(c *gin.Context) {
	id, err := strconv.ParseUint(c.Query("worker_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "worker_id is required"))
		return
	}
	res, err := h.svc.Today(c.Request.Context(), id)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ListSessions(c *gin.Context) {
	id, err := strconv.ParseUint(c.Query("worker_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "worker_id is required"))
		return
	}
	q := ListQuery{
		WorkerID: id,
		Limit:    atoiDef(c.Query("limit"), DefaultPageLimit),
		Offset:   atoiDef(c.Query("offset"), 0),
	}
	if v := c.Query("site_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			q.SiteID = &n
		}
	}
	items, total, err := h.svc.ListSessions(c.Request.Context(), q)
	if err != nil {
		c.JSON(toHTTPStatus(err), errorFromErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "next_offset": nextOffset(total, q)})
}

// ===== helpers =====

// readPhoto は multipart の "file" を読む。失敗時はレスポンス済み
func readPhoto(c *gin.Context) ([]byte, bool) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "file is required"))
		return nil, false
	}
	if fh.Size > MaxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody(CodeInvalidArgument, "file too large"))
		return nil, false
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "cannot read file"))
		return nil, false
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, MaxPhotoBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "cannot read file"))
		return nil, false
	}
	return b, true
}

// formUint: 空は 0
func formUint(c *gin.Context, key string) (uint64, bool) {
	v := c.PostForm(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid "+key))
		return 0, false
	}
	return n, true
}

func atoiDef(s string, d int) int {
	if s == "" {
		return d
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return n
}

func nextOffset(total int64, q ListQuery) int {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	n := q.Offset + limit
	if n >= int(total) {
		return 0
	}
	return n
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
