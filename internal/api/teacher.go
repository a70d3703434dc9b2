package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"chainattend/internal/chain"
	"chainattend/internal/datecode"
)

// ---------- Teacher panel ----------

func (h *Handler) TeacherPanel(c *gin.Context) {
	sess := sessionFrom(c)
	v := h.panels.Teacher(sess).View()
	c.JSON(http.StatusOK, gin.H{"panel": v, "students": sess.Roster(), "status": v.Status})
}

func (h *Handler) ListStudents(c *gin.Context) {
	t := h.panels.Teacher(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	roster, err := t.RefreshRoster(ctx)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": roster, "status": t.View().Status})
}

type registerRequest struct {
	Account string `json:"account"`
}

// RegisterStudent submits a registration and waits for it to be mined.
func (h *Handler) RegisterStudent(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalid("Enter a student address"), nil)
		return
	}
	sess := sessionFrom(c)
	t := h.panels.Teacher(sess)
	ctx, cancel := h.callCtx(c)
	defer cancel()
	rcpt, err := t.RegisterStudent(ctx, req.Account)
	h.writeResult(c, rcpt, err, gin.H{"students": sess.Roster(), "status": t.View().Status})
}

type bulkRequest struct {
	// Addresses holds one address per line.
	Addresses string `json:"addresses"`
}

func (h *Handler) RegisterStudents(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalid("Please enter student addresses"), nil)
		return
	}
	sess := sessionFrom(c)
	t := h.panels.Teacher(sess)
	ctx, cancel := h.callCtx(c)
	defer cancel()
	rcpt, err := t.RegisterStudents(ctx, req.Addresses)
	h.writeResult(c, rcpt, err, gin.H{"students": sess.Roster(), "status": t.View().Status})
}

type markRequest struct {
	Student string `json:"student"`
	Date    string `json:"date"`
	Present *bool  `json:"present"`
}

// MarkAttendance records presence. Date defaults to today (UTC).
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalid("Select a student"), nil)
		return
	}
	if req.Present == nil {
		h.fail(c, invalid("Choose Present or Absent"), nil)
		return
	}
	t := h.panels.Teacher(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	rcpt, err := t.MarkAttendance(ctx, req.Student, h.dateOrToday(req.Date), *req.Present)
	h.writeResult(c, rcpt, err, gin.H{"status": t.View().Status})
}

func (h *Handler) CheckAttendance(c *gin.Context) {
	t := h.panels.Teacher(sessionFrom(c))
	date := h.dateOrToday(c.Query("date"))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	present, err := t.CheckAttendance(ctx, c.Query("student"), date)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "present": present, "status": presenceText(date, present)})
}

func (h *Handler) StudentRegistered(c *gin.Context) {
	t := h.panels.Teacher(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	ok, err := t.CheckRegistration(ctx, c.Param("address"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": ok, "status": t.View().Status})
}

func (h *Handler) StudentDates(c *gin.Context) {
	t := h.panels.Teacher(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	dates, err := t.StudentDates(ctx, c.Param("address"))
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates, "status": t.View().Status})
}

// ---------- Journal ----------

func (h *Handler) ListJournal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "journal not configured", "status": "Error: journal not configured"})
		return
	}
	limit, offset := 50, 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	entries, err := h.journal.List(c.Request.Context(), c.Query("account"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "status": "Error: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "status": ""})
}

// writeResult reports a write. A receipt is included whenever the
// transaction was mined, even if a follow-up step failed.
func (h *Handler) writeResult(c *gin.Context, rcpt chain.Receipt, err error, body gin.H) {
	if rcpt.TxHash != "" {
		body["receipt"] = rcpt
	}
	if err != nil {
		h.fail(c, err, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) dateOrToday(date string) string {
	if d := strings.TrimSpace(date); d != "" {
		return d
	}
	return datecode.Today(h.nowFunc())
}

func presenceText(date string, present bool) string {
	if present {
		return "Attendance on " + date + ": Present"
	}
	return "Attendance on " + date + ": Absent"
}
