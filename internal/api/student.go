package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ---------- Student panel ----------

func (h *Handler) StudentPanel(c *gin.Context) {
	v := h.panels.Student(sessionFrom(c)).View()
	c.JSON(http.StatusOK, gin.H{"panel": v, "status": v.Status})
}

func (h *Handler) Registration(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	ok, err := s.CheckRegistration(ctx)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"registered": ok, "status": s.View().Status})
}

func (h *Handler) Today(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	present, err := s.CheckToday(ctx)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	status := "Today: Absent"
	if present {
		status = "Today: Present"
	}
	c.JSON(http.StatusOK, gin.H{"present": present, "status": status})
}

func (h *Handler) AttendanceOn(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	date := c.Query("date")
	ctx, cancel := h.callCtx(c)
	defer cancel()
	present, err := s.CheckDate(ctx, date)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "present": present, "status": presenceText(date, present)})
}

func (h *Handler) History(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	dates, err := s.LoadHistory(ctx)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dates": dates, "status": s.View().Status})
}

// Records loads presence for every recorded date along with the summary.
func (h *Handler) Records(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	ctx, cancel := h.callCtx(c)
	defer cancel()
	records, err := s.LoadDetailed(ctx)
	if err != nil {
		h.fail(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records, "summary": s.Summary(), "status": s.View().Status})
}

// Summary reports statistics over the last loaded records.
func (h *Handler) Summary(c *gin.Context) {
	s := h.panels.Student(sessionFrom(c))
	sum := s.Summary()
	c.JSON(http.StatusOK, gin.H{"summary": sum, "status": "Attendance rate: " + sum.RateText})
}
