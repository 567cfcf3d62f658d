package app

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"booking-service/internal/apperr"
	"booking-service/internal/booking"
	"booking-service/internal/logger"
	"booking-service/internal/scheduling"
)

const schedulingDisabledMessage = "Online scheduling is turned off right now. Please contact us directly to book a time."

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	body := gin.H{"success": false, "error": string(kind), "message": apperr.Message(err)}
	if e, ok := apperr.As(err); ok && e.Field != "" {
		body["field"] = e.Field
	}
	if kind == apperr.KindInternal {
		logger.C(c.Request.Context()).Error().Err(err).Msg("request failed")
	}
	c.JSON(kind.HTTPStatus(), body)
}

// GET /healthz
func (a *App) HealthzHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type availabilityResponse struct {
	Success bool `json:"success"`
	scheduling.Response
}

// GET /api/availability?timezone=&days=&time=&preference=&mode=interactive&email=
func (a *App) AvailabilityHandler(c *gin.Context) {
	if !a.SchedulingEnabled {
		writeError(c, apperr.New(apperr.KindDegraded, schedulingDisabledMessage))
		return
	}
	ctx := c.Request.Context()

	if email := strings.TrimSpace(c.Query("email")); email != "" {
		rec, err := a.Bookings.Lookup(ctx, email, c.Query("name"))
		if err != nil {
			writeError(c, err)
			return
		}
		if rec != nil {
			c.JSON(http.StatusOK, gin.H{
				"success":         true,
				"existingBooking": rec,
				"availableSlots":  []scheduling.SlotView{},
				"message":         "You already have an upcoming booking.",
			})
			return
		}
	}

	days := 0
	if s := c.Query("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(c, apperr.Invalid("days", "days must be a number"))
			return
		}
		days = n
	}

	resp := a.Availability.Availability(ctx, scheduling.Intent{
		Timezone:      c.Query("timezone"),
		LookaheadDays: days,
		RequestedTime: c.Query("time"),
		Preference:    c.Query("preference"),
		Interactive:   strings.EqualFold(c.Query("mode"), "interactive"),
	})
	c.JSON(http.StatusOK, availabilityResponse{Success: true, Response: resp})
}

// POST /api/bookings/confirm
func (a *App) ConfirmHandler(c *gin.Context) {
	var d booking.Details
	if err := c.ShouldBindJSON(&d); err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindInput, "Invalid confirmation request."))
		return
	}
	conf, err := a.Bookings.Present(d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "confirmation": conf})
}

type lookupReq struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// POST /api/bookings/lookup
func (a *App) LookupHandler(c *gin.Context) {
	var req lookupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindInput, "Invalid lookup request."))
		return
	}
	rec, err := a.Bookings.Lookup(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "exists": rec != nil, "booking": rec})
}

// POST /api/bookings
func (a *App) CreateBookingHandler(c *gin.Context) {
	if !a.SchedulingEnabled {
		writeError(c, apperr.New(apperr.KindDegraded, schedulingDisabledMessage))
		return
	}
	var req booking.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(err, apperr.KindInput, "Invalid booking request. Times must be RFC3339."))
		return
	}

	res, err := a.Bookings.Book(c.Request.Context(), req)
	if err != nil {
		kind := apperr.KindOf(err)
		body := gin.H{
			"success": false,
			"error":   string(kind),
			"message": res.Message,
			"state":   res.State,
			"history": res.History,
		}
		if e, ok := apperr.As(err); ok && e.Field != "" {
			body["field"] = e.Field
		}
		if res.Existing != nil {
			body["existingBooking"] = res.Existing
		}
		c.JSON(kind.HTTPStatus(), body)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func parseRange(c *gin.Context, defaultSpan time.Duration, now time.Time) (time.Time, time.Time, bool) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	from, to := now, now.Add(defaultSpan)
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			writeError(c, apperr.Invalid("from", "invalid from"))
			return time.Time{}, time.Time{}, false
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			writeError(c, apperr.Invalid("to", "invalid to"))
			return time.Time{}, time.Time{}, false
		}
	}
	if !from.Before(to) {
		writeError(c, apperr.Invalid("from", "from must be before to"))
		return time.Time{}, time.Time{}, false
	}
	return from.UTC(), to.UTC(), true
}

// GET /api/admin/bookings?from=ISO&to=ISO
func (a *App) ListBookingsHandler(c *gin.Context) {
	from, to, ok := parseRange(c, 30*24*time.Hour, a.now())
	if !ok {
		return
	}
	out, err := a.Bookings.List(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		out = []booking.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "bookings": out})
}

// GET /api/admin/bookings/:id
func (a *App) GetBookingHandler(c *gin.Context) {
	rec, err := a.Bookings.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "booking": rec})
}

// DELETE /api/admin/bookings/:id
func (a *App) CancelBookingHandler(c *gin.Context) {
	if err := a.Bookings.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ok": true})
}

// GET /api/admin/busy?from=ISO&to=ISO
func (a *App) BusyHandler(c *gin.Context) {
	from, to, ok := parseRange(c, 7*24*time.Hour, a.now())
	if !ok {
		return
	}
	busy, err := a.Availability.Busy(c.Request.Context(), from, to)
	if err != nil {
		writeError(c, err)
		return
	}
	loc := a.Availability.Generator.Hours.Location
	type busyView struct {
		Start  time.Time `json:"start"`
		End    time.Time `json:"end"`
		AllDay bool      `json:"allDay"`
	}
	out := make([]busyView, 0, len(busy))
	for _, b := range busy {
		out = append(out, busyView{Start: b.Start, End: b.End, AllDay: b.AllDay(loc)})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "busy": out})
}

// GET /api/admin/health
func (a *App) AdminHealthHandler(c *gin.Context) {
	body := gin.H{
		"success":           true,
		"schedulingEnabled": a.SchedulingEnabled,
	}
	if a.Availability != nil && a.Availability.Primary != nil {
		body["calendar"] = a.Availability.Primary.Name()
		body["demo"] = a.Availability.Primary.Demo()
	}
	if a.Audit != nil {
		n := 20
		if s := c.Query("recent"); s != "" {
			if v, err := strconv.Atoi(s); err == nil && v >= 0 {
				n = v
			}
		}
		body["audit"] = a.Audit.Summary()
		body["recent"] = a.Audit.Recent(n)
	}
	c.JSON(http.StatusOK, body)
}
