package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/prasetyautama/park-entry-booking/internal/booking"
	"github.com/prasetyautama/park-entry-booking/internal/gateway"
	"github.com/prasetyautama/park-entry-booking/internal/model"
	"github.com/prasetyautama/park-entry-booking/internal/pricing"
	"github.com/prasetyautama/park-entry-booking/internal/reconcile"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
)

// BookingHandler serves the visitor-facing booking lifecycle.  Routes
// run behind OptionalJWTAuth: an authenticated visitor's bookings are
// bound to their account, a guest's are addressable by order number
// only.
type BookingHandler struct {
	Svc        *booking.Service
	Reconciler *reconcile.Reconciler
	Notifs     *repository.NotificationRepo
}

// NewBookingHandler constructs a BookingHandler.  All dependencies must
// be non-nil.
func NewBookingHandler(svc *booking.Service, rec *reconcile.Reconciler, notifs *repository.NotificationRepo) *BookingHandler {
	if svc == nil || rec == nil || notifs == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Svc: svc, Reconciler: rec, Notifs: notifs}
}

// createRequest is the JSON body of POST /v1/bookings.
type createRequest struct {
	DestinationID uint64            `json:"destination_id"`
	VisitDate     string            `json:"visit_date"` // YYYY-MM-DD
	LeaderName    string            `json:"leader_name"`
	LeaderEmail   string            `json:"leader_email"`
	LeaderPhone   string            `json:"leader_phone"`
	Quantities    map[uint64]uint32 `json:"quantities"` // price id -> qty
	CouponCode    string            `json:"coupon_code"`
	PaymentMethod string            `json:"payment_method"` // "gateway" or "cash"
}

// editRequest is the JSON body of PATCH /v1/bookings/:order.  CouponCode
// nil keeps the current coupon; empty string removes it.
type editRequest struct {
	VisitDate  string            `json:"visit_date"`
	Quantities map[uint64]uint32 `json:"quantities"`
	CouponCode *string           `json:"coupon_code"`
}

// CreateBooking handles POST /v1/bookings.  Returns 201 with the
// booking and, for gateway payments, the checkout session the client
// redirects to.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	var body createRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	visit, err := parseVisitDate(body.VisitDate)
	if err != nil {
		return writeError(c, err)
	}
	b, session, err := h.Svc.Create(c.Request().Context(), booking.CreateInput{
		UserID:        currentUser(c),
		DestinationID: body.DestinationID,
		VisitDate:     visit,
		LeaderName:    body.LeaderName,
		LeaderEmail:   body.LeaderEmail,
		LeaderPhone:   body.LeaderPhone,
		Quantities:    body.Quantities,
		CouponCode:    body.CouponCode,
		PaymentMethod: body.PaymentMethod,
	})
	if err != nil {
		return writeError(c, err)
	}
	resp := echo.Map{"booking": bookingView(b, nil)}
	if session != nil {
		resp["payment_session"] = sessionView(session)
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetBooking handles GET /v1/bookings/:order.  Reading a booking also
// performs its lazy repairs: lapsed cash windows expire and pending
// gateway bookings are refreshed from the provider.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	b, items, err := h.Svc.Get(c.Request().Context(), c.Param("order"), currentUser(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": bookingView(b, items)})
}

// EditBooking handles PATCH /v1/bookings/:order.  Only pending bookings
// may be edited; contents are replaced wholesale and repriced, and a
// fresh checkout session is returned.
func (h *BookingHandler) EditBooking(c echo.Context) error {
	var body editRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	visit, err := parseVisitDate(body.VisitDate)
	if err != nil {
		return writeError(c, err)
	}
	b, session, err := h.Svc.Edit(c.Request().Context(), c.Param("order"), currentUser(c), booking.EditInput{
		VisitDate:  visit,
		Quantities: body.Quantities,
		CouponCode: body.CouponCode,
	})
	if err != nil {
		return writeError(c, err)
	}
	resp := echo.Map{"booking": bookingView(b, nil)}
	if session != nil {
		resp["payment_session"] = sessionView(session)
	}
	return c.JSON(http.StatusOK, resp)
}

// CancelBooking handles DELETE /v1/bookings/:order.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	b, err := h.Svc.Cancel(c.Request().Context(), c.Param("order"), currentUser(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"booking": bookingView(b, nil)})
}

// SyncBooking handles POST /v1/bookings/:order/sync.  It forces a poll
// of the gateway, for clients returning from a checkout page that want
// the result immediately instead of waiting for the webhook.
func (h *BookingHandler) SyncBooking(c echo.Context) error {
	order := c.Param("order")
	// Ownership is enforced by the read below; the poll itself only
	// moves the booking the way the gateway already decided.
	outcome, err := h.Reconciler.Poll(c.Request().Context(), order)
	if err != nil {
		return writeError(c, err)
	}
	b, items, err := h.Svc.Get(c.Request().Context(), order, currentUser(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"outcome": string(outcome),
		"booking": bookingView(b, items),
	})
}

// ListNotifications handles GET /v1/notifications for authenticated
// visitors.
func (h *BookingHandler) ListNotifications(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	rows, err := h.Notifs.ListByUser(c.Request().Context(), userID, 50)
	if err != nil {
		return writeError(c, err)
	}
	out := make([]echo.Map, 0, len(rows))
	for _, n := range rows {
		out = append(out, echo.Map{
			"id":         n.ID,
			"kind":       n.Kind,
			"title":      n.Title,
			"message":    n.Message,
			"link":       n.Link,
			"read_at":    n.ReadAt,
			"created_at": n.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": out})
}

func parseVisitDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return time.Time{}, pricing.NewValidationError("visit_date must be YYYY-MM-DD")
	}
	return t, nil
}

func bookingView(b *model.Booking, items []model.BookingItem) echo.Map {
	v := echo.Map{
		"order_number":   b.OrderNumber,
		"destination_id": b.DestinationID,
		"status":         string(b.Status),
		"visit_date":     b.VisitDate.Format("2006-01-02"),
		"leader_name":    b.LeaderName,
		"leader_email":   b.LeaderEmail,
		"leader_phone":   b.LeaderPhone,
		"visitor_count":  b.VisitorCount,
		"vehicle_count":  b.VehicleCount,
		"subtotal":       b.Subtotal,
		"service_fee":    b.ServiceFee,
		"discount":       b.Discount,
		"total_amount":   b.TotalAmount,
		"payment_method": b.PaymentMethod,
		"created_at":     b.CreatedAt,
	}
	if b.DiscountCode != nil {
		v["discount_code"] = *b.DiscountCode
	}
	if b.ExpiresAt != nil {
		v["expires_at"] = b.ExpiresAt
	}
	if b.ConfirmedAt != nil {
		v["confirmed_at"] = b.ConfirmedAt
	}
	if items != nil {
		lines := make([]echo.Map, 0, len(items))
		for _, it := range items {
			lines = append(lines, echo.Map{
				"price_id":   it.PriceID,
				"category":   it.Category,
				"label":      it.Label,
				"quantity":   it.Quantity,
				"unit_price": it.UnitPrice,
				"line_total": it.LineTotal,
			})
		}
		v["items"] = lines
	}
	return v
}

func sessionView(s *gateway.Session) echo.Map {
	return echo.Map{
		"token":        s.Token,
		"redirect_url": s.RedirectURL,
		"expires_at":   s.ExpiresAt,
	}
}
