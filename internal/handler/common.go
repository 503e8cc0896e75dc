package handler // handler defines http handlers

import (
	"errors"  // errors provides errors.Is / errors.As comparisons
	"net/http"
	"strconv" // strconv converts claim values to numeric types

	"github.com/labstack/echo/v4" // echo defines request context types

	"github.com/prasetyautama/park-entry-booking/internal/booking"
	"github.com/prasetyautama/park-entry-booking/internal/coupon"
	"github.com/prasetyautama/park-entry-booking/internal/pricing"
	"github.com/prasetyautama/park-entry-booking/internal/repository"
	"github.com/prasetyautama/park-entry-booking/internal/ticket"
)

// currentUser extracts the authenticated user's id from the context, or
// nil for guests.  Routes using OptionalJWTAuth may legitimately carry
// no identity, which is why absence is not an error here.
func currentUser(c echo.Context) *uint64 {
	v := c.Get("user_id")
	var id uint64
	switch t := v.(type) {
	case uint64:
		id = t
	case int:
		id = uint64(t)
	case int64:
		id = uint64(t)
	case float64:
		id = uint64(t)
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		if err != nil {
			return nil
		}
		id = n
	default:
		return nil
	}
	if id == 0 {
		return nil
	}
	return &id
}

// requireUser is currentUser for routes behind JWTAuth, where a missing
// identity means the middleware chain is misconfigured.
func requireUser(c echo.Context) (uint64, error) {
	if id := currentUser(c); id != nil {
		return *id, nil
	}
	return 0, errors.New("invalid user_id in context")
}

// currentSubject returns the token subject as a string for audit
// fields such as the ticket validator identity.
func currentSubject(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	if id := currentUser(c); id != nil {
		return strconv.FormatUint(*id, 10)
	}
	return "unknown"
}

// writeError maps service errors onto HTTP responses.  Validation and
// coupon rejections carry their message; everything unexpected is a
// 500 with a generic body so internals never leak.
func writeError(c echo.Context, err error) error {
	var ve *pricing.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": ve.Msg})
	case isCouponRejection(err):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, booking.ErrNotEditable),
		errors.Is(err, booking.ErrNotCancellable),
		errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, ticket.ErrPaymentRequired):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": err.Error()})
	case errors.Is(err, ticket.ErrNotValid),
		errors.Is(err, ticket.ErrExpired),
		errors.Is(err, ticket.ErrNotYetValid):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	default:
		c.Logger().Errorf("internal error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

func isCouponRejection(err error) bool {
	for _, target := range []error{
		coupon.ErrCodeNotFound, coupon.ErrInactive, coupon.ErrOutsideWindow,
		coupon.ErrBelowMinOrder, coupon.ErrWrongDestination,
		coupon.ErrUsageLimitReached, coupon.ErrUserLimitReached, coupon.ErrUserRequired,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
