package rewards

import (
	"errors"
	"fmt"
)

// ErrDiscountFailed indicates the upstream discount pricing could not be obtained.
var ErrDiscountFailed = errors.New("discount application failed")

// ErrPromoCodeRequired is returned when no promo code was supplied or stored on the bag.
var ErrPromoCodeRequired = errors.New("promo code required")

// UpstreamError describes a non-2xx response from the rewards API.
type UpstreamError struct {
	Status  int
	Message string
	Details []ErrorDetail
}

// ErrorDetail is a single entry of the upstream error payload.
type ErrorDetail struct {
	Code       string `json:"code"`
	ReasonCode string `json:"reasonCode"`
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rewards api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("rewards api: status %d", e.Status)
}

// PromoError is the customer-facing description of a failed apply or remove call.
type PromoError struct {
	DefaultPromocode    string `json:"defaultPromocode"`
	ErrorCode           string `json:"errorCode"`
	ErrorReasonCode     string `json:"errorReasonCode"`
	DefaultErrorMessage string `json:"defaultErrorMessage"`
	Status              int    `json:"status"`
	err                 error
}

func (e *PromoError) Error() string {
	return fmt.Sprintf("promo code %s rejected: %s (status %d)", e.DefaultPromocode, e.ErrorCode, e.Status)
}

func (e *PromoError) Unwrap() error {
	return e.err
}

// NewPromoError converts an upstream failure into a PromoError. Transport
// failures carry status 0 and the GENERIC code.
func NewPromoError(promocode string, err error) *PromoError {
	out := &PromoError{DefaultPromocode: promocode, ErrorCode: "GENERIC", err: err}
	var up *UpstreamError
	if errors.As(err, &up) {
		out.Status = up.Status
		out.DefaultErrorMessage = up.Message
		if len(up.Details) > 0 {
			if up.Details[0].Code != "" {
				out.ErrorCode = up.Details[0].Code
			}
			out.ErrorReasonCode = up.Details[0].ReasonCode
		}
	}
	return out
}
