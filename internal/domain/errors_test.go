package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *DomainError
		want string
	}{
		{
			name: "without cause",
			err:  NewDomainError(ErrorCodeNotFound, "subscription not found"),
			want: "NOT_FOUND: subscription not found",
		},
		{
			name: "with cause",
			err:  WrapError(ErrorCodeGatewayError, "charge failed", errors.New("connection reset")),
			want: "GATEWAY_ERROR: charge failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestDomainError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("load: %w", WrapError(ErrorCodeGatewayError, "status fetch failed", cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsDomainError(err, ErrorCodeGatewayError))
	assert.True(t, IsGatewayError(err))
	assert.Equal(t, ErrorCodeGatewayError, GetErrorCode(err))
}

func TestDomainError_SentinelMatching(t *testing.T) {
	err := fmt.Errorf("get subscription sub_1: %w", ErrSubscriptionNotFound)

	assert.True(t, errors.Is(err, ErrSubscriptionNotFound))
	assert.False(t, errors.Is(err, ErrPlanNotFound))
	assert.True(t, IsNotFoundError(err))
}

func TestDomainError_WithDetail(t *testing.T) {
	err := NewDomainError(ErrorCodeQuotaExceeded, "usage exceeds target plan").
		WithDetail("resource", "users")

	assert.Equal(t, "users", err.Details["resource"])
}

func TestGetErrorCode_PlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.False(t, IsNotFoundError(errors.New("plain")))
}
