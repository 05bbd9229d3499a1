package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseCode_String(t *testing.T) {
	for _, tc := range []struct {
		code     ResponseCode
		expected string
	}{
		{ResponseCodeServiceTimeout, "SERVICE_TIMEOUT"},
		{ResponseCodeFeatureNotSupported, "FEATURE_NOT_SUPPORTED"},
		{ResponseCodeServiceDisconnected, "SERVICE_DISCONNECTED"},
		{ResponseCodeOK, "RESULT_OK"},
		{ResponseCodeUserCanceled, "USER_CANCELED"},
		{ResponseCodeServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{ResponseCodeBillingUnavailable, "BILLING_UNAVAILABLE"},
		{ResponseCodeItemUnavailable, "ITEM_UNAVAILABLE"},
		{ResponseCodeDeveloperError, "DEVELOPER_ERROR"},
		{ResponseCodeError, "ERROR"},
		{ResponseCodeItemAlreadyOwned, "ITEM_ALREADY_OWNED"},
		{ResponseCodeItemNotOwned, "ITEM_NOT_OWNED"},
		{ResponseCode(12), "OTHER:12"},
		{ResponseCode(-99), "OTHER:-99"},
	} {
		require.Equal(t, tc.expected, tc.code.String())
	}

	require.Len(t, responseCodeNames, 12)
	require.True(t, ResponseCodeOK.IsOK())
	require.False(t, ResponseCodeError.IsOK())
}
