package billing

import "strconv"

// ResponseCode is the result code reported by the purchasing service.
type ResponseCode int

const (
	ResponseCodeServiceTimeout      ResponseCode = -3
	ResponseCodeFeatureNotSupported ResponseCode = -2
	ResponseCodeServiceDisconnected ResponseCode = -1
	ResponseCodeOK                  ResponseCode = 0
	ResponseCodeUserCanceled        ResponseCode = 1
	ResponseCodeServiceUnavailable  ResponseCode = 2
	ResponseCodeBillingUnavailable  ResponseCode = 3
	ResponseCodeItemUnavailable     ResponseCode = 4
	ResponseCodeDeveloperError      ResponseCode = 5
	ResponseCodeError               ResponseCode = 6
	ResponseCodeItemAlreadyOwned    ResponseCode = 7
	ResponseCodeItemNotOwned        ResponseCode = 8
)

var responseCodeNames = map[ResponseCode]string{
	ResponseCodeServiceTimeout:      "SERVICE_TIMEOUT",
	ResponseCodeFeatureNotSupported: "FEATURE_NOT_SUPPORTED",
	ResponseCodeServiceDisconnected: "SERVICE_DISCONNECTED",
	ResponseCodeOK:                  "RESULT_OK",
	ResponseCodeUserCanceled:        "USER_CANCELED",
	ResponseCodeServiceUnavailable:  "SERVICE_UNAVAILABLE",
	ResponseCodeBillingUnavailable:  "BILLING_UNAVAILABLE",
	ResponseCodeItemUnavailable:     "ITEM_UNAVAILABLE",
	ResponseCodeDeveloperError:      "DEVELOPER_ERROR",
	ResponseCodeError:               "ERROR",
	ResponseCodeItemAlreadyOwned:    "ITEM_ALREADY_OWNED",
	ResponseCodeItemNotOwned:        "ITEM_NOT_OWNED",
}

// String returns the human readable name of the code, or OTHER:<code> for
// codes the service may add later.
func (c ResponseCode) String() string {
	if name, ok := responseCodeNames[c]; ok {
		return name
	}
	return "OTHER:" + strconv.Itoa(int(c))
}

func (c ResponseCode) IsOK() bool {
	return c == ResponseCodeOK
}
