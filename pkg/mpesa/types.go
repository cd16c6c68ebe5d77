package mpesa

import "strconv"

// STKPushRequest describes an outbound STK push.
type STKPushRequest struct {
	PhoneNumber      string // 254XXXXXXXXX
	Amount           int64  // whole shillings, Daraja rejects fractions
	AccountReference string // e.g. admission number
	TransactionDesc  string
}

// STKPushResponse is the synchronous Daraja response to a push request.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKQueryResponse is the synchronous status of a previously pushed request.
type STKQueryResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// STKCallback mirrors the Daraja asynchronous result payload.
type STKCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// C2BConfirmation is posted by Daraja when a customer pays the paybill directly.
type C2BConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"` // yyyymmddhhmmss
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"` // student admission number
	InvoiceNumber     string `json:"InvoiceNumber"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
}

// ParsedSTKCallback is the flattened callback used by the payment service.
type ParsedSTKCallback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            float64
	ReceiptNumber     string
	TransactionDate   string // yyyymmddhhmmss
	PhoneNumber       string
}

// Success reports whether the callback carries a successful result code.
func (p ParsedSTKCallback) Success() bool {
	return p.ResultCode == 0
}

// ParseSTKCallback flattens the nested Daraja callback structure. Metadata
// items are only present when the payment succeeded.
func ParseSTKCallback(cb STKCallback) ParsedSTKCallback {
	stk := cb.Body.StkCallback
	parsed := ParsedSTKCallback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}

	if stk.ResultCode != 0 || stk.CallbackMetadata == nil {
		return parsed
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				parsed.Amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				parsed.ReceiptNumber = v
			}
		case "TransactionDate":
			parsed.TransactionDate = stringify(item.Value)
		case "PhoneNumber":
			parsed.PhoneNumber = stringify(item.Value)
		}
	}

	return parsed
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Daraja sends numeric dates/phones as JSON numbers.
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// resultCodes maps Daraja result codes to human readable messages.
var resultCodes = map[int]string{
	0:    "Success",
	1:    "Insufficient Funds",
	2:    "Less Than Minimum Transaction Value",
	3:    "More Than Maximum Transaction Value",
	4:    "Would Exceed Daily Transfer Limit",
	5:    "Would Exceed Minimum Balance",
	8:    "Would Exceed Maximum Balance",
	11:   "Debit Account Invalid",
	15:   "Duplicate Detected",
	17:   "Internal Failure",
	26:   "Traffic Blocking Condition In Place",
	1032: "Request cancelled by user",
	1037: "DS timeout",
	2001: "Wrong PIN",
}

// ResultMessage returns the description for a Daraja result code.
func ResultMessage(code int) string {
	if msg, ok := resultCodes[code]; ok {
		return msg
	}
	return "Unknown error"
}
