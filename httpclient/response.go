package httpclient

import "encoding/json"

// ErrorResponse is the error body shape shared by the Tessera APIs. Detail may
// be a plain string or a structured validation report.
type ErrorResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func parseErrorDetail(body []byte) string {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		return ""
	}

	if len(errResp.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(errResp.Detail, &detail); err == nil {
			return detail
		}

		return string(errResp.Detail)
	}

	if errResp.Message != "" {
		return errResp.Message
	}

	return errResp.Error
}
