package mpesa

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hongminglow/payvault-be/internal/models"
)

// Result is the body Daraja posts to a ResultURL or QueueTimeOutURL.
type Result struct {
	ResultType               int             `json:"ResultType"`
	ResultCode               json.Number     `json:"ResultCode"`
	ResultDesc               string          `json:"ResultDesc"`
	OriginatorConversationID string          `json:"OriginatorConversationID"`
	ConversationID           string          `json:"ConversationID"`
	TransactionID            string          `json:"TransactionID"`
	ResultParameters         *parameterList  `json:"ResultParameters"`
	ReferenceData            *referenceList  `json:"ReferenceData"`
	Raw                      json.RawMessage `json:"-"`
}

type parameterList struct {
	ResultParameter parameters `json:"ResultParameter"`
}

type referenceList struct {
	ReferenceItem parameters `json:"ReferenceItem"`
}

type parameter struct {
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

// parameters accepts both a single object and an array, as Daraja sends either.
type parameters []parameter

func (p *parameters) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "{") {
		var one parameter
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*p = parameters{one}
		return nil
	}
	var many []parameter
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*p = many
	return nil
}

// ParseResult decodes a callback body, accepting both the {"Result": {...}}
// envelope and a bare result object.
func ParseResult(body []byte) (Result, error) {
	var envelope struct {
		Result *Result `json:"Result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Result{}, fmt.Errorf("decode callback: %w", err)
	}
	var r Result
	if envelope.Result != nil {
		r = *envelope.Result
	} else if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, fmt.Errorf("decode callback: %w", err)
	}
	r.Raw = append(json.RawMessage(nil), body...)
	return r, nil
}

// Code returns ResultCode as a string, "" when absent.
func (r Result) Code() string {
	return r.ResultCode.String()
}

// Params flattens ResultParameters to a map of string values.
func (r Result) Params() map[string]string {
	out := map[string]string{}
	if r.ResultParameters != nil {
		for _, p := range r.ResultParameters.ResultParameter {
			out[p.Key] = stringify(p.Value)
		}
	}
	return out
}

// Occasion returns the Occasion reference item, which carries the disbursement id.
func (r Result) Occasion() string {
	if r.ReferenceData == nil {
		return ""
	}
	for _, item := range r.ReferenceData.ReferenceItem {
		if item.Key == "Occasion" {
			return stringify(item.Value)
		}
	}
	return ""
}

// Receipt returns the M-Pesa transaction receipt.
func (r Result) Receipt() string {
	if v := r.Params()["TransactionReceipt"]; v != "" {
		return v
	}
	return r.TransactionID
}

// CustomerName extracts NAME from "2547XXXXXXXX - NAME".
func (r Result) CustomerName() string {
	name := r.Params()["ReceiverPartyPublicName"]
	if _, after, ok := strings.Cut(name, " - "); ok {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(name)
}

// B2CBalances reads the post-transaction balances from a B2C result.
func (r Result) B2CBalances() models.Balances {
	p := r.Params()
	return models.Balances{
		Working: parseAmount(p["B2CWorkingAccountAvailableFunds"]),
		Utility: parseAmount(p["B2CUtilityAccountAvailableFunds"]),
		Charges: parseAmount(p["B2CChargesPaidAccountAvailableFunds"]),
	}
}

// AccountBalances parses the AccountBalance parameter of a balance query
// result: "Working Account|KES|700.00|700.00|0.00|0.00&Utility Account|KES|...".
func (r Result) AccountBalances() models.Balances {
	var b models.Balances
	for _, account := range strings.Split(r.Params()["AccountBalance"], "&") {
		fields := strings.Split(account, "|")
		if len(fields) < 3 {
			continue
		}
		amount := parseAmount(fields[2])
		switch name := strings.ToLower(strings.TrimSpace(fields[0])); {
		case strings.HasPrefix(name, "working"):
			b.Working = amount
		case strings.HasPrefix(name, "utility"):
			b.Utility = amount
		case strings.HasPrefix(name, "charges"):
			b.Charges = amount
		}
	}
	return b
}

// DisbursementStatus maps a result code onto a disbursement status.
func DisbursementStatus(code string) string {
	switch strings.TrimSpace(code) {
	case "0":
		return models.StatusSuccess
	case "1":
		return models.StatusPending
	default:
		return models.StatusFailed
	}
}

func parseAmount(s string) decimal.NullDecimal {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}
