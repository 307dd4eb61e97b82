package esewa

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// CallbackData is the decoded payload eSewa appends to the success redirect
type CallbackData struct {
	TransactionCode  string
	Status           string
	TotalAmount      string
	TransactionUUID  string
	ProductCode      string
	SignedFieldNames string
	Signature        string

	// Fields holds every decoded key, including ones not mapped above
	Fields map[string]string
}

// IsComplete reports whether the payload itself claims a completed payment
func (d *CallbackData) IsComplete() bool {
	return strings.ToUpper(strings.TrimSpace(d.Status)) == StatusComplete
}

// VerifySignature checks the callback signature over its own signed_field_names
func (d *CallbackData) VerifySignature(signer *Signer) error {
	if d.Signature == "" || d.SignedFieldNames == "" {
		return &VerificationError{Kind: VerificationSignature, Message: "callback payload is not signed"}
	}
	message, err := FieldsMessage(d.SignedFieldNames, d.Fields)
	if err != nil {
		return &VerificationError{Kind: VerificationSignature, Message: "cannot rebuild signed message", Err: err}
	}
	if !signer.Verify(message, d.Signature) {
		return &VerificationError{Kind: VerificationSignature, Message: "callback signature mismatch"}
	}
	return nil
}

// DecodeResponse decodes the base64 `data` parameter of a callback.
// The payload is either `&`-joined key=value pairs or a flat JSON object.
func DecodeResponse(encoded string) (*CallbackData, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, &DecodeError{Message: "payload is empty"}
	}
	// '+' turns into ' ' when the query string was not escaped by the gateway
	encoded = strings.ReplaceAll(encoded, " ", "+")

	raw, err := decodeBase64(encoded)
	if err != nil {
		return nil, &DecodeError{Message: "invalid base64", Err: err}
	}
	if !utf8.Valid(raw) {
		return nil, &DecodeError{Message: "payload is not valid UTF-8"}
	}

	var fields map[string]string
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		fields, err = parseJSONFields(trimmed)
	} else {
		fields, err = parsePairs(string(raw))
	}
	if err != nil {
		return nil, err
	}

	data := &CallbackData{
		TransactionCode:  fields["transaction_code"],
		Status:           fields["status"],
		TotalAmount:      fields["total_amount"],
		TransactionUUID:  fields["transaction_uuid"],
		ProductCode:      fields["product_code"],
		SignedFieldNames: fields["signed_field_names"],
		Signature:        fields["signature"],
		Fields:           fields,
	}

	for _, required := range []string{"transaction_uuid", "status", "total_amount"} {
		if strings.TrimSpace(fields[required]) == "" {
			return nil, &DecodeError{Message: fmt.Sprintf("payload is missing %s", required)}
		}
	}

	return data, nil
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func parsePairs(s string) (map[string]string, error) {
	fields := make(map[string]string)
	for _, segment := range strings.Split(s, "&") {
		if segment == "" {
			continue
		}
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			return nil, &DecodeError{Message: fmt.Sprintf("malformed pair %q", segment)}
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, &DecodeError{Message: fmt.Sprintf("empty key in pair %q", segment)}
		}
		fields[key] = value
	}
	if len(fields) == 0 {
		return nil, &DecodeError{Message: "payload has no fields"}
	}
	return fields, nil
}

func parseJSONFields(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, &DecodeError{Message: "invalid JSON payload", Err: err}
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = fmt.Sprintf("%t", val)
		case nil:
			fields[k] = ""
		default:
			return nil, &DecodeError{Message: fmt.Sprintf("field %q is not a scalar", k)}
		}
	}
	return fields, nil
}
