package payment

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/noah-isme/paybridge/internal/common"
)

var errNotScalar = errors.New("field values must be strings, numbers or booleans")

// readFields decodes a flat JSON object or a urlencoded form body into a
// string map. Number literals are kept exactly as sent.
func readFields(r *http.Request) (map[string]string, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, common.ValidationError("request body too large")
		}
		return nil, common.ValidationError("unable to read request body")
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]string{}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "application/json", mediaType == "" && trimmed[0] == '{':
		fields, err := decodeJSONFields(trimmed)
		if err != nil {
			return nil, common.ValidationError(fmt.Sprintf("invalid JSON body: %v", err))
		}
		return fields, nil
	default:
		fields, err := decodeFormFields(string(trimmed))
		if err != nil {
			return nil, common.ValidationError(fmt.Sprintf("invalid form body: %v", err))
		}
		return fields, nil
	}
}

func decodeJSONFields(body []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected trailing data")
	}
	fields := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			fields[key] = v
		case json.Number:
			fields[key] = v.String()
		case bool:
			fields[key] = strconv.FormatBool(v)
		case nil:
			fields[key] = ""
		default:
			return nil, fmt.Errorf("%s: %w", key, errNotScalar)
		}
	}
	return fields, nil
}

func decodeFormFields(body string) (map[string]string, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) > 1 {
			return nil, fmt.Errorf("%s: repeated field", key)
		}
		fields[key] = list[0]
	}
	return fields, nil
}

// orderReference extracts the order identifier from the query string or body.
// The storefront posts its whole order object, so "id" is accepted as well.
func orderReference(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("order_id")); id != "" {
		return id, nil
	}
	if r.Method == http.MethodGet || r.Body == nil {
		return "", common.ValidationError("order_id is required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", common.ValidationError("unable to read request body")
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", common.ValidationError("order_id is required")
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" || (mediaType == "" && trimmed[0] == '{') {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return "", common.ValidationError("invalid JSON body")
		}
		for _, key := range []string{"order_id", "id"} {
			if id := jsonScalar(raw[key]); id != "" {
				return id, nil
			}
		}
		return "", common.ValidationError("order_id is required")
	}

	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return "", common.ValidationError("invalid form body")
	}
	if id := strings.TrimSpace(values.Get("order_id")); id != "" {
		return id, nil
	}
	return "", common.ValidationError("order_id is required")
}

func jsonScalar(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
