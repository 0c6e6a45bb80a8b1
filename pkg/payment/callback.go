package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SplitStrayQuery separates path and raw query of a request URI. Some
// gateways append parameters after the path with '&' instead of '?'
// ("/return&vnp_Amount=..."); those are moved back into the query.
func SplitStrayQuery(uri string) (path, rawQuery string) {
	path, rawQuery, _ = strings.Cut(uri, "?")
	i := strings.IndexByte(path, '&')
	if i < 0 {
		return path, rawQuery
	}
	stray := path[i+1:]
	path = strings.TrimSuffix(path[:i], "/")
	switch {
	case rawQuery == "":
		rawQuery = stray
	case stray != "":
		rawQuery = stray + "&" + rawQuery
	}
	return path, rawQuery
}

// ExtractParams collects callback parameters from the query string and the
// body. Values are percent-decoded exactly once. Query values win over body
// values with the same key.
func ExtractParams(in CallbackInput) (map[string]string, error) {
	params := make(map[string]string)

	body := bytes.TrimSpace(in.Body)
	if len(body) > 0 {
		var err error
		if isJSON(in.ContentType, body) {
			err = decodeJSONParams(body, params)
		} else {
			err = decodeQueryParams(string(body), params)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
	}

	_, rawQuery := SplitStrayQuery(in.RequestURI)
	if rawQuery != "" {
		if err := decodeQueryParams(rawQuery, params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
	}

	if len(params) == 0 {
		return nil, ErrMalformedCallback
	}
	return params, nil
}

func isJSON(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "json") {
		return true
	}
	return body[0] == '{'
}

func decodeQueryParams(raw string, into map[string]string) error {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return err
	}
	for k, v := range values {
		if k == "" || len(v) == 0 {
			continue
		}
		into[k] = v[0]
	}
	return nil
}

// decodeJSONParams flattens a JSON object into strings. Numbers keep their
// literal decimal text so signatures computed by the provider still match.
func decodeJSONParams(body []byte, into map[string]string) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			into[k] = ""
		case string:
			into[k] = val
		case json.Number:
			into[k] = val.String()
		case bool:
			into[k] = strconv.FormatBool(val)
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return err
			}
			into[k] = string(b)
		}
	}
	return nil
}

// parseAmount parses an integer amount and divides it by scale. A value that
// is missing, negative or not a whole multiple of scale yields -1.
func parseAmount(raw string, scale int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 || n%scale != 0 {
		return -1
	}
	return n / scale
}
