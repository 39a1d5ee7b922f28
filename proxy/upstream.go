package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

var (
	// ErrFieldMissing is returned when a field the backend requires is
	// absent from the client request.
	ErrFieldMissing = errors.New("missing required field")

	// ErrFieldInvalid is returned when a client field value does not
	// parse as the type the backend declares for it.
	ErrFieldInvalid = errors.New("invalid field value")

	// ErrUpstream is returned for any transport or payload failure of the
	// upstream call.
	ErrUpstream = errors.New("upstream error")
)

// projectFields validates the client supplied fields against the backend's
// pass list and coerces each value to its declared type. Only declared
// fields make it into the result, anything else the client sent is dropped.
func projectFields(fields map[string]string,
	passFields map[string]string) (map[string]interface{}, error) {

	projected := make(map[string]interface{}, len(passFields))
	for name, fieldType := range passFields {
		value, ok := fields[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFieldMissing, name)
		}

		switch fieldType {
		case "string":
			projected[name] = value

		case "int":
			parsed, err := strconv.ParseInt(value, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be an "+
					"int", ErrFieldInvalid, name)
			}
			projected[name] = int32(parsed)

		case "float":
			parsed, err := strconv.ParseFloat(value, 32)
			if err != nil {
				return nil, fmt.Errorf("%w: %s must be a "+
					"float", ErrFieldInvalid, name)
			}
			projected[name] = float32(parsed)

		default:
			return nil, fmt.Errorf("unknown type %s declared "+
				"for field %s", fieldType, name)
		}
	}

	return projected, nil
}

// buildUpstreamRequest renders the backend's body template with the client's
// projected fields overlaid on its top level and returns the POST request
// for the upstream service. The request inherits the given context so a
// disconnecting client aborts the upstream call as well.
func buildUpstreamRequest(ctx context.Context, backend *Backend,
	fields map[string]string) (*http.Request, error) {

	var body map[string]interface{}
	if backend.Body != "" {
		err := json.Unmarshal([]byte(backend.Body), &body)
		if err != nil {
			return nil, fmt.Errorf("invalid body template of "+
				"backend %s: %v", backend.Name, err)
		}
	}
	if body == nil {
		body = make(map[string]interface{})
	}

	projected, err := projectFields(fields, backend.PassFields)
	if err != nil {
		return nil, err
	}
	for name, value := range projected {
		body[name] = value
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, backend.Upstream,
		bytes.NewReader(payload),
	)
	if err != nil {
		return nil, err
	}

	for _, header := range backend.Headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid header entry %q of "+
				"backend %s", header, backend.Name)
		}
		req.Header.Set(
			strings.TrimSpace(parts[0]),
			strings.TrimSpace(parts[1]),
		)
	}

	log.Debugf("Prepared upstream request to %s with %d projected "+
		"field(s)", backend.Upstream, len(projected))

	return req, nil
}

// sendUpstreamRequest performs the upstream call and returns the raw
// response body.
func sendUpstreamRequest(client *http.Client,
	req *http.Request) ([]byte, error) {

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream,
			resp.StatusCode)
	}

	return body, nil
}

// extractResponseField walks the dotted path through the upstream JSON
// document. Numeric segments index into arrays, all other segments into
// objects. The value at the end of the path must be a string.
func extractResponseField(body []byte, path string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", fmt.Errorf("%w: invalid response payload: %v",
			ErrUpstream, err)
	}

	current := doc
	for _, segment := range strings.Split(path, ".") {
		index, err := strconv.ParseUint(segment, 10, 32)
		switch {
		case err == nil:
			list, ok := current.([]interface{})
			if !ok || int(index) >= len(list) {
				return "", fmt.Errorf("%w: no element %d at "+
					"path %s", ErrUpstream, index, path)
			}
			current = list[index]

		default:
			object, ok := current.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("%w: no field %s at "+
					"path %s", ErrUpstream, segment, path)
			}
			current, ok = object[segment]
			if !ok {
				return "", fmt.Errorf("%w: no field %s at "+
					"path %s", ErrUpstream, segment, path)
			}
		}
	}

	text, ok := current.(string)
	if !ok {
		return "", fmt.Errorf("%w: value at path %s is not a string",
			ErrUpstream, path)
	}

	return text, nil
}
