// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
)

const maxBodyBytes = 64 << 10

// params are the request fields of a form or JSON body.
type params map[string]string

// readParams accepts application/x-www-form-urlencoded, multipart forms,
// JSON objects and query strings. Body fields win over query fields.
func readParams(w http.ResponseWriter, r *http.Request) (params, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	out := params{}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		for k, v := range body {
			switch t := v.(type) {
			case string:
				out[k] = t
			case nil:
			default:
				out[k] = fmt.Sprint(t)
			}
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	default:
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		for k, v := range r.PostForm {
			if len(v) > 0 {
				out[k] = v[0]
			}
		}
	}
	return out, nil
}

func (p params) str(key string) string { return strings.TrimSpace(p[key]) }

// boolOr parses key, falling back to def when absent or malformed.
func (p params) boolOr(key string, def bool) bool {
	v, ok := p[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// user returns the streamer a control request targets. Callbacks from the
// ingest server name it "name", operator requests "user".
func (p params) user() string {
	if u := p.str("user"); u != "" {
		return u
	}
	return p.str("name")
}
