package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxBodyBytes = 64 << 10

var (
	errBadBody   = errors.New("invalid JSON body")
	errBadChatID = errors.New("invalid Telegram Chat ID")
)

// params reads request arguments from the query string first and the JSON body second.
type params struct {
	query url.Values
	body  map[string]any
}

func readParams(r *http.Request) (params, error) {
	p := params{query: r.URL.Query()}
	if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "json") {
		return p, nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&p.body); err != nil && !errors.Is(err, io.EOF) {
		return p, errBadBody
	}
	return p, nil
}

func (p params) str(key string) string {
	if v := strings.TrimSpace(p.query.Get(key)); v != "" {
		return v
	}
	switch v := p.body[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// chatID returns 0 when the parameter is absent.
func (p params) chatID() (int64, error) {
	raw := p.str("telegramChatId")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errBadChatID
	}
	return id, nil
}

func (p params) flag(key string) bool {
	v, err := strconv.ParseBool(p.str(key))
	return err == nil && v
}
