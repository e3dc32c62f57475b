package handler // handler defines the HTTP handlers of every surface

import (
    "errors"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/studyhall-marketplace/internal/pricing"
    "github.com/iliyamo/studyhall-marketplace/internal/repository"
    "github.com/iliyamo/studyhall-marketplace/internal/service"
)

const requestTimeout = 5 * time.Second

var errNoUser = errors.New("invalid user_id in context")

// getUserID extracts the user_id the JWT middleware stored on the context
func getUserID(c echo.Context) (uint64, error) {
    switch t := c.Get("user_id").(type) { // tokens are parsed into uint64 but tests may set other kinds
    case uint64:
        return t, nil
    case int:
        return uint64(t), nil
    case int64:
        return uint64(t), nil
    case float64:
        return uint64(t), nil
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, errNoUser
}

// actorOf returns the authenticated caller as a service.Actor.
func actorOf(c echo.Context) (service.Actor, error) {
    uid, err := getUserID(c)
    if err != nil || uid == 0 {
        return service.Actor{}, errNoUser
    }
    role, _ := c.Get("role").(string)
    return service.Actor{UserID: uid, Role: role}, nil
}

// pathID parses a positive numeric path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
    id, err := strconv.ParseUint(c.Param(name), 10, 64)
    return id, err == nil && id > 0
}

// queryUint parses an optional numeric query parameter; missing is 0.
func queryUint(c echo.Context, name string) (uint64, bool) {
    raw := strings.TrimSpace(c.QueryParam(name))
    if raw == "" {
        return 0, true
    }
    n, err := strconv.ParseUint(raw, 10, 64)
    return n, err == nil
}

// queryPage reads page and page_size.
func queryPage(c echo.Context, def, max int) repository.Page {
    page, _ := strconv.Atoi(c.QueryParam("page"))
    size, _ := strconv.Atoi(c.QueryParam("page_size"))
    return repository.NewPage(page, size, def, max)
}

// queryDate parses an optional YYYY-MM-DD query parameter.
func queryDate(c echo.Context, name string) (*time.Time, error) {
    raw := strings.TrimSpace(c.QueryParam(name))
    if raw == "" {
        return nil, nil
    }
    t, err := pricing.ParseDate(raw)
    if err != nil {
        return nil, err
    }
    return &t, nil
}

// queryRange reads a required from/to (or start/end) pair.
func queryRange(c echo.Context, startKey, endKey string) (time.Time, time.Time, error) {
    start, err := pricing.ParseDate(c.QueryParam(startKey))
    if err != nil {
        return time.Time{}, time.Time{}, err
    }
    end, err := pricing.ParseDate(c.QueryParam(endKey))
    if err != nil {
        return time.Time{}, time.Time{}, err
    }
    return start, end, nil
}

// indexToRowLabel converts a zero-based index to an alphabetical row label like A, B, AA
func indexToRowLabel(i int) string {
    if i < 0 {
        return ""
    }
    res := []rune{}
    for {
        rem := i % 26
        res = append(res, rune('A'+rem))
        i = i/26 - 1
        if i < 0 {
            break
        }
    }
    for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 { // letters were produced least significant first
        res[j], res[k] = res[k], res[j]
    }
    return string(res)
}

// rowLabelToIndex converts a row label like A or AA into its zero-based index
func rowLabelToIndex(label string) (int, bool) {
    s := strings.ToUpper(strings.TrimSpace(label))
    if s == "" {
        return -1, false
    }
    n := 0
    for i := 0; i < len(s); i++ {
        ch := s[i]
        if ch < 'A' || ch > 'Z' {
            return -1, false
        }
        n = n*26 + int(ch-'A'+1) // bijective base 26
    }
    return n - 1, true
}
