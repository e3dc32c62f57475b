package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/realtime"
	"github.com/iliyamo/studyhall-marketplace/internal/repository"
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

const (
	heartbeatEvery = 25 * time.Second
	maxTopics      = 20
)

var (
	errBadTopic    = errors.New("invalid topic")
	errTopicDenied = errors.New("topic not permitted")
)

// StreamHandler serves the Server-Sent Events change feed.
type StreamHandler struct {
	Hub       *realtime.Hub
	Bookings  *repository.BookingRepo
	Incharges *repository.InchargeRepo
	Log       *zap.Logger
	heartbeat time.Duration
}

func NewStreamHandler(repos service.Repos, hub *realtime.Hub, log *zap.Logger) *StreamHandler {
	return &StreamHandler{Hub: hub, Bookings: repos.Bookings, Incharges: repos.Incharges, Log: log, heartbeat: heartbeatEvery}
}

func hallTopics(h model.StudyHall) []string {
	return []string{realtime.HallTopic(h.ID), realtime.MerchantTopic(h.OwnerID)}
}

// authorize checks every requested topic against the caller.  Hall topics
// are public; merchant topics belong to that merchant; booking topics are
// visible to the student, the hall's staff and support roles.
func (h *StreamHandler) authorize(ctx context.Context, actor service.Actor, topics []string) error {
	for _, t := range topics {
		kind, id, err := realtime.ParseTopic(t)
		if err != nil {
			return fmt.Errorf("%w: %v", errBadTopic, err)
		}
		if actor.Role == model.RoleAdmin {
			continue
		}
		switch kind {
		case "hall":
		case "merchant":
			if id != actor.UserID {
				return fmt.Errorf("%w: %s", errTopicDenied, t)
			}
		case "booking":
			ok, err := h.canWatchBooking(ctx, actor, id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", errTopicDenied, t)
			}
		}
	}
	return nil
}

func (h *StreamHandler) canWatchBooking(ctx context.Context, actor service.Actor, id uint64) (bool, error) {
	d, err := h.Bookings.GetDetail(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch {
	case d.UserID == actor.UserID, d.OwnerID == actor.UserID:
		return true, nil
	case actor.Role == model.RoleCustomerCare:
		return true, nil
	case actor.Role == model.RoleIncharge:
		return h.Incharges.IsAssigned(ctx, actor.UserID, d.StudyHallID)
	}
	return false, nil
}

func parseTopics(raw string) []string {
	seen := map[string]bool{}
	out := make([]string, 0)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// Stream handles GET /v1/realtime?topics=a,b.  Each change is sent as an
// "change" event; a comment line keeps idle connections open.
func (h *StreamHandler) Stream(c echo.Context) error {
	actor, err := actorOf(c)
	if err != nil {
		return unauthorized(c)
	}
	topics := parseTopics(c.QueryParam("topics"))
	if len(topics) == 0 || len(topics) > maxTopics {
		return badRequest(c, fmt.Sprintf("between 1 and %d topics required", maxTopics))
	}
	ctx := c.Request().Context()
	if err := h.authorize(ctx, actor, topics); err != nil {
		switch {
		case errors.Is(err, errBadTopic):
			return badRequest(c, err.Error())
		case errors.Is(err, errTopicDenied):
			return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden", "message": err.Error()})
		}
		return respondError(c, err)
	}

	sub, err := h.Hub.Subscribe(ctx, topics)
	if err != nil {
		if errors.Is(err, realtime.ErrUnavailable) {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "realtime_unavailable", "message": err.Error()})
		}
		return respondError(c, err)
	}
	defer sub.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(res, ": connected\n\n"); err != nil {
		return nil
	}
	res.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ch, ok := <-sub.C:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ch)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(res, "event: change\ndata: %s\n\n", payload); err != nil {
				h.Log.Debug("realtime client gone", zap.Uint64("user_id", actor.UserID), zap.Error(err))
				return nil
			}
			res.Flush()
		}
	}
}
