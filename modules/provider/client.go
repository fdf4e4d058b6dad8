package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"clinicsync/core/config"
	"clinicsync/core/constants"
	"clinicsync/core/errors"
	"clinicsync/core/logger"
	"clinicsync/core/timeutil"
	apptEntity "clinicsync/modules/appointment/entity"
	connRepository "clinicsync/modules/connection/repository"
	connService "clinicsync/modules/connection/service"
	"clinicsync/modules/provider/dto"

	"github.com/google/uuid"
)

// Client is the thin REST client over the external calendar's event
// endpoints. Every call authenticates through the token vault; a
// 401/invalid_token response triggers exactly one forced refresh and
// retry before the failure surfaces.
type Client interface {
	ListBusyEvents(ctx context.Context, connectionID uuid.UUID, from, to time.Time) ([]dto.ExternalEvent, *errors.AppError)
	CreateEvent(ctx context.Context, connectionID uuid.UUID, appt *apptEntity.Appointment) (string, *errors.AppError)
	UpdateEvent(ctx context.Context, connectionID uuid.UUID, externalID string, appt *apptEntity.Appointment) *errors.AppError
}

type client struct {
	vault      connService.TokenVault
	connRepo   connRepository.ConnectionRepository
	httpClient *http.Client
	baseURL    string
	pageSize   int
	maxEvents  int
}

type Option func(*client)

// WithBaseURL overrides the configured API base. Test hook.
func WithBaseURL(u string) Option {
	return func(c *client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *client) { c.httpClient = h }
}

func NewClient(vault connService.TokenVault, connRepo connRepository.ConnectionRepository, opts ...Option) Client {
	c := &client{
		vault:      vault,
		connRepo:   connRepo,
		httpClient: &http.Client{Timeout: constants.DefaultTimeout},
		pageSize:   constants.DefaultPageSize,
		maxEvents:  constants.DefaultMaxEvents,
	}
	if cfg, ok := config.GetSafe(); ok {
		c.baseURL = cfg.Provider.APIBaseURL
		if cfg.Sync.PageSize > 0 {
			c.pageSize = cfg.Sync.PageSize
		}
		if cfg.Sync.MaxEvents > 0 {
			c.maxEvents = cfg.Sync.MaxEvents
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *client) ListBusyEvents(ctx context.Context, connectionID uuid.UUID, from, to time.Time) ([]dto.ExternalEvent, *errors.AppError) {
	conn, err := c.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return nil, errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}

	var events []dto.ExternalEvent
	pageToken := ""
	for {
		query := url.Values{}
		query.Set("timeMin", from.UTC().Format(time.RFC3339))
		query.Set("timeMax", to.UTC().Format(time.RFC3339))
		query.Set("singleEvents", "true")
		query.Set("maxResults", fmt.Sprintf("%d", c.pageSize))
		if pageToken != "" {
			query.Set("pageToken", pageToken)
		}

		body, appErr := c.doRequest(ctx, connectionID, http.MethodGet, "/calendars/primary/events?"+query.Encode(), nil)
		if appErr != nil {
			return nil, appErr
		}

		var page dto.EventListResponse
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, errors.NewAppError(errors.ErrInternalServer, "failed to parse event list", err)
		}

		for _, item := range page.Items {
			// The engine only ever reasons about busy time.
			if item.Transparency == "transparent" {
				continue
			}
			if item.Status == "cancelled" {
				continue
			}
			event, convErr := c.toExternalEvent(&item, conn.TimeZone)
			if convErr != nil {
				logger.Warn("ProviderClient:ListBusyEvents:SkipUnparseable",
					"external_id", item.ID, "error", convErr)
				continue
			}
			events = append(events, *event)
		}

		if len(events) >= c.maxEvents {
			logger.Warn("ProviderClient:ListBusyEvents:EventCapReached",
				"connection_id", connectionID, "cap", c.maxEvents)
			events = events[:c.maxEvents]
			break
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	logger.Info("ProviderClient:ListBusyEvents:Complete",
		"connection_id", connectionID, "count", len(events))
	return events, nil
}

func (c *client) CreateEvent(ctx context.Context, connectionID uuid.UUID, appt *apptEntity.Appointment) (string, *errors.AppError) {
	conn, err := c.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return "", errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}

	payload, marshalErr := json.Marshal(c.toWireEvent(appt, conn.TimeZone))
	if marshalErr != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to encode event", marshalErr)
	}

	body, appErr := c.doRequest(ctx, connectionID, http.MethodPost, "/calendars/primary/events", payload)
	if appErr != nil {
		return "", appErr
	}

	var created dto.WireEvent
	if err := json.Unmarshal(body, &created); err != nil {
		return "", errors.NewAppError(errors.ErrInternalServer, "failed to parse created event", err)
	}
	if created.ID == "" {
		return "", errors.NewAppError(errors.ErrProviderRejected, "provider returned no event id", nil)
	}
	return created.ID, nil
}

func (c *client) UpdateEvent(ctx context.Context, connectionID uuid.UUID, externalID string, appt *apptEntity.Appointment) *errors.AppError {
	conn, err := c.connRepo.GetByID(ctx, connectionID)
	if err != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to load connection", err)
	}
	if conn == nil {
		return errors.NewAppError(errors.ErrNotFound, "connection not found", nil)
	}

	payload, marshalErr := json.Marshal(c.toWireEvent(appt, conn.TimeZone))
	if marshalErr != nil {
		return errors.NewAppError(errors.ErrInternalServer, "failed to encode event", marshalErr)
	}

	_, appErr := c.doRequest(ctx, connectionID, http.MethodPut, "/calendars/primary/events/"+url.PathEscape(externalID), payload)
	return appErr
}

// doRequest performs one authenticated call. On a 401 it forces a
// single token refresh and retries once; any further 401 surfaces.
func (c *client) doRequest(ctx context.Context, connectionID uuid.UUID, method, path string, payload []byte) ([]byte, *errors.AppError) {
	token, appErr := c.vault.GetValidAccessToken(ctx, connectionID)
	if appErr != nil {
		return nil, appErr
	}

	body, status, appErr := c.send(ctx, method, path, payload, token)
	if appErr != nil {
		return nil, appErr
	}
	if status == http.StatusUnauthorized {
		logger.Info("ProviderClient:doRequest:ForcedRefresh", "connection_id", connectionID)
		token, appErr = c.vault.ForceRefresh(ctx, connectionID)
		if appErr != nil {
			return nil, appErr
		}
		body, status, appErr = c.send(ctx, method, path, payload, token)
		if appErr != nil {
			return nil, appErr
		}
		if status == http.StatusUnauthorized {
			return nil, errors.NewAppErrorWithHint(errors.ErrAuthExpired,
				"provider rejected a freshly refreshed token",
				"reconnect the calendar account", nil)
		}
	}

	return c.classify(status, body)
}

func (c *client) send(ctx context.Context, method, path string, payload []byte, token string) ([]byte, int, *errors.AppError) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, errors.NewAppError(errors.ErrInternalServer, "failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.NewAppError(errors.ErrProviderUnavailable, "provider request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, errors.NewAppError(errors.ErrProviderUnavailable, "failed to read provider response", err)
	}
	return body, resp.StatusCode, nil
}

func (c *client) classify(status int, body []byte) ([]byte, *errors.AppError) {
	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status == http.StatusTooManyRequests:
		return nil, errors.NewAppErrorWithHint(errors.ErrProviderRateLimited,
			"provider rate limit exceeded", "sync will retry with backoff", nil)
	case status >= 500:
		return nil, errors.NewAppError(errors.ErrProviderUnavailable,
			fmt.Sprintf("provider error: %d", status), nil)
	default:
		return nil, errors.NewAppError(errors.ErrProviderRejected,
			fmt.Sprintf("provider rejected request: %d: %s", status, truncate(body, 200)), nil)
	}
}

func (c *client) toExternalEvent(item *dto.WireEvent, fallbackZone string) (*dto.ExternalEvent, *errors.AppError) {
	event := &dto.ExternalEvent{
		ExternalID:  item.ID,
		Title:       item.Summary,
		Description: item.Description,
	}

	if item.Updated != "" {
		if updated, err := timeutil.ParseInstant(item.Updated); err == nil {
			event.Updated = &updated
		}
	}

	start, end, appErr := resolveEventTimes(&item.Start, &item.End, fallbackZone)
	if appErr != nil {
		return nil, appErr
	}
	event.StartsAt = start
	event.EndsAt = end
	event.AllDay = item.Start.Date != ""
	return event, nil
}

// resolveEventTimes normalizes the provider's start/end shapes. All-day
// events (date without time) become the full-day range in the event's
// stated zone, defaulting to the connection owner's zone.
func resolveEventTimes(start, end *dto.EventTime, fallbackZone string) (time.Time, time.Time, *errors.AppError) {
	if start.Date != "" {
		zone := start.TimeZone
		if zone == "" {
			zone = fallbackZone
		}
		dayStart, dayEnd, appErr := timeutil.AllDayRange(start.Date, zone)
		if appErr != nil {
			return time.Time{}, time.Time{}, appErr
		}
		if end.Date != "" && end.Date != start.Date {
			// Multi-day all-day event: the provider end date is
			// exclusive, so the range ends at that day's midnight.
			exclusiveEnd, _, appErr := timeutil.AllDayRange(end.Date, zone)
			if appErr == nil && exclusiveEnd.After(dayStart) {
				dayEnd = exclusiveEnd
			}
		}
		return dayStart, dayEnd, nil
	}

	startAt, appErr := timeutil.ParseInstant(start.DateTime)
	if appErr != nil {
		return time.Time{}, time.Time{}, appErr
	}
	endAt, appErr := timeutil.ParseInstant(end.DateTime)
	if appErr != nil {
		return time.Time{}, time.Time{}, appErr
	}
	return startAt, endAt, nil
}

func (c *client) toWireEvent(appt *apptEntity.Appointment, zone string) *dto.WireEvent {
	return &dto.WireEvent{
		Summary:     appt.Title,
		Description: appt.Notes,
		Start: dto.EventTime{
			DateTime: appt.StartsAt.UTC().Format(time.RFC3339),
			TimeZone: zone,
		},
		End: dto.EventTime{
			DateTime: appt.EndsAt.UTC().Format(time.RFC3339),
			TimeZone: zone,
		},
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
