package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"liveclass/pkg/types"
)

// pollTick waits one polling interval, then re-fetches the latest check
// once. The run loop retries the push transport after every tick, so a
// degraded client converges with push-mode observers within one interval.
// Returns true when the client should stop (session ended or closed).
func (c *Client) pollTick() bool {
	timer := time.NewTimer(c.interval)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return true
	case <-timer.C:
		return c.pollOnce()
	}
}

// pollOnce issues the degraded-mode query and feeds the result through the
// same reconciliation step the push path uses.
func (c *Client) pollOnce() bool {
	url := fmt.Sprintf("%s/api/sessions/%s/check", trimTrailingSlash(c.opts.BaseURL), c.opts.SessionID)
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Both transports down; stay degraded and try again next tick.
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var info types.CheckInfo
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return false
		}
		if c.reconcile(info.CheckID, info.Question, info.Timestamp) {
			c.emitCheckStarted(info)
		}
		return false
	case http.StatusNoContent, http.StatusNotFound:
		// Idle session, or a session not created yet; nothing to reconcile.
		return false
	case http.StatusGone:
		c.emit(ServerEvent{
			Type:      types.EventSessionEnded,
			SessionID: c.opts.SessionID,
			Timestamp: time.Now(),
		})
		return true
	default:
		return false
	}
}

// reconcile is the single compare-and-set both producers (push events and
// poll results) feed into. A changed check ID replaces the local view and
// resets the answered flag; a matching ID is a no-op so duplicate delivery
// across the two paths never surfaces twice. Returns true when the check
// was new.
func (c *Client) reconcile(checkID, question string, _ time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if checkID == "" || checkID == c.currentCheckID {
		return false
	}
	c.currentCheckID = checkID
	c.question = question
	c.answered = false
	return true
}

// emitCheckStarted synthesizes the push-path event for a check discovered by
// polling, so consumers handle one event shape regardless of transport.
func (c *Client) emitCheckStarted(info types.CheckInfo) {
	payload, err := json.Marshal(types.CheckStartedPayload{
		CheckID:   info.CheckID,
		Question:  info.Question,
		Timestamp: info.Timestamp,
	})
	if err != nil {
		return
	}
	c.emit(ServerEvent{
		Type:      types.EventCheckStarted,
		SessionID: c.opts.SessionID,
		Timestamp: info.Timestamp,
		Payload:   payload,
	})
}
