package crm

import (
	"context"
	"encoding/json"
	"fmt"

	"crm-gateway/internal/common/errors"
	"crm-gateway/internal/common/logging"
)

// withToken runs fn with a valid token, re-authenticating once if the CRM
// answers 401. There is no loop: a second 401 means the account itself is
// broken and surfaces as-is.
func (c *Client) withToken(ctx context.Context, fn func(token string) error) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	err = fn(token)
	if !errors.IsType(err, errors.ErrTypeUnauthorized) {
		return err
	}

	c.logger.Info("token rejected, re-authenticating once")
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

// FindUserByPhone looks a customer up across every branch and study status.
func (c *Client) FindUserByPhone(ctx context.Context, phone string) (*PageResult, error) {
	return c.SearchByPhone(ctx, phone)
}

// CreateCustomer registers a new customer in the primary branch. The name
// carries the Telegram username so managers can see where the lead came
// from.
func (c *Client) CreateCustomer(ctx context.Context, draft CustomerDraft) (json.RawMessage, error) {
	body := map[string]interface{}{
		"name":       fmt.Sprintf("%s %s | %s", draft.FirstName, draft.LastName, draft.Username),
		"phone":      draft.Phone,
		"branch_ids": 1,
		"legal_type": 1,
		"is_study":   0,
		"note":       "created by Telegram BOT",
	}

	var result json.RawMessage
	err := c.withToken(ctx, func(token string) error {
		return c.dispatch(ctx, c.endpoint("1/customer/create"), body, nil, token, &result)
	})
	if err != nil {
		c.logger.Error("customer creation failed", err, logging.String("phone", draft.Phone))
		return nil, err
	}

	c.logger.Info("customer created", logging.String("phone", draft.Phone))
	return result, nil
}

// LessonQuery selects lessons for one customer in one branch.
type LessonQuery struct {
	CustomerID int
	BranchID   int
	Status     int // LessonStatusPlanned etc; zero value means planned
	Type       int // LessonTypeGroup etc; zero value means group
	Page       int
}

func (q LessonQuery) withDefaults() LessonQuery {
	if q.Status == 0 {
		q.Status = LessonStatusPlanned
	}
	if q.Type == 0 {
		q.Type = LessonTypeGroup
	}
	return q
}

// ClientLessons fetches one page of a customer's lessons.
func (c *Client) ClientLessons(ctx context.Context, q LessonQuery) (*PageResult, error) {
	q = q.withDefaults()

	body := map[string]interface{}{
		"customer_id":    q.CustomerID,
		"status":         q.Status,
		"lesson_type_id": q.Type,
		"page":           q.Page,
	}

	var page PageResult
	err := c.withToken(ctx, func(token string) error {
		return c.dispatch(ctx, c.endpoint("%d/lesson/index", q.BranchID), body, nil, token, &page)
	})
	if err != nil {
		c.logger.Warn("lesson query failed", logging.Int("customer", q.CustomerID), logging.Err(err))
		return nil, err
	}
	return &page, nil
}

// LastLesson jumps to the final page of a customer's lesson history. The
// jump is page = total / count, an approximation the original system ships
// with: when total is not a clean multiple of count this lands on the last
// page only up to integer-division rounding. Preserved as-is.
func (c *Client) LastLesson(ctx context.Context, q LessonQuery) (*PageResult, error) {
	first, err := c.ClientLessons(ctx, q)
	if err != nil {
		return nil, err
	}

	if first.Total <= first.Count || first.Count == 0 {
		return first, nil
	}

	q.Page = first.Total / first.Count
	return c.ClientLessons(ctx, q)
}

// FindClientByID fetches one customer record by CRM id within a branch.
func (c *Client) FindClientByID(ctx context.Context, branchID, crmID int) (*PageResult, error) {
	body := map[string]interface{}{
		"id":   crmID,
		"page": 0,
	}

	var page PageResult
	err := c.withToken(ctx, func(token string) error {
		return c.dispatch(ctx, c.endpoint("%d/customer/index", branchID), body, nil, token, &page)
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// CustomerGroups lists the study-group memberships of a customer.
func (c *Client) CustomerGroups(ctx context.Context, branchID, crmID int) (*PageResult, error) {
	body := map[string]interface{}{
		"customer_id": crmID,
		"page":        0,
	}

	var page PageResult
	err := c.withToken(ctx, func(token string) error {
		return c.dispatch(ctx, c.endpoint("%d/cgi/index", branchID), body, nil, token, &page)
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// GroupLink fetches one study group; its note field holds the group's
// Telegram invite link.
func (c *Client) GroupLink(ctx context.Context, branchID, groupID int) (*PageResult, error) {
	body := map[string]interface{}{
		"id":   groupID,
		"page": 0,
	}

	var page PageResult
	err := c.withToken(ctx, func(token string) error {
		return c.dispatch(ctx, c.endpoint("%d/group/index", branchID), body, nil, token, &page)
	})
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// TelegramGroupLinks collects the invite links for every group a customer
// belongs to. Groups whose lookup fails are skipped.
func (c *Client) TelegramGroupLinks(ctx context.Context, branchID, crmID int) ([]string, error) {
	groups, err := c.CustomerGroups(ctx, branchID, crmID)
	if err != nil {
		return nil, err
	}

	var links []string
	for _, item := range groups.Items {
		var membership struct {
			GroupID int `json:"group_id"`
		}
		if err := json.Unmarshal(item, &membership); err != nil || membership.GroupID == 0 {
			continue
		}

		group, err := c.GroupLink(ctx, branchID, membership.GroupID)
		if err != nil || len(group.Items) == 0 {
			c.logger.Warn("group lookup failed", logging.Int("group", membership.GroupID))
			continue
		}

		var note struct {
			Note string `json:"note"`
		}
		if err := json.Unmarshal(group.Items[0], &note); err == nil && note.Note != "" {
			links = append(links, note.Note)
		}
	}
	return links, nil
}
