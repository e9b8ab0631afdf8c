package crm

import (
	"context"
	"sync"

	"crm-gateway/internal/common/logging"
)

// SearchByPhone answers one logical phone lookup. The CRM can only search
// within a single (branch, study status) pair, so the gateway issues the
// full cross product concurrently and merges the pages.
//
// Sub-queries run on the shared semaphore, so no more than RequestLimit are
// in flight at once. A failed sub-query contributes nothing to the
// aggregate; one branch being briefly unavailable must not fail a parent's
// whole lookup. Only a missing token fails the search outright.
//
// Results merge in task-submission order (status-major, then branch), so
// identical CRM state yields identical item ordering.
func (c *Client) SearchByPhone(ctx context.Context, phone string) (*PageResult, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.Error("phone search aborted, no token", err)
		return nil, err
	}

	type task struct {
		branch  int
		isStudy int
	}

	tasks := make([]task, 0, len(branches)*len(studyStatuses))
	for _, isStudy := range studyStatuses {
		for _, branch := range branches {
			tasks = append(tasks, task{branch: branch, isStudy: isStudy})
		}
	}

	results := make([]*PageResult, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t task) {
			defer wg.Done()

			body := map[string]interface{}{
				"is_study": t.isStudy,
				"page":     0,
				"phone":    phone,
			}

			var page PageResult
			err := c.dispatch(ctx, c.endpoint("%d/customer/index", t.branch), body, nil, token, &page)
			if err != nil {
				c.logger.Warn("sub-query failed",
					logging.Int("branch", t.branch),
					logging.Int("is_study", t.isStudy),
					logging.Err(err))
				return
			}
			results[i] = &page
		}(i, t)
	}
	wg.Wait()

	aggregate := &PageResult{}
	for _, page := range results {
		if page == nil {
			continue
		}
		aggregate.Total += page.Total
		aggregate.Count += page.Count
		aggregate.Items = append(aggregate.Items, page.Items...)
	}

	c.logger.Info("phone search merged",
		logging.Int("sub_queries", len(tasks)),
		logging.Int("total", aggregate.Total))
	return aggregate, nil
}
