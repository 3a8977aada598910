package remote

import (
	"context"
	"fmt"
	"net/http"

	"github.com/matheus3301/wpprtc/internal/model"
)

// Stories lists the status updates visible to the local user.
func (c *Client) Stories(ctx context.Context) ([]model.Story, error) {
	var out []model.Story
	if err := c.getJSON(ctx, &out, "status"); err != nil {
		return nil, fmt.Errorf("list status: %w", err)
	}
	return out, nil
}

// CreateStory posts a status update with text content, media, or both.
func (c *Client) CreateStory(ctx context.Context, content string, media *model.Media) (model.Story, error) {
	body, contentType, err := encodeForm(map[string]string{"content": content}, media)
	if err != nil {
		return model.Story{}, fmt.Errorf("create status: %w", err)
	}
	var out model.Story
	if err := c.do(ctx, http.MethodPost, c.endpoint("status"), body, contentType, &out); err != nil {
		return model.Story{}, fmt.Errorf("create status: %w", err)
	}
	return out, nil
}

// ViewStory records that the local user viewed a status update.
func (c *Client) ViewStory(ctx context.Context, id string) error {
	if err := c.getJSON(ctx, nil, "status", id, "view"); err != nil {
		return fmt.Errorf("view status: %w", err)
	}
	return nil
}

// StoryViewers lists who viewed a status update.
func (c *Client) StoryViewers(ctx context.Context, id string) ([]model.User, error) {
	var out []model.User
	if err := c.getJSON(ctx, &out, "status", id, "viewers"); err != nil {
		return nil, fmt.Errorf("status viewers: %w", err)
	}
	return out, nil
}

// DeleteStory deletes a status update.
func (c *Client) DeleteStory(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.endpoint("status", id), nil, "", nil); err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	return nil
}
