package transport

import "time"

// CreateResourceRequest registers a Whop product or plan as a resource.
type CreateResourceRequest struct {
	Name          string  `json:"name" validate:"required,min=1,max=200"`
	WhopProductID *string `json:"whopProductId" validate:"required_without=WhopPlanID,omitempty,min=1"`
	WhopPlanID    *string `json:"whopPlanId" validate:"required_without=WhopProductID,omitempty,min=1"`
}

type ResourceResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	WhopProductID *string   `json:"whopProductId,omitempty"`
	WhopPlanID    *string   `json:"whopPlanId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ResourceListResponse struct {
	Items []ResourceResponse `json:"items"`
}
