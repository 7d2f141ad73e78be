package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drtelemed/drsdk/internal/domain"
)

// OrderService fetches consultation orders.
type OrderService struct {
	client domain.RequestClient
}

// NewOrderService creates an OrderService.
func NewOrderService(client domain.RequestClient) *OrderService {
	return &OrderService{client: client}
}

// FetchOrder retrieves the order with the given id.
func (s *OrderService) FetchOrder(ctx context.Context, id string, done func(*domain.Consultation, error)) {
	path := "user/order/" + id
	s.client.Get(ctx, path, nil, func(data json.RawMessage, err error) {
		if err != nil {
			done(nil, fmt.Errorf("%s: %w", path, err))
			return
		}
		var c domain.Consultation
		if err := decode(path, data, &c); err != nil {
			done(nil, err)
			return
		}
		done(&c, nil)
	})
}
