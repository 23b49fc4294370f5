package broker

import (
	"context"
	"fmt"
	"time"
)

// WithTimeout bounds every call on g by d. A call that does not return in
// time fails with ErrTimeout; the underlying call is left to finish on its
// own since the gateway contract has no way to abort an in-flight request.
func WithTimeout(g Gateway, d time.Duration) Gateway {
	if d <= 0 {
		return g
	}
	return &timeoutGateway{next: g, d: d}
}

type timeoutGateway struct {
	next Gateway
	d    time.Duration
}

func bounded[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%s after %s: %w", op, d, ErrTimeout)
	}
}

func (t *timeoutGateway) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	return bounded(ctx, t.d, "create order", func(ctx context.Context) (string, error) {
		return t.next.CreateOrder(ctx, req)
	})
}

func (t *timeoutGateway) UpdateOrder(ctx context.Context, key string, req OrderRequest) error {
	_, err := bounded(ctx, t.d, "update order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.UpdateOrder(ctx, key, req)
	})
	return err
}

func (t *timeoutGateway) CancelOrder(ctx context.Context, key string) error {
	_, err := bounded(ctx, t.d, "cancel order", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.CancelOrder(ctx, key)
	})
	return err
}

func (t *timeoutGateway) IsOrderActive(ctx context.Context, key string) (bool, error) {
	return bounded(ctx, t.d, "order active", func(ctx context.Context) (bool, error) {
		return t.next.IsOrderActive(ctx, key)
	})
}

func (t *timeoutGateway) Orders(ctx context.Context, symbol string) ([]OrderState, error) {
	return bounded(ctx, t.d, "orders", func(ctx context.Context) ([]OrderState, error) {
		return t.next.Orders(ctx, symbol)
	})
}

func (t *timeoutGateway) CurrentPosition(ctx context.Context, symbol string) (Position, error) {
	return bounded(ctx, t.d, "current position", func(ctx context.Context) (Position, error) {
		return t.next.CurrentPosition(ctx, symbol)
	})
}
