package remote

import (
	"context"
	"errors"

	"github.com/ormasoftchile/recipe/pkg/recipe"
)

// Follow submits groups through t and calls fn with every progress update
// until the executor reports SUCCESS or ERROR. fn first receives the
// all-pending view. The final progress is returned; transport and decoding
// failures are returned as *TransportError.
func Follow(ctx context.Context, t Transport, groups []recipe.CommandGroup, fn func(*Progress)) (*Progress, error) {
	payload, err := EncodeCommands(groups)
	if err != nil {
		return nil, err
	}
	last := Initial(groups)
	if fn != nil {
		fn(last)
	}

	if err := t.Submit(ctx, payload); err != nil {
		return last, asTransportError("submit", err)
	}
	for {
		op, err := t.Next(ctx)
		if err != nil {
			return last, asTransportError("next", err)
		}
		p, err := DecodeOperation(op)
		if err != nil {
			return last, &TransportError{Op: "decode", Err: err}
		}
		if p.Steps == nil {
			p.Steps = last.Steps
		}
		last = p
		if fn != nil {
			fn(p)
		}
		if p.Done() {
			return p, nil
		}
	}
}

func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
