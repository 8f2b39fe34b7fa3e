package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareOrder(t *testing.T) {
	var order []string

	tag := func(name string) Middleware {
		return func(ctx context.Context, params any, next Handler) (any, error) {
			order = append(order, name)
			return next(ctx, params)
		}
	}

	final := func(ctx context.Context, params any) (any, error) {
		order = append(order, "final")
		return params, nil
	}

	res, err := ApplyHandlerChain(context.Background(), "x", []Middleware{tag("a"), tag("b")}, final)
	require.NoError(t, err)
	assert.Equal(t, "x", res)
	assert.Equal(t, []string{"a", "b", "final"}, order)
}

func TestMiddlewareShortCircuit(t *testing.T) {
	reject := func(ctx context.Context, params any, next Handler) (any, error) {
		return nil, errors.New("rejected")
	}

	called := false
	final := func(ctx context.Context, params any) (any, error) {
		called = true
		return nil, nil
	}

	_, err := Chain([]Middleware{reject}, final)(context.Background(), nil)
	assert.EqualError(t, err, "rejected")
	assert.False(t, called)
}

func TestFrameRoundTrip(t *testing.T) {
	f := frame{kind: frameStreamData, flags: flagFromOpener, channel: 12, id: 1 << 40, payload: []byte(`"ex"`)}

	out, err := decodeFrame(f.encode())
	require.NoError(t, err)
	assert.Equal(t, f, out)

	_, err = decodeFrame([]byte{0x01})
	assert.Error(t, err)

	bad := frame{kind: 0x7f}.encode()
	_, err = decodeFrame(bad)
	assert.Error(t, err)
}

func TestJSONCodec(t *testing.T) {
	bs, err := JSONCodec.Marshal(map[string]any{"result": "good", "n": 3})
	require.NoError(t, err)

	v, err := JSONCodec.Unmarshal(bs)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"result": "good", "n": float64(3)}, v)

	v, err = JSONCodec.Unmarshal(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}
