package ipc

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbirk/pipc/pkg/rpc"
)

func TestBuildMethodTableAssignsPositions(t *testing.T) {
	table, err := buildMethodTable(DefaultMethods())
	require.NoError(t, err)

	for i, desc := range table {
		assert.Equal(t, uint32(i+1), desc.ID, desc.Name)
	}
	assert.Equal(t, "info", table[0].Name)
	assert.Equal(t, KindStream, table[0].Kind)
	assert.Equal(t, "closeClients", table[len(table)-1].Name)
}

func TestBuildMethodTableExplicitIDs(t *testing.T) {
	table, err := buildMethodTable([]MethodDescriptor{
		Request("a"),
		{Name: "b", Kind: KindSend, ID: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, uint32(1), table[0].ID)
	assert.Equal(t, uint32(100), table[1].ID)

	_, err = buildMethodTable([]MethodDescriptor{
		Request("a"),
		{Name: "b", ID: 1},
	})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestBuildMethodTableRejects(t *testing.T) {
	cases := map[string][]MethodDescriptor{
		"empty name": {Request("")},
		"reserved":   {Request("closing")},
		"ping":       {Request(pingMethodName)},
		"bad kind":   {{Name: "x", Kind: Kind(9)}},
		"duplicate":  {Request("x"), Stream("x")},
	}
	for name, descs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := buildMethodTable(descs)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)

			var cerr *ConfigError
			assert.ErrorAs(t, err, &cerr)
		})
	}
}

func TestIsReserved(t *testing.T) {
	for _, name := range []string{"id", "userData", "clients", "hasClients", "client", "ref", "unref", "ready", "opening", "opened", "close", "closing", "closed"} {
		assert.True(t, IsReserved(name), name)
	}
	assert.False(t, IsReserved("shutdown"))
}

func TestBindHandlerKinds(t *testing.T) {
	request := func(ctx context.Context, params any, c *Conn) (any, error) { return nil, nil }
	send := func(ctx context.Context, params any, c *Conn) {}
	stream := func(ctx context.Context, params any, c *Conn) iter.Seq2[any, error] { return nil }

	_, err := bindHandler(Request("r"), request)
	assert.NoError(t, err)
	_, err = bindHandler(Request("r"), RequestHandler(request))
	assert.NoError(t, err)
	_, err = bindHandler(Send("s"), send)
	assert.NoError(t, err)
	_, err = bindHandler(Send("s"), request)
	assert.NoError(t, err)
	_, err = bindHandler(Stream("st"), StreamHandler(stream))
	assert.NoError(t, err)

	_, err = bindHandler(Request("r"), send)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = bindHandler(Stream("st"), request)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = bindHandler(Send("s"), stream)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = bindHandler(Request("r"), "nope")
	assert.ErrorIs(t, err, ErrConfig)
	_, err = bindHandler(Request("r"), RequestHandler(nil))
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPlanMethods(t *testing.T) {
	conf := Config{
		Methods: []MethodDescriptor{Send("notify")},
		Handlers: Handlers{
			"notify": func(ctx context.Context, params any, c *Conn) {},
		},
		API: map[string]Override{
			"versions": func(m *rpc.Method, c *Conn) Func { return nil },
		},
	}.withDefaults()

	plans, err := planMethods(conf)
	require.NoError(t, err)
	require.Len(t, plans, len(DefaultMethods())+1)

	byName := map[string]methodPlan{}
	for _, p := range plans {
		byName[p.desc.Name] = p
	}
	assert.NotNil(t, byName["notify"].handler.send)
	assert.NotNil(t, byName["versions"].override)
	assert.False(t, byName["versions"].builtin)
	assert.True(t, byName["shutdown"].builtin)
	assert.True(t, byName["wakeup"].builtin)

	conf.API = map[string]Override{"missing": func(m *rpc.Method, c *Conn) Func { return nil }}
	_, err = planMethods(conf)
	assert.ErrorIs(t, err, ErrConfig)

	conf.API = nil
	conf.Handlers = Handlers{"missing": func(ctx context.Context, params any, c *Conn) (any, error) { return nil, nil }}
	_, err = planMethods(conf)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestIsPong(t *testing.T) {
	assert.True(t, isPong(map[string]any{"beat": "pong"}))
	assert.False(t, isPong(map[string]any{"beat": "ping"}))
	assert.False(t, isPong("pong"))
	assert.False(t, isPong(nil))
}

func TestConnectBackoff(t *testing.T) {
	assert.Equal(t, connectFastDelay, connectBackoff(0, 1))
	assert.Equal(t, connectFastDelay, connectBackoff(0, connectFastAttempts-1))
	assert.Equal(t, connectSteadyDelay, connectBackoff(0, connectFastAttempts))
}
