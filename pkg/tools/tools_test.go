package tools_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lctools "github.com/tmc/langchaingo/tools"

	"github.com/xhad/hrcopilot/internal/types"
	"github.com/xhad/hrcopilot/pkg/tools"
)

type stubRetriever struct {
	chunks []string
	err    error
	gotK   int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]string, error) {
	s.gotK = k
	return s.chunks, s.err
}

var (
	_ lctools.Tool = tools.Calculator{}
	_ lctools.Tool = (*tools.VacationRequester)(nil)
	_ lctools.Tool = (*tools.KnowledgeBase)(nil)
)

func TestKnowledgeBase_Call(t *testing.T) {
	ctx := context.Background()
	r := &stubRetriever{chunks: []string{"23 días laborables", "se solicitan con 15 días"}}
	kb := tools.NewKnowledgeBase(r)

	out, err := kb.Call(ctx, "vacaciones")
	require.NoError(t, err)
	assert.Equal(t, 3, r.gotK)

	var res struct {
		Status string   `json:"status"`
		Result []string `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, r.chunks, res.Result)
}

func TestKnowledgeBase_Errors(t *testing.T) {
	ctx := context.Background()

	empty := tools.NewKnowledgeBase(&stubRetriever{err: fmt.Errorf("%w: no rows", types.ErrEmptyCollection)})
	out, err := empty.Call(ctx, "vacaciones")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","result":[]}`, out)

	down := tools.NewKnowledgeBase(&stubRetriever{err: fmt.Errorf("%w: refused", types.ErrEmbeddingUnavailable)})
	out, err = down.Call(ctx, "vacaciones")
	require.NoError(t, err)
	assert.Equal(t, "error", tools.Status(out))

	out, err = down.Call(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, "error", tools.Status(out))
}

func TestRegistry(t *testing.T) {
	reg := tools.NewRegistry(tools.Calculator{}, tools.NewVacationRequester(), tools.NewKnowledgeBase(&stubRetriever{}))
	assert.Equal(t, []string{"calculator", "search_knowledge_base", "vacation_request"}, reg.Names())

	tool, err := reg.Get("calculator")
	require.NoError(t, err)
	out, err := tool.Call(context.Background(), "2+2")
	require.NoError(t, err)
	assert.Equal(t, "success", tools.Status(out))

	_, err = reg.Get("send_email")
	assert.ErrorIs(t, err, types.ErrInvalidConfiguration)

	assert.Equal(t, "error", tools.Status("not json"))
}
