package tools_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/hrcopilot/pkg/tools"
)

// Wednesday
var reference = time.Date(2026, time.March, 4, 15, 30, 0, 0, time.UTC)

func TestParseDate(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"2/3/2026", "2026-03-02"},
		{"02-03-2026", "2026-03-02"},
		{"2026-03-09", "2026-03-09"},
		{"hoy", "2026-03-04"},
		{"Today", "2026-03-04"},
		{"mañana", "2026-03-05"},
		{"manana", "2026-03-05"},
		{"tomorrow", "2026-03-05"},
		{"pasado mañana", "2026-03-06"},
		{"lunes", "2026-03-09"},
		{"el lunes", "2026-03-09"},
		{"el próximo viernes", "2026-03-06"},
		{"el proximo viernes", "2026-03-06"},
		{"next friday", "2026-03-06"},
		{"Friday", "2026-03-06"},
		{"miércoles", "2026-03-11"},
		{"sábado", "2026-03-07"},
		{"  el   próximo   DOMINGO ", "2026-03-08"},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := tools.ParseDate(tt.value, reference)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestParseDate_Errors(t *testing.T) {
	for _, value := range []string{"", "someday", "31/2/2026", "2026-13-01", "next month"} {
		t.Run(value, func(t *testing.T) {
			_, err := tools.ParseDate(value, reference)
			assert.Error(t, err)
		})
	}
}

func TestVacationRequester_Request(t *testing.T) {
	v := &tools.VacationRequester{Now: func() time.Time { return reference }}
	end := "5/3/2026"
	five := 5
	zero := 0
	before := "1/3/2026"

	res, err := v.Request(tools.VacationRequest{Start: "2/3/2026", End: &end})
	require.NoError(t, err)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "2026-03-02", res.StartDate)
	assert.Equal(t, "2026-03-05", res.EndDate)
	assert.Equal(t, "Vacaciones solicitadas desde 2026-03-02 hasta 2026-03-05", res.Message)

	res, err = v.Request(tools.VacationRequest{Start: "lunes", Days: &five, Reason: "boda"})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-09", res.StartDate)
	assert.Equal(t, "2026-03-13", res.EndDate)
	assert.Equal(t, "Vacaciones solicitadas desde 2026-03-09 hasta 2026-03-13 por motivo: boda", res.Message)

	_, err = v.Request(tools.VacationRequest{Start: "lunes"})
	assert.Error(t, err)

	_, err = v.Request(tools.VacationRequest{Start: "lunes", Days: &zero})
	assert.Error(t, err)

	_, err = v.Request(tools.VacationRequest{Start: "2/3/2026", End: &before})
	assert.Error(t, err)
}

func TestVacationRequester_Call(t *testing.T) {
	v := &tools.VacationRequester{Now: func() time.Time { return reference }}
	ctx := context.Background()

	out, err := v.Call(ctx, `{"start": "el próximo viernes", "days": 3}`)
	require.NoError(t, err)
	var res tools.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, "2026-03-06", res.StartDate)
	assert.Equal(t, "2026-03-08", res.EndDate)

	out, err = v.Call(ctx, "mañana")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "2026-03-05", res.StartDate)
	assert.Equal(t, "2026-03-05", res.EndDate)

	out, err = v.Call(ctx, `{"start": "whenever", "days": 1}`)
	require.NoError(t, err)
	assert.Equal(t, "error", tools.Status(out))
}
