package envelope

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka0519/TownReady/internal/pipeline"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		msg       Message
		wantJob   string
		wantTask  pipeline.Task
		wantDelay time.Duration
		wantErr   bool
	}{
		{
			name:     "task in body",
			msg:      Message{Data: b64(`{"job_id":"J1","task":"plan"}`)},
			wantJob:  "J1",
			wantTask: pipeline.Plan,
		},
		{
			name:     "task from type attribute is lower cased",
			msg:      Message{Data: b64(`{"job_id":"J1"}`), Attributes: map[string]string{AttrType: "SCENARIO"}},
			wantJob:  "J1",
			wantTask: pipeline.Scenario,
		},
		{
			name:     "body task wins over attribute",
			msg:      Message{Data: b64(`{"job_id":"J1","task":"Safety"}`), Attributes: map[string]string{AttrType: "plan"}},
			wantJob:  "J1",
			wantTask: pipeline.Safety,
		},
		{
			name:     "no task defaults to unknown",
			msg:      Message{Data: b64(`{"job_id":"J1"}`)},
			wantJob:  "J1",
			wantTask: pipeline.Unknown,
		},
		{
			name:      "delay attribute",
			msg:       Message{Data: b64(`{"job_id":"J1","task":"plan"}`), Attributes: map[string]string{AttrDelayMs: "2500"}},
			wantJob:   "J1",
			wantTask:  pipeline.Plan,
			wantDelay: 2500 * time.Millisecond,
		},
		{
			name:     "malformed delay ignored",
			msg:      Message{Data: b64(`{"job_id":"J1","task":"plan"}`), Attributes: map[string]string{AttrDelayMs: "soon"}},
			wantJob:  "J1",
			wantTask: pipeline.Plan,
		},
		{name: "missing data", msg: Message{}, wantErr: true},
		{name: "not base64", msg: Message{Data: "%%%"}, wantErr: true},
		{name: "not json", msg: Message{Data: b64("plan")}, wantErr: true},
		{name: "missing job id", msg: Message{Data: b64(`{"task":"plan"}`)}, wantErr: true},
		{name: "blank job id", msg: Message{Data: b64(`{"job_id":"  "}`)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantJob, got.JobID)
			assert.Equal(t, tt.wantTask, got.Task)
			assert.Equal(t, tt.wantDelay, got.Delay)
		})
	}
}

func TestDecode_DelayApplied(t *testing.T) {
	got, err := Decode(Message{
		Data:       b64(`{"job_id":"J1","task":"plan"}`),
		Attributes: map[string]string{AttrDelayMs: "1000", AttrDelayApplied: "true"},
	})
	require.NoError(t, err)
	assert.True(t, got.DelayApplied)
	assert.Equal(t, time.Second, got.Delay)
}

func TestEncodeBody_NewMessage(t *testing.T) {
	body, err := EncodeBody("J9", pipeline.Content)
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"J9","task":"content"}`, string(body))

	got, err := Decode(NewMessage(body, map[string]string{AttrType: "content"}))
	require.NoError(t, err)
	assert.Equal(t, "J9", got.JobID)
	assert.Equal(t, pipeline.Content, got.Task)
}
