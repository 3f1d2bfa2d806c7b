package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		in       string
		wantErr  bool
		wantFreq string
		wantDays []time.Weekday
	}{
		{in: "FREQ=DAILY", wantFreq: "DAILY"},
		{in: "FREQ=WEEKLY;BYDAY=FR,MO", wantFreq: "WEEKLY", wantDays: []time.Weekday{time.Monday, time.Friday}},
		{in: "RRULE:FREQ=MONTHLY;INTERVAL=2", wantFreq: "MONTHLY"},
		{in: "FREQ=YEARLY;COUNT=4", wantFreq: "YEARLY"},
		{in: "FREQ=WEEKLY;WKST=SU;BYDAY=SU", wantFreq: "WEEKLY", wantDays: []time.Weekday{time.Sunday}},
		{in: "", wantErr: true},
		{in: "INVALID_RULE", wantErr: true},
		{in: "BYDAY=MO", wantErr: true},
		{in: "FREQ=FORTNIGHTLY", wantErr: true},
		{in: "FREQ=MINUTELY", wantErr: true},
		{in: "FREQ=MONTHLY;BYMONTHDAY=15", wantErr: true},
		{in: "FREQ=MONTHLY;BYDAY=1MO", wantErr: true},
		{in: "FREQ=WEEKLY;BYDAY=", wantErr: true},
		{in: "FREQ=DAILY;COUNT=-1", wantErr: true},
		{in: "FREQ=DAILY\nRRULE:FREQ=DAILY", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			r, err := ParseRule(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, errInvalidRule)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantFreq, r.Frequency())
			assert.Equal(t, tt.wantDays, r.ByDay())
		})
	}
}
