package redisbus

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
)

type recordingHandler struct {
	scheduleChanges []int64
	testRequests    []string
}

func (h *recordingHandler) HandleScheduleChanged(ctx context.Context, busID int64) {
	h.scheduleChanges = append(h.scheduleChanges, busID)
}

func (h *recordingHandler) HandleTestRequested(ctx context.Context, jobKey string) {
	h.testRequests = append(h.testRequests, jobKey)
}

func testListener(h Handler) *Listener {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewListener(nil, h, logrus.NewEntry(log))
}

func TestParseScheduleUpdate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		busID   int64
		wantErr bool
	}{
		{name: "single bus", payload: `{"bus_id": 42}`, busID: 42},
		{name: "absent bus id means all buses", payload: `{}`, busID: 0},
		{name: "null bus id means all buses", payload: `{"bus_id": null}`, busID: 0},
		{name: "explicit zero means all buses", payload: `{"bus_id": 0}`, busID: 0},
		{name: "negative bus id", payload: `{"bus_id": -3}`, wantErr: true},
		{name: "malformed json", payload: `{"bus_id":`, wantErr: true},
		{name: "wrong type", payload: `{"bus_id": "seven"}`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			busID, err := parseScheduleUpdate(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseScheduleUpdate(%q) accepted, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScheduleUpdate(%q) error: %v", tt.payload, err)
			}
			if busID != tt.busID {
				t.Fatalf("parseScheduleUpdate(%q) = %d, want %d", tt.payload, busID, tt.busID)
			}
		})
	}
}

func TestParseTestRequest(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		payload string
		jobKey  string
		wantErr bool
	}{
		{name: "valid", payload: `{"job_key": "test_notification_xyz"}`, jobKey: "test_notification_xyz"},
		{name: "missing key", payload: `{}`, wantErr: true},
		{name: "blank key", payload: `{"job_key": "  "}`, wantErr: true},
		{name: "malformed json", payload: `not json`, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jobKey, err := parseTestRequest(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseTestRequest(%q) accepted, want error", tt.payload)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseTestRequest(%q) error: %v", tt.payload, err)
			}
			if jobKey != tt.jobKey {
				t.Fatalf("parseTestRequest(%q) = %q, want %q", tt.payload, jobKey, tt.jobKey)
			}
		})
	}
}

func TestDispatchRoutesAndDropsMalformed(t *testing.T) {
	t.Parallel()
	h := &recordingHandler{}
	l := testListener(h)
	ctx := context.Background()

	l.dispatch(ctx, ChannelScheduleUpdates, `{"bus_id": 7}`)
	l.dispatch(ctx, ChannelScheduleUpdates, `garbage`)
	l.dispatch(ctx, ChannelTestRequests, `{"job_key": "test_1"}`)
	l.dispatch(ctx, ChannelTestRequests, `{"job_key": ""}`)
	l.dispatch(ctx, "some_other_channel", `{"bus_id": 7}`)

	if len(h.scheduleChanges) != 1 || h.scheduleChanges[0] != 7 {
		t.Fatalf("schedule changes = %v, want [7]", h.scheduleChanges)
	}
	if len(h.testRequests) != 1 || h.testRequests[0] != "test_1" {
		t.Fatalf("test requests = %v, want [test_1]", h.testRequests)
	}
}
