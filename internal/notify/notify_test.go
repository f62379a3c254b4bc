package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/banshee-data/speedcam/internal/eventlog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var sample = eventlog.Event{
	Timestamp:   time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC),
	ObjectType:  "car",
	ObjectColor: "red",
	Direction:   "L2R",
	SpeedKMH:    62.4,
	SpeedMPH:    38.8,
	Confidence:  0.91,
	ImageFile:   "20250601_083000_L2R_red_car_62_4km_per_h.jpg",
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	var (
		mu  sync.Mutex
		got []eventlog.Event
	)
	d := NewDispatcher("test", func(_ context.Context, e eventlog.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}, 8, time.Second, nil)

	for i := 0; i < 5; i++ {
		d.HandleEvent(context.Background(), sample)
	}
	d.Close()
	d.Close()
	d.HandleEvent(context.Background(), sample)

	assert.Len(t, got, 5)
}

func TestDispatcherReportsErrors(t *testing.T) {
	var failed []string
	d := NewDispatcher("mqtt", func(context.Context, eventlog.Event) error {
		return errors.New("broker down")
	}, 1, time.Second, func(name string, err error) {
		failed = append(failed, name)
	})
	d.HandleEvent(context.Background(), sample)
	d.Close()

	assert.Equal(t, []string{"mqtt"}, failed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var (
		mu        sync.Mutex
		delivered int
	)
	d := NewDispatcher("slow", func(context.Context, eventlog.Event) error {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
		return nil
	}, 1, time.Second, nil)

	for i := 0; i < 10; i++ {
		d.HandleEvent(context.Background(), sample)
	}
	close(release)
	d.Close()

	assert.LessOrEqual(t, delivered, 2)
	assert.GreaterOrEqual(t, delivered, 1)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mqtt.Client
	connected bool
	token     mqtt.Token
	calls     []publishCall
}

func (c *fakeClient) IsConnected() bool { return c.connected }
func (c *fakeClient) Disconnect(uint)   { c.connected = false }
func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.calls = append(c.calls, publishCall{topic, qos, retained, payload.([]byte)})
	return c.token
}

func TestMQTTPublish(t *testing.T) {
	client := &fakeClient{connected: true, token: doneToken(nil)}
	p := newMQTTPublisher(client, "speedcam/detections", time.Second)

	require.NoError(t, p.Publish(context.Background(), sample))
	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, "speedcam/detections", call.topic)
	assert.Zero(t, call.qos)
	assert.False(t, call.retained)

	var decoded eventlog.Event
	require.NoError(t, json.Unmarshal(call.payload, &decoded))
	assert.Equal(t, sample.ImageFile, decoded.ImageFile)
	assert.Equal(t, sample.SpeedKMH, decoded.SpeedKMH)

	p.Close()
	assert.ErrorIs(t, p.Publish(context.Background(), sample), ErrNotConnected)
}

func TestMQTTPublishError(t *testing.T) {
	client := &fakeClient{connected: true, token: doneToken(errors.New("not authorized"))}
	p := newMQTTPublisher(client, "t", time.Second)
	assert.EqualError(t, p.Publish(context.Background(), sample), "not authorized")
}

func TestMQTTPublishContextDone(t *testing.T) {
	pending := &fakeToken{done: make(chan struct{})}
	client := &fakeClient{connected: true, token: pending}
	p := newMQTTPublisher(client, "t", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, sample), context.Canceled)
}

type fakeSender struct {
	messages []string
	titles   []string
	errs     []error
}

func (s *fakeSender) Send(message string, params *types.Params) []error {
	s.messages = append(s.messages, message)
	title, _ := params.Title()
	s.titles = append(s.titles, title)
	return s.errs
}

func TestViolationNotifier(t *testing.T) {
	sender := &fakeSender{}
	n := newViolationNotifier(sender, 50, false)

	slow := sample
	slow.SpeedKMH = 49.9
	require.NoError(t, n.Notify(context.Background(), slow))
	assert.Empty(t, sender.messages)

	require.NoError(t, n.Notify(context.Background(), sample))
	require.Len(t, sender.messages, 1)
	assert.Equal(t, "red car L2R at 62.4 km/h (limit 50) on 2025-06-01 08:30:00", sender.messages[0])
	assert.Equal(t, "Speeding vehicle", sender.titles[0])
}

func TestViolationNotifierMPHAndErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{nil, errors.New("rate limited")}}
	n := newViolationNotifier(sender, 50, true)

	err := n.Notify(context.Background(), sample)
	assert.ErrorContains(t, err, "rate limited")
	assert.Contains(t, sender.messages[0], "38.8 mph (limit 31)")
}

func TestViolationNotifierDisabled(t *testing.T) {
	n := newViolationNotifier(&fakeSender{}, 0, false)
	assert.False(t, n.Exceeds(sample))
}

func TestInitSentryWithoutDSN(t *testing.T) {
	enabled, err := InitSentry(SentryConfig{})
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestAlertContext(t *testing.T) {
	got := contextOf("write failed", []any{"track", 7, "image", "a.jpg", "dangling"})
	assert.Equal(t, map[string]any{"message": "write failed", "track": 7, "image": "a.jpg"}, got)

	OperatorAlerter{Component: "pipeline"}.Alert(errors.New("boom"), "write failed", "track", 7)
}
