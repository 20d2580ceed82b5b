package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/gateway"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSender records every delivery attempt. fail decides per message
// whether the gateway rejects it; onSend runs before the result is returned.
type fakeSender struct {
	mu     sync.Mutex
	sent   []gateway.Message
	fail   func(gateway.Message) error
	onSend func(gateway.Message)
}

func (s *fakeSender) Send(_ context.Context, msg gateway.Message) error {
	if s.onSend != nil {
		s.onSend(msg)
	}
	if s.fail != nil {
		if err := s.fail(msg); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) delivered() []gateway.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Message(nil), s.sent...)
}

func (s *fakeSender) phones() []string {
	var out []string
	for _, m := range s.delivered() {
		out = append(out, m.Phone)
	}
	return out
}

type settingsFunc func(ctx context.Context) (gateway.Settings, error)

func (f settingsFunc) GatewaySettings(ctx context.Context) (gateway.Settings, error) { return f(ctx) }

type harness struct {
	store      *memStore
	clock      *fakeClock
	sender     *fakeSender
	svc        *service.CampaignService
	dispatcher *service.Dispatcher
	recovery   *service.Recovery
}

func newHarness(t *testing.T, batchSize int) *harness {
	t.Helper()

	h := &harness{store: newMemStore(), clock: newFakeClock(), sender: &fakeSender{}}
	log := zerolog.Nop()

	h.svc = &service.CampaignService{
		CampaignRepo: h.store.campaignRepo(),
		MessageRepo:  h.store.messageRepo(),
		GroupRepo:    h.store.groupRepo(),
		Resolver: &service.AudienceResolver{
			Groups:          h.store.groupRepo(),
			CountryCode:     "55",
			NationalLengths: []int{10, 11},
		},
		Clock: h.clock,
		Log:   log,
	}
	h.dispatcher = &service.Dispatcher{
		Campaigns: h.svc,
		Settings: settingsFunc(func(context.Context) (gateway.Settings, error) {
			return gateway.Settings{BaseURL: "http://gateway.test", APIKey: "k"}, nil
		}),
		NewSender: func(gateway.Settings) service.MessageSender { return h.sender },
		BatchSize: batchSize,
		LeaseTTL:  2 * time.Minute,
		Clock:     h.clock,
		Log:       log,
	}
	h.recovery = &service.Recovery{Campaigns: h.svc, Clock: h.clock, Log: log}
	return h
}

// group creates a client group with n members whose phones normalize to
// distinct numbers.
func (h *harness) group(n int) string {
	id := uuid.NewString()
	members := make([]model.Customer, n)
	for i := range members {
		members[i] = model.Customer{ID: uuid.NewString(), Name: fmt.Sprintf("customer %d", i), Phone: phone(i)}
	}
	h.store.addGroup(id, members...)
	return id
}

func phone(i int) string {
	return fmt.Sprintf("(11) 9%04d-%04d", i, i)
}

func normalized(i int) string {
	return fmt.Sprintf("55119%04d%04d", i, i)
}

// scheduled creates a campaign for a fresh n-member group and schedules it
// for immediate sending.
func (h *harness) scheduled(t *testing.T, n int, variations ...string) *model.Campaign {
	t.Helper()
	c, err := h.svc.CreateCampaign(context.Background(), service.CampaignInput{
		Title:      "Weekend promo",
		GroupID:    h.group(n),
		Message:    "Promo!",
		Variations: variations,
	})
	require.NoError(t, err)
	c, err = h.svc.ScheduleCampaign(context.Background(), c.ID, nil)
	require.NoError(t, err)
	return c
}

func (h *harness) tick(t *testing.T) *service.TickSummary {
	t.Helper()
	summary, err := h.dispatcher.Tick(context.Background())
	require.NoError(t, err)
	return summary
}

// processing seeds a campaign already in processing with the given message
// statuses, bypassing activation.
func (h *harness) processing(t *testing.T, statuses ...string) *model.Campaign {
	t.Helper()
	at := h.clock.Now()
	c := &model.Campaign{
		ID:           uuid.NewString(),
		Title:        "stuck",
		GroupID:      uuid.NewString(),
		Message:      "Promo!",
		Status:       model.CampaignStatusProcessing,
		ScheduledFor: &at,
		CreatedAt:    at,
	}
	h.store.put(c)
	for i, st := range statuses {
		h.store.putMessages(&model.CampaignMessage{
			ID:         uuid.NewString(),
			CampaignID: c.ID,
			Phone:      normalized(i),
			Text:       "Promo!",
			Seq:        i,
			Status:     st,
			CreatedAt:  at,
		})
	}
	return c
}

var errRejected = errors.New("rejected")
