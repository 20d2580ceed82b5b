package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// memStore is an in-memory store whose conditional updates mirror the SQL
// repositories, so races can be exercised without a database.
type memStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	messages  []*model.CampaignMessage
	groups    map[string]*model.ClientGroup
	members   map[string][]model.Customer
}

func newMemStore() *memStore {
	return &memStore{
		campaigns: map[string]*model.Campaign{},
		groups:    map[string]*model.ClientGroup{},
		members:   map[string][]model.Customer{},
	}
}

func (s *memStore) campaignRepo() *memCampaigns { return &memCampaigns{s} }
func (s *memStore) messageRepo() *memMessages   { return &memMessages{s} }
func (s *memStore) groupRepo() *memGroups       { return &memGroups{s} }

func (s *memStore) addGroup(id string, members ...model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[id] = &model.ClientGroup{ID: id, Name: "group " + id}
	s.members[id] = append(s.members[id], members...)
}

func (s *memStore) put(c *model.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = clone(c)
}

func (s *memStore) putMessages(msgs ...*model.CampaignMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		cp := *m
		s.messages = append(s.messages, &cp)
	}
}

func (s *memStore) campaign(id string) *model.Campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok {
		return clone(c)
	}
	return nil
}

func (s *memStore) messagesFor(campaignID string) []model.CampaignMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CampaignMessage
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			out = append(out, *m)
		}
	}
	return out
}

func (s *memStore) statsLocked(campaignID string) model.MessageStats {
	var st model.MessageStats
	for _, m := range s.messages {
		if m.CampaignID == campaignID {
			st.Add(m.Status, 1)
		}
	}
	return st
}

func clone(c *model.Campaign) *model.Campaign {
	cp := *c
	cp.Variations = append([]string(nil), c.Variations...)
	return &cp
}

func leaseFree(c *model.Campaign, now time.Time) bool {
	return c.DrainLeaseUntil == nil || !c.DrainLeaseUntil.After(now)
}

// ---------------- campaigns ----------------

type memCampaigns struct{ s *memStore }

var _ repository.CampaignRepositoryInterface = (*memCampaigns)(nil)

func (r *memCampaigns) Create(_ context.Context, c *model.Campaign) error {
	r.s.put(c)
	return nil
}

func (r *memCampaigns) Update(_ context.Context, c *model.Campaign, allowSent bool) (bool, error) {
	return r.cas(c.ID,
		func(cur *model.Campaign) bool {
			return cur.IsEditable() && (allowSent || r.s.statsLocked(c.ID).Sent == 0)
		},
		func(cur *model.Campaign) {
			cur.Title, cur.GroupID, cur.Message, cur.MediaURL = c.Title, c.GroupID, c.Message, c.MediaURL
			cur.Variations = append([]string(nil), c.Variations...)
		},
	), nil
}

func (r *memCampaigns) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	if c := r.s.campaign(id); c != nil {
		return c, nil
	}
	return nil, appErrors.NewCampaignNotFound(id)
}

func (r *memCampaigns) ListCampaigns(_ context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	all, _ := r.list(func(c *model.Campaign) bool { return status == "" || c.Status == status })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *memCampaigns) ListDue(_ context.Context, now time.Time) ([]*model.Campaign, error) {
	return r.list(func(c *model.Campaign) bool {
		return c.Status == model.CampaignStatusScheduled && (c.ScheduledFor == nil || !c.ScheduledFor.After(now))
	})
}

func (r *memCampaigns) ListByStatus(_ context.Context, status string) ([]*model.Campaign, error) {
	return r.list(func(c *model.Campaign) bool { return c.Status == status })
}

func (r *memCampaigns) list(keep func(*model.Campaign) bool) ([]*model.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.s.campaigns {
		if keep(c) {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memCampaigns) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.campaigns[id]
	if !ok || !c.IsDeletable() {
		return false, nil
	}
	delete(r.s.campaigns, id)
	r.s.dropMessagesLocked(id)
	return true, nil
}

func (s *memStore) dropMessagesLocked(campaignID string) {
	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.CampaignID != campaignID {
			kept = append(kept, m)
		}
	}
	s.messages = kept
}

func (r *memCampaigns) cas(id string, ok func(*model.Campaign) bool, apply func(*model.Campaign)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, found := r.s.campaigns[id]
	if !found || !ok(c) {
		return false
	}
	apply(c)
	return true
}

func (r *memCampaigns) Schedule(_ context.Context, id string, at, _ time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool {
			return c.Status == model.CampaignStatusDraft || c.Status == model.CampaignStatusScheduled
		},
		func(c *model.Campaign) { c.Status = model.CampaignStatusScheduled; c.ScheduledFor = &at },
	), nil
}

func (r *memCampaigns) Unschedule(_ context.Context, id string, _ time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool { return c.Status == model.CampaignStatusScheduled },
		func(c *model.Campaign) { c.Status = model.CampaignStatusDraft; c.ScheduledFor = nil },
	), nil
}

func (r *memCampaigns) TransitionStatus(_ context.Context, id, from, to string, _ time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool { return c.Status == from },
		func(c *model.Campaign) { c.Status = to },
	), nil
}

func (r *memCampaigns) Activate(ctx context.Context, id string, now time.Time, materialize repository.MaterializeFunc) (bool, error) {
	var snapshot *model.Campaign
	claimed := r.cas(id,
		func(c *model.Campaign) bool {
			return c.Status == model.CampaignStatusScheduled && (c.ScheduledFor == nil || !c.ScheduledFor.After(now))
		},
		func(c *model.Campaign) { c.Status = model.CampaignStatusProcessing; snapshot = clone(c) },
	)
	if !claimed {
		return false, nil
	}

	msgs, err := materialize(ctx, snapshot)

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err != nil {
		r.s.campaigns[id].Status = model.CampaignStatusScheduled
		return false, err
	}
	seen := map[string]bool{}
	for _, m := range r.s.messages {
		if m.CampaignID == id {
			seen[m.Phone] = true
		}
	}
	for _, m := range msgs {
		if seen[m.Phone] {
			continue
		}
		seen[m.Phone] = true
		cp := *m
		cp.CreatedAt = now
		r.s.messages = append(r.s.messages, &cp)
	}
	return true, nil
}

func (r *memCampaigns) Complete(_ context.Context, id string, now time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool {
			return c.Status == model.CampaignStatusProcessing && r.s.statsLocked(id).Pending == 0
		},
		func(c *model.Campaign) {
			c.Status = model.CampaignStatusCompleted
			c.CompletedAt = &now
			c.DrainOwner, c.DrainLeaseUntil = nil, nil
		},
	), nil
}

func (r *memCampaigns) MarkFailed(_ context.Context, id string, now time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool {
			return c.Status == model.CampaignStatusProcessing && leaseFree(c, now) && r.s.statsLocked(id).Sent > 0
		},
		func(c *model.Campaign) {
			c.Status = model.CampaignStatusFailed
			c.CompletedAt = &now
			c.DrainOwner, c.DrainLeaseUntil = nil, nil
		},
	), nil
}

func (r *memCampaigns) ResetToDraft(_ context.Context, id string, now time.Time) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool {
			return c.Status == model.CampaignStatusProcessing && leaseFree(c, now) && r.s.statsLocked(id).Sent == 0
		},
		func(c *model.Campaign) {
			c.Status = model.CampaignStatusDraft
			c.ScheduledFor = nil
			c.DrainOwner, c.DrainLeaseUntil = nil, nil
			r.s.dropMessagesLocked(id)
		},
	), nil
}

func (r *memCampaigns) ClaimDrain(_ context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool { return c.Status == model.CampaignStatusProcessing && leaseFree(c, now) },
		func(c *model.Campaign) {
			until := now.Add(ttl)
			c.DrainOwner, c.DrainLeaseUntil = &owner, &until
		},
	), nil
}

func (r *memCampaigns) ExtendDrain(_ context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	return r.cas(id,
		func(c *model.Campaign) bool { return c.DrainOwner != nil && *c.DrainOwner == owner },
		func(c *model.Campaign) {
			until := now.Add(ttl)
			c.DrainLeaseUntil = &until
		},
	), nil
}

func (r *memCampaigns) ReleaseDrain(_ context.Context, id, owner string) error {
	r.cas(id,
		func(c *model.Campaign) bool { return c.DrainOwner != nil && *c.DrainOwner == owner },
		func(c *model.Campaign) { c.DrainOwner, c.DrainLeaseUntil = nil, nil },
	)
	return nil
}

// ---------------- messages ----------------

type memMessages struct{ s *memStore }

var _ repository.CampaignMessageRepositoryInterface = (*memMessages)(nil)

func (r *memMessages) NextPending(_ context.Context, campaignID string, limit int) ([]*model.CampaignMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pending []*model.CampaignMessage
	for _, m := range r.s.messages {
		if m.CampaignID == campaignID && m.Status == model.MessageStatusPending {
			cp := *m
			pending = append(pending, &cp)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		if !pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].CreatedAt.Before(pending[j].CreatedAt)
		}
		return pending[i].Seq < pending[j].Seq
	})
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (r *memMessages) update(id string, apply func(*model.CampaignMessage)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id && m.Status == model.MessageStatusPending {
			apply(m)
			return true
		}
	}
	return false
}

func (r *memMessages) MarkSent(_ context.Context, id string, sentAt time.Time) (bool, error) {
	return r.update(id, func(m *model.CampaignMessage) {
		m.Status = model.MessageStatusSent
		m.SentAt = &sentAt
	}), nil
}

func (r *memMessages) MarkFailed(_ context.Context, id string, detail string) (bool, error) {
	return r.update(id, func(m *model.CampaignMessage) {
		m.Status = model.MessageStatusFailed
		m.ErrorDetail = &detail
	}), nil
}

func (r *memMessages) Stats(_ context.Context, campaignID string) (model.MessageStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.statsLocked(campaignID), nil
}

func (r *memMessages) StatsForCampaigns(_ context.Context, ids []string) (map[string]model.MessageStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]model.MessageStats, len(ids))
	for _, id := range ids {
		out[id] = r.s.statsLocked(id)
	}
	return out, nil
}

func (r *memMessages) ListByCampaign(_ context.Context, campaignID, status string, offset, limit int) ([]*model.CampaignMessage, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []*model.CampaignMessage
	for _, m := range r.s.messages {
		if m.CampaignID == campaignID && (status == "" || m.Status == status) {
			cp := *m
			all = append(all, &cp)
		}
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

// ---------------- groups ----------------

type memGroups struct{ s *memStore }

func (r *memGroups) GetGroup(_ context.Context, id string) (*model.ClientGroup, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.groups[id], nil
}

func (r *memGroups) ListMembers(_ context.Context, groupID string) ([]model.Customer, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]model.Customer(nil), r.s.members[groupID]...), nil
}
