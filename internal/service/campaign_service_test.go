package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcampaign/internal/models"
	"mailcampaign/internal/repository/repotest"
)

// fakeScheduler records scheduled campaigns without running them
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []int
	err       error
}

func (f *fakeScheduler) Schedule(_ context.Context, campaignID int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.scheduled = append(f.scheduled, campaignID)
	return "run-1", nil
}

func (f *fakeScheduler) calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.scheduled...)
}

func setupCampaignService(t *testing.T) (*CampaignService, *repotest.Store, *fakeScheduler) {
	t.Helper()
	store := repotest.NewStore()
	scheduler := &fakeScheduler{}
	return NewCampaignService(store, scheduler), store, scheduler
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestCreateCampaign_PersistsPendingWithQueuedRecipients(t *testing.T) {
	svc, _, _ := setupCampaignService(t)

	detail, err := svc.CreateCampaign(context.Background(), &CreateCampaignRequest{
		Title: "Q1",
		Recipients: []RecipientInput{
			{Name: "A", Email: "a@x.io"},
			{},
			{Name: "B", Email: "b@x.io"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Q1", detail.Title)
	assert.Equal(t, models.CampaignStatusPending, detail.Status)
	assert.Equal(t, 2, detail.Stats.Total)
	assert.Equal(t, 0, detail.Stats.ProgressPercentage())
	require.Len(t, detail.Recipients, 2)
	assert.Equal(t, "A", detail.Recipients[0].Name)
	assert.Equal(t, "B", detail.Recipients[1].Name)
	for _, r := range detail.Recipients {
		assert.Equal(t, models.RecipientStatusQueued, r.Status)
	}
}

func TestCreateCampaign_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   CreateCampaignRequest
		wants []string
	}{
		{
			name:  "empty title",
			req:   CreateCampaignRequest{Title: "", Recipients: []RecipientInput{{Name: "A", Email: "a@x.io"}}},
			wants: []string{"title can't be blank"},
		},
		{
			name:  "no recipients",
			req:   CreateCampaignRequest{Title: "Q1", Recipients: []RecipientInput{{}, {Name: " ", Email: ""}}},
			wants: []string{"at least one recipient is required"},
		},
		{
			name: "collects every problem",
			req: CreateCampaignRequest{Title: " ", Recipients: []RecipientInput{
				{Name: "", Email: "a@x.io"},
				{Name: "B", Email: "nope"},
			}},
			wants: []string{"title can't be blank", "recipient 1: name can't be blank", "recipient 2: email is invalid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := setupCampaignService(t)

			_, err := svc.CreateCampaign(context.Background(), &tt.req)

			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			for _, want := range tt.wants {
				assert.Contains(t, validationErr.Message, want)
			}
			assert.Equal(t, 0, store.CampaignCount())
			assert.Equal(t, 0, store.RecipientCount())
		})
	}
}

func TestCreateCampaign_RollsBackOnFailure(t *testing.T) {
	svc, store, _ := setupCampaignService(t)

	inserted := 0
	store.BeforeCreateRecipient = func(*models.Recipient) error {
		inserted++
		if inserted == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := svc.CreateCampaign(context.Background(), &CreateCampaignRequest{
		Title:      "Atomic",
		Recipients: []RecipientInput{{Name: "A", Email: "a@x.io"}, {Name: "B", Email: "b@x.io"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, store.CampaignCount())
	assert.Equal(t, 0, store.RecipientCount())
}

func TestGetCampaign_NotFound(t *testing.T) {
	svc, _, _ := setupCampaignService(t)

	_, err := svc.GetCampaign(context.Background(), 12)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "campaign", notFound.Resource)
}

func TestListCampaigns_NewestFirst(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	store.SeedCampaign("Older", models.CampaignStatusPending, 1)
	store.SeedCampaign("Newer", models.CampaignStatusPending, 2)

	campaigns, err := svc.ListCampaigns(context.Background())
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "Newer", campaigns[0].Title)
	assert.Equal(t, 2, campaigns[0].Stats.Total)
}

func TestUpdateCampaign_NestedRecipients(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, recipients := store.SeedCampaign("Draft", models.CampaignStatusPending, 3)

	detail, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Title: strPtr("Final"),
		Recipients: []RecipientInput{
			{ID: intPtr(recipients[0].ID), Name: "Renamed", Email: "renamed@example.com"},
			{ID: intPtr(recipients[1].ID), Destroy: true},
			{Name: "New", Email: "new@example.com"},
			{},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "Final", detail.Title)
	require.Len(t, detail.Recipients, 3)
	assert.Equal(t, "Renamed", detail.Recipients[0].Name)
	assert.Equal(t, recipients[2].ID, detail.Recipients[1].ID)
	assert.Equal(t, "New", detail.Recipients[2].Name)
	assert.Equal(t, models.RecipientStatusQueued, detail.Recipients[2].Status)
}

func TestUpdateCampaign_RecipientChangesRequirePending(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, _ := store.SeedCampaign("Running", models.CampaignStatusProcessing, 1)

	_, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Recipients: []RecipientInput{{Name: "New", Email: "new@example.com"}},
	})

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, store.RecipientCount())

	// a title-only change is still allowed
	detail, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{Title: strPtr("Renamed")})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", detail.Title)
	assert.Equal(t, models.CampaignStatusProcessing, detail.Status)
}

func TestUpdateCampaign_ForeignRecipientRollsBack(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, _ := store.SeedCampaign("Mine", models.CampaignStatusPending, 1)
	_, others := store.SeedCampaign("Theirs", models.CampaignStatusPending, 1)

	_, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Title: strPtr("Changed"),
		Recipients: []RecipientInput{
			{ID: intPtr(others[0].ID), Destroy: true},
		},
	})

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "recipient", notFound.Resource)

	got, _ := store.Campaigns().GetByID(context.Background(), campaign.ID)
	assert.Equal(t, "Mine", got.Title)
	assert.Equal(t, 2, store.RecipientCount())
}

func TestUpdateCampaign_CannotRemoveLastRecipient(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, recipients := store.SeedCampaign("Lonely", models.CampaignStatusPending, 1)

	_, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Title:      strPtr("Empty"),
		Recipients: []RecipientInput{{ID: intPtr(recipients[0].ID), Destroy: true}},
	})

	var business *BusinessLogicError
	require.ErrorAs(t, err, &business)
	assert.Equal(t, 1, store.RecipientCount())
	got, _ := store.Campaigns().GetByID(context.Background(), campaign.ID)
	assert.Equal(t, "Lonely", got.Title)

	// replacing the last recipient in the same request is fine
	detail, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Recipients: []RecipientInput{
			{ID: intPtr(recipients[0].ID), Destroy: true},
			{Name: "Replacement", Email: "replacement@example.com"},
		},
	})
	require.NoError(t, err)
	require.Len(t, detail.Recipients, 1)
	assert.Equal(t, "Replacement", detail.Recipients[0].Name)
}

func TestUpdateCampaign_Validation(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, _ := store.SeedCampaign("Draft", models.CampaignStatusPending, 1)

	_, err := svc.UpdateCampaign(context.Background(), campaign.ID, &UpdateCampaignRequest{
		Title:      strPtr(""),
		Recipients: []RecipientInput{{Name: "X", Email: "bad"}},
	})

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Message, "title can't be blank")
	assert.Contains(t, validationErr.Message, "recipient 1: email is invalid")
}

func TestDeleteCampaign(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, _ := store.SeedCampaign("Gone", models.CampaignStatusPending, 3)

	require.NoError(t, svc.DeleteCampaign(context.Background(), campaign.ID))
	assert.Equal(t, 0, store.CampaignCount())
	assert.Equal(t, 0, store.RecipientCount())

	var notFound *NotFoundError
	assert.ErrorAs(t, svc.DeleteCampaign(context.Background(), campaign.ID), &notFound)
}

func TestListRecipients(t *testing.T) {
	svc, store, _ := setupCampaignService(t)
	campaign, seeded := store.SeedCampaign("List", models.CampaignStatusPending, 2)

	recipients, err := svc.ListRecipients(context.Background(), campaign.ID)
	require.NoError(t, err)
	require.Len(t, recipients, 2)
	assert.Equal(t, seeded[0].ID, recipients[0].ID)

	_, err = svc.ListRecipients(context.Background(), 999)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestRequestDispatch_Pending(t *testing.T) {
	svc, store, scheduler := setupCampaignService(t)
	campaign, _ := store.SeedCampaign("Go", models.CampaignStatusPending, 2)

	result, err := svc.RequestDispatch(context.Background(), campaign.ID)
	require.NoError(t, err)

	assert.Equal(t, MsgDispatchStarted, result.Message)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, []int{campaign.ID}, scheduler.calls())

	// the trigger itself does not change state
	got, _ := store.Campaigns().GetByID(context.Background(), campaign.ID)
	assert.Equal(t, models.CampaignStatusPending, got.Status)
}

func TestRequestDispatch_AlreadyDispatched(t *testing.T) {
	for _, status := range []models.CampaignStatus{models.CampaignStatusProcessing, models.CampaignStatusCompleted} {
		t.Run(status.String(), func(t *testing.T) {
			svc, store, scheduler := setupCampaignService(t)
			campaign, _ := store.SeedCampaign("Old", status, 1)
			before, _ := store.Campaigns().GetWithStats(context.Background(), campaign.ID)

			_, err := svc.RequestDispatch(context.Background(), campaign.ID)

			var conflict *ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, MsgAlreadyDispatched, conflict.Message)
			assert.Empty(t, scheduler.calls())

			after, _ := store.Campaigns().GetWithStats(context.Background(), campaign.ID)
			assert.Equal(t, before, after)
		})
	}
}

func TestRequestDispatch_NotFound(t *testing.T) {
	svc, _, scheduler := setupCampaignService(t)

	_, err := svc.RequestDispatch(context.Background(), 77)

	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Empty(t, scheduler.calls())
}

func TestRequestDispatch_SchedulerError(t *testing.T) {
	svc, store, scheduler := setupCampaignService(t)
	scheduler.err = ErrSchedulerClosed
	campaign, _ := store.SeedCampaign("Late", models.CampaignStatusPending, 1)

	_, err := svc.RequestDispatch(context.Background(), campaign.ID)
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestRequestDispatch_EndToEnd(t *testing.T) {
	store := repotest.NewStore()
	d := NewDispatcher(store, DelayFunc(noDelay), FailureDeciderFunc(never), nil,
		WithSleep(func(time.Duration) {}))
	scheduler := NewAsyncScheduler(d)
	svc := NewCampaignService(store, scheduler)

	detail, err := svc.CreateCampaign(context.Background(), &CreateCampaignRequest{
		Title:      "Launch",
		Recipients: []RecipientInput{{Name: "A", Email: "a@x.io"}, {Name: "B", Email: "b@x.io"}},
	})
	require.NoError(t, err)

	_, err = svc.RequestDispatch(context.Background(), detail.ID)
	require.NoError(t, err)
	scheduler.Wait()

	got, err := svc.GetCampaign(context.Background(), detail.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Stats.ProgressPercentage())

	// a second request is rejected now that the campaign has run
	_, err = svc.RequestDispatch(context.Background(), detail.ID)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}
