package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/pkg/schema"
)

// runStoreSuite exercises the Store contract against any implementation.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ProcedureRoundTrip", func(t *testing.T) { testProcedureRoundTrip(t, newStore(t)) })
	t.Run("ProcedureFilters", func(t *testing.T) { testProcedureFilters(t, newStore(t)) })
	t.Run("RunVersioning", func(t *testing.T) { testRunVersioning(t, newStore(t)) })
	t.Run("ListRuns", func(t *testing.T) { testListRuns(t, newStore(t)) })
	t.Run("Tasks", func(t *testing.T) { testTasks(t, newStore(t)) })
	t.Run("ProcessRuns", func(t *testing.T) { testProcessRuns(t, newStore(t)) })
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

func sampleProcedure(org string) *schema.Procedure {
	return &schema.Procedure{
		ID:        uuid.New().String(),
		OrgID:     org,
		Name:      "Invoice approval",
		Version:   1,
		OwnerID:   "owner-1",
		Published: true,
		Active:    true,
		Steps: []schema.Step{
			{
				ID: "s1", Title: "Fill form", Action: schema.ActionFormInput,
				Assignment: &schema.Assignment{Type: schema.AssignStarter},
				Config:     schema.FormInputConfig{Fields: []schema.FormField{{Name: "amount", Required: true}}},
			},
			{
				ID: "s2", Title: "Notify", Action: schema.ActionSendNotification,
				Config: schema.NotificationConfig{Recipient: "ops@example.com", Message: "amount {{step_1.output.amount}}"},
			},
		},
	}
}

func sampleRun(org, procedureID string) *schema.Run {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &schema.Run{
		ID:          uuid.New().String(),
		OrgID:       org,
		ProcedureID: procedureID,
		StartedBy:   "u1",
		Status:      schema.RunStatusInProgress,
		Steps:       sampleProcedure(org).Steps,
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

func testProcedureRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	p := sampleProcedure("org-1")
	require.NoError(t, s.SaveProcedure(ctx, p))

	got, err := s.GetProcedure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	require.Len(t, got.Steps, 2)
	cfg, ok := got.Steps[0].Config.(schema.FormInputConfig)
	require.True(t, ok, "got %T", got.Steps[0].Config)
	assert.True(t, cfg.Fields[0].Required)

	p.Name = "Renamed"
	require.NoError(t, s.SaveProcedure(ctx, p))
	got, err = s.GetProcedure(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}

func testProcedureFilters(t *testing.T, s Store) {
	ctx := context.Background()

	manual := sampleProcedure("org-1")
	onFile := sampleProcedure("org-1")
	onFile.Trigger = &schema.Trigger{Type: schema.TriggerOnFileCreated, FolderPath: "/Invoices"}
	inactive := sampleProcedure("org-1")
	inactive.Trigger = &schema.Trigger{Type: schema.TriggerOnFileCreated, FolderPath: "/Other"}
	inactive.Active = false
	other := sampleProcedure("org-2")

	for _, p := range []*schema.Procedure{manual, onFile, inactive, other} {
		require.NoError(t, s.SaveProcedure(ctx, p))
	}

	got, err := s.ListProcedures(ctx, ProcedureFilter{
		TriggerType: schema.TriggerOnFileCreated,
		Published:   BoolPtr(true),
		Active:      BoolPtr(true),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, onFile.ID, got[0].ID)

	got, err = s.ListProcedures(ctx, ProcedureFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func testRunVersioning(t *testing.T, s Store) {
	ctx := context.Background()
	run := sampleRun("org-1", "p1")
	require.NoError(t, s.CreateRun(ctx, run))

	loaded, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), loaded.Version)

	stale, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)

	loaded.Status = schema.RunStatusWaitingForUser
	loaded.CurrentAssigneeID = "u1"
	require.NoError(t, s.UpdateRun(ctx, loaded))
	assert.Equal(t, int64(1), loaded.Version)

	stale.Status = schema.RunStatusFlagged
	err = s.UpdateRun(ctx, stale)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))
	assert.Equal(t, int64(0), stale.Version)

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaitingForUser, got.Status)
	assert.Equal(t, int64(1), got.Version)

	missing := sampleRun("org-1", "p1")
	err = s.UpdateRun(ctx, missing)
	assert.True(t, schema.IsNotFound(err))
}

func testListRuns(t *testing.T, s Store) {
	ctx := context.Background()
	r1 := sampleRun("org-1", "p1")
	r2 := sampleRun("org-1", "p2")
	r2.ProcessRunID = "pr-1"
	r2.Status = schema.RunStatusCompleted
	require.NoError(t, s.CreateRun(ctx, r1))
	require.NoError(t, s.CreateRun(ctx, r2))

	done := schema.RunStatusCompleted
	got, err := s.ListRuns(ctx, RunFilter{OrgID: "org-1", Status: &done})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r2.ID, got[0].ID)

	got, err = s.ListRuns(ctx, RunFilter{ProcessRunID: "pr-1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func testTasks(t *testing.T, s Store) {
	ctx := context.Background()
	task := &schema.UserTask{
		ID:         uuid.New().String(),
		RunID:      "r1",
		OrgID:      "org-1",
		StepID:     "s1",
		StepTitle:  "Fill form",
		AssigneeID: "u1",
		Status:     schema.TaskStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreateTask(ctx, task))

	dup := *task
	dup.ID = uuid.New().String()
	err := s.CreateTask(ctx, &dup)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	pending := schema.TaskStatusPending
	list, err := s.ListTasks(ctx, TaskFilter{AssigneeID: "u1", Status: &pending})
	require.NoError(t, err)
	require.Len(t, list, 1)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.CompleteTask(ctx, "r1", "s1", at))

	got, err := s.GetTask(ctx, "r1", "s1")
	require.NoError(t, err)
	assert.Equal(t, schema.TaskStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, at.Equal(*got.CompletedAt))

	list, err = s.ListTasks(ctx, TaskFilter{AssigneeID: "u1", Status: &pending})
	require.NoError(t, err)
	assert.Empty(t, list)

	err = s.CompleteTask(ctx, "r1", "missing", at)
	assert.True(t, schema.IsNotFound(err))
}

func testProcessRuns(t *testing.T, s Store) {
	ctx := context.Background()
	proc := &schema.Process{
		ID:    uuid.New().String(),
		OrgID: "org-1",
		Name:  "Onboarding",
		Steps: []schema.ProcessStep{
			{InstanceID: "a", Type: schema.ProcessStepProcedure, ProcedureID: "p1"},
			{InstanceID: "b", Type: schema.ProcessStepDelay, Delay: &schema.DelaySpec{Duration: "1h"}},
		},
	}
	require.NoError(t, s.SaveProcess(ctx, proc))
	gotProc, err := s.GetProcess(ctx, proc.ID)
	require.NoError(t, err)
	assert.Equal(t, "1h", gotProc.Steps[1].Delay.Duration)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := &schema.ProcessRun{ID: uuid.New().String(), ProcessID: proc.ID, OrgID: "org-1",
		Status: schema.ProcessRunStatusWaitingDelay, ResumeAt: &past, StartedAt: now}
	later := &schema.ProcessRun{ID: uuid.New().String(), ProcessID: proc.ID, OrgID: "org-1",
		Status: schema.ProcessRunStatusWaitingDelay, ResumeAt: &future, StartedAt: now}
	require.NoError(t, s.CreateProcessRun(ctx, due))
	require.NoError(t, s.CreateProcessRun(ctx, later))

	waiting := schema.ProcessRunStatusWaitingDelay
	list, err := s.ListProcessRuns(ctx, ProcessRunFilter{Status: &waiting, DueBefore: &now})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, due.ID, list[0].ID)

	loaded, err := s.GetProcessRun(ctx, due.ID)
	require.NoError(t, err)
	loaded.Status = schema.ProcessRunStatusRunning
	loaded.ResumeAt = nil
	require.NoError(t, s.UpdateProcessRun(ctx, loaded))

	due.Status = schema.ProcessRunStatusFlagged
	err = s.UpdateProcessRun(ctx, due)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	list, err = s.ListProcessRuns(ctx, ProcessRunFilter{Status: &waiting, DueBefore: &now})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	require.NoError(t, s.UpsertUser(ctx, &schema.User{ID: "u1", OrgID: "org-1", Email: "a@example.com"}))
	require.NoError(t, s.UpsertUser(ctx, &schema.User{ID: "u1", OrgID: "org-1", Email: "b@example.com", DisplayName: "B"}))

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", u.Email)
	assert.Equal(t, "B", u.DisplayName)
}

func testEvents(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		e := &Event{SubjectID: "r1", StepID: "s1", Type: schema.EventStepExecuted,
			Payload: json.RawMessage(`{"outcome":"SUCCESS"}`)}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence)
	}
	require.NoError(t, s.AppendEvent(ctx, &Event{SubjectID: "r2", Type: schema.EventRunStarted}))

	events, err := s.GetEvents(ctx, "r1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.JSONEq(t, `{"outcome":"SUCCESS"}`, string(events[0].Payload))

	events, err = s.GetEvents(ctx, "r2", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].StepID)
	assert.Nil(t, events[0].Payload)
}

func testNotFound(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetProcedure(ctx, "nope")
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetRun(ctx, "nope")
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetTask(ctx, "nope", "s1")
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetProcess(ctx, "nope")
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetProcessRun(ctx, "nope")
	assert.True(t, schema.IsNotFound(err))
	_, err = s.GetUser(ctx, "nope")
	assert.True(t, schema.IsNotFound(err))
}
