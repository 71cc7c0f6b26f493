package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/procflow/pkg/schema"
)

func contractProcedure() *schema.Procedure {
	return &schema.Procedure{
		ID:   "contract",
		Name: "Contract review",
		Steps: []schema.Step{
			{ID: "check", Action: schema.ActionEvaluateRule, Config: schema.RuleConfig{Expression: "input.amount > 0"}},
			{ID: "legal-review", Title: "Legal review", Action: schema.ActionReview, Assignment: &schema.Assignment{Type: schema.AssignStarter}, Config: schema.ReviewConfig{}},
			{ID: "sign", Action: schema.ActionApproval, Assignment: &schema.Assignment{Type: schema.AssignStarter}, Config: schema.ApprovalConfig{}},
		},
	}
}

func onboardingProcess() *schema.Process {
	return &schema.Process{
		ID:   "onboarding",
		Name: "Onboarding",
		Steps: []schema.ProcessStep{
			{InstanceID: "intake", Type: schema.ProcessStepProcedure, ProcedureID: "contract"},
			{InstanceID: "cool-off", Type: schema.ProcessStepDelay, Delay: &schema.DelaySpec{Duration: "24h"}},
			{InstanceID: "welcome", Type: schema.ProcessStepProcedure, ProcedureID: "welcome-pack"},
		},
	}
}

func nodeByID(m *DiagramModel, id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func TestBuildProcedure(t *testing.T) {
	model, err := BuildProcedure(contractProcedure(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Contract review", model.Title)
	require.Len(t, model.Nodes, 5)
	assert.Equal(t, startID, model.Nodes[0].ID)
	assert.Equal(t, endID, model.Nodes[4].ID)

	assert.Equal(t, NodeKindAuto, nodeByID(model, "check").Kind)
	assert.Equal(t, NodeKindHuman, nodeByID(model, "legal-review").Kind)
	assert.Equal(t, "Legal review\nREVIEW", nodeByID(model, "legal-review").Label)
	assert.Nil(t, nodeByID(model, "check").Status)

	assert.Equal(t, []Edge{
		{From: startID, To: "check"},
		{From: "check", To: "legal-review"},
		{From: "legal-review", To: "sign"},
		{From: "sign", To: endID},
	}, model.Edges)
}

func TestBuildProcedure_RunOverlay(t *testing.T) {
	run := &schema.Run{
		Status:           schema.RunStatusWaitingForUser,
		CurrentStepIndex: 1,
		Logs: []schema.RunLog{
			{StepID: "check", StepIndex: 0, Outcome: schema.OutcomeSuccess, ExecutedBy: schema.SystemActor},
			{StepID: "legal-review", StepIndex: 1, Outcome: schema.OutcomePending, ExecutedBy: "alice"},
		},
	}
	model, err := BuildProcedure(contractProcedure(), run)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, nodeByID(model, "check").Status.Status)
	review := nodeByID(model, "legal-review").Status
	assert.Equal(t, StatusWaiting, review.Status)
	assert.Equal(t, "alice", review.Actor)
	assert.Equal(t, StatusPending, nodeByID(model, "sign").Status.Status)
}

func TestBuildProcedure_FlaggedRun(t *testing.T) {
	run := &schema.Run{
		Status:           schema.RunStatusFlagged,
		CurrentStepIndex: 1,
		FlagReason:       "assignment unresolved",
		Logs:             []schema.RunLog{{StepID: "check", StepIndex: 0, Outcome: schema.OutcomeSuccess}},
	}
	model, err := BuildProcedure(contractProcedure(), run)
	require.NoError(t, err)

	review := nodeByID(model, "legal-review").Status
	assert.Equal(t, StatusFlagged, review.Status)
	assert.Equal(t, "assignment unresolved", review.Error)
}

func TestBuildProcess(t *testing.T) {
	pr := &schema.ProcessRun{
		Status:           schema.ProcessRunStatusWaitingDelay,
		CurrentStepIndex: 1,
		StepHistory: []schema.StepHistoryEntry{
			{InstanceID: "intake", Index: 0, Status: schema.HistoryStatusCompleted},
			{InstanceID: "cool-off", Index: 1, Status: schema.HistoryStatusWaiting},
		},
	}
	model, err := BuildProcess(onboardingProcess(), pr)
	require.NoError(t, err)

	intake := nodeByID(model, "intake")
	assert.Equal(t, NodeKindProcedure, intake.Kind)
	assert.Equal(t, "contract", intake.Label)
	assert.Equal(t, StatusCompleted, intake.Status.Status)

	delay := nodeByID(model, "cool-off")
	assert.Equal(t, NodeKindDelay, delay.Kind)
	assert.Equal(t, "wait 24h", delay.Label)
	assert.Equal(t, StatusWaiting, delay.Status.Status)

	assert.Equal(t, StatusPending, nodeByID(model, "welcome").Status.Status)
}

func TestBuild_Nil(t *testing.T) {
	_, err := BuildProcedure(nil, nil)
	assert.Error(t, err)
	_, err = BuildProcess(nil, nil)
	assert.Error(t, err)
}

func TestRenderMermaid(t *testing.T) {
	run := &schema.Run{Logs: []schema.RunLog{{StepIndex: 0, Outcome: schema.OutcomeSuccess}}}
	model, err := BuildProcedure(contractProcedure(), run)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, "graph TD")
	assert.Contains(t, output, "%% Contract review")
	assert.Contains(t, output, `check["EVALUATE_RULE"]`)
	assert.Contains(t, output, `legal_review[/"Legal review<br/>REVIEW"/]`)
	assert.Contains(t, output, "__start__((")
	assert.Contains(t, output, "check --> legal_review")
	assert.Contains(t, output, "class check completed")
	assert.Contains(t, output, "class sign pending")
}

func TestRenderMermaid_Process(t *testing.T) {
	model, err := BuildProcess(onboardingProcess(), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, `intake[["contract"]]`)
	assert.Contains(t, output, `cool_off(["wait 24h"])`)
	assert.NotContains(t, output, "class intake")
}

func TestRenderASCII(t *testing.T) {
	run := &schema.Run{
		Status:           schema.RunStatusWaitingForUser,
		CurrentStepIndex: 1,
		Logs: []schema.RunLog{
			{StepIndex: 0, Outcome: schema.OutcomeSuccess},
			{StepIndex: 1, Outcome: schema.OutcomePending, ExecutedBy: "alice"},
		},
	}
	model, err := BuildProcedure(contractProcedure(), run)
	require.NoError(t, err)

	output := RenderASCII(model)
	assert.Contains(t, output, "=== Contract review ===")
	assert.Contains(t, output, "EVALUATE_RULE")
	assert.Contains(t, output, "Legal review (human)")
	assert.Contains(t, output, "[OK]")
	assert.Contains(t, output, "[WAIT]")
	assert.Contains(t, output, "by alice")
	assert.Contains(t, output, "▼")
}

func TestMakeBox_Aligned(t *testing.T) {
	lines := makeBox(&Node{Label: "Legal review\nREVIEW", Kind: NodeKindAuto})
	require.Len(t, lines, 4)
	width := len([]rune(lines[0]))
	for _, l := range lines {
		assert.Equal(t, width, len([]rune(l)), l)
	}
}

func TestRenderImage(t *testing.T) {
	if testing.Short() {
		t.Skip("graphviz rendering is slow")
	}
	model, err := BuildProcess(onboardingProcess(), nil)
	require.NoError(t, err)

	png, err := RenderImage(context.Background(), model)
	require.NoError(t, err)
	require.Greater(t, len(png), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
